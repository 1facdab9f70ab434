package market

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
	minQueryLength     = 2
)

// NormalizeQuery trims a search query, folds compatibility characters and
// strips diacritics. It returns ErrInvalidQuery when fewer than two
// characters remain.
func NormalizeQuery(query string) (string, error) {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	normalized, _, err := transform.String(t, strings.TrimSpace(query))
	if err != nil {
		normalized = strings.TrimSpace(query)
	}
	normalized = strings.Join(strings.Fields(normalized), " ")
	if utf8.RuneCountInString(normalized) < minQueryLength {
		return "", ErrInvalidQuery
	}
	return normalized, nil
}

// ClampSearchLimit maps a requested limit into 1..MaxSearchLimit, using the
// default for unset values
func ClampSearchLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultSearchLimit
	case limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return limit
	}
}

// SearchCoins finds coins matching query by name or symbol
func (g *Gateway) SearchCoins(ctx context.Context, query string, limit int) ([]CoinSummary, error) {
	q, err := NormalizeQuery(query)
	if err != nil {
		return nil, err
	}
	limit = ClampSearchLimit(limit)

	raw, err := g.Request(ctx, "/search", url.Values{
		"q":     {q},
		"c":     {"currencies"},
		"limit": {strconv.Itoa(limit)},
	})
	if err != nil {
		return nil, err
	}

	resp, err := decode[searchResponse](raw)
	if err != nil {
		return nil, err
	}

	results := make([]CoinSummary, 0, len(resp.Currencies))
	for _, c := range resp.Currencies {
		results = append(results, c.toSummary())
		if len(results) == limit {
			break
		}
	}
	return results, nil
}
