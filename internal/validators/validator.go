package validators

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	apperrors "github.com/coinfolio/backend/internal/errors"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

const (
	MinPasswordLength = 8
	// bcrypt ignores input past 72 bytes
	MaxPasswordBytes  = 72
	MinUsernameLength = 3
	MaxUsernameLength = 50
)

// Validator collects per-field problems for one request. Only the first
// problem reported for a field is kept.
type Validator struct {
	fields map[string]string
}

func New() *Validator {
	return &Validator{fields: make(map[string]string)}
}

// Check records message for field when ok is false
func (v *Validator) Check(ok bool, field, message string) {
	if ok {
		return
	}
	if _, exists := v.fields[field]; !exists {
		v.fields[field] = message
	}
}

func (v *Validator) Valid() bool {
	return len(v.fields) == 0
}

// Err returns a VALIDATION_ERROR listing every failing field, or nil
func (v *Validator) Err() error {
	if v.Valid() {
		return nil
	}

	names := make([]string, 0, len(v.fields))
	for name := range v.fields {
		names = append(names, name)
	}
	sort.Strings(names)

	message := v.fields[names[0]]
	if len(names) > 1 {
		message = "request has invalid fields: " + strings.Join(names, ", ")
	}

	fields := make(map[string]any, len(v.fields))
	for k, msg := range v.fields {
		fields[k] = msg
	}
	return apperrors.ValidationError(message).WithDetails(map[string]any{"fields": fields})
}

func Email(v *Validator, field, email string) {
	v.Check(email != "", field, "email is required")
	v.Check(email == "" || emailRegex.MatchString(email), field, "invalid email format")
}

func Password(v *Validator, field, password string) {
	v.Check(password != "", field, "password is required")
	v.Check(password == "" || utf8.RuneCountInString(password) >= MinPasswordLength, field, "password must be at least 8 characters")
	v.Check(len(password) <= MaxPasswordBytes, field, "password must be at most 72 bytes")
}

func Username(v *Validator, field, username string) {
	n := utf8.RuneCountInString(strings.TrimSpace(username))
	v.Check(n > 0, field, "username is required")
	v.Check(n == 0 || n >= MinUsernameLength, field, "username must be at least 3 characters")
	v.Check(n <= MaxUsernameLength, field, "username must be at most 50 characters")
}

func Positive(v *Validator, field string, d decimal.Decimal) {
	v.Check(d.IsPositive(), field, field+" must be greater than 0")
}

func NonNegative(v *Validator, field string, d decimal.Decimal) {
	v.Check(!d.IsNegative(), field, field+" must not be negative")
}

// OneOf checks that value is one of allowed
func OneOf(v *Validator, field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.Check(false, field, field+" must be one of "+strings.Join(allowed, ", "))
}
