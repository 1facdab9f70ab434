package auth

import (
	"context"
	"time"

	"github.com/coinfolio/backend/internal/logger"
)

// PurgeCounter receives the number of rows removed by each purge
type PurgeCounter interface {
	AddCounter(name string, delta uint64)
}

// RunJanitor purges expired session rows every interval until ctx is done.
// Expired rows already fail verification; purging only reclaims space.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration, counter PurgeCounter) {
	log := logger.Default().WithComponent("session-janitor")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error(ctx, "failed to purge expired sessions", nil, err)
				continue
			}
			if n > 0 {
				log.Info(ctx, "purged expired sessions", map[string]any{"count": n})
				if counter != nil {
					counter.AddCounter("sessions_purged", uint64(n))
				}
			}
		}
	}
}
