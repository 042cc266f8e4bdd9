package challenge

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gatekeeper-auth/gatekeeper/decaymap"
)

// Store holds outstanding captcha answers keyed by challenge ID. It is safe
// for use by any number of goroutines.
//
// A Store lives only as long as the process. It is not shared between
// replicas; running more than one instance behind a load balancer requires
// sticky sessions or a shared expiring key-value service in its place.
type Store struct {
	answers *decaymap.Impl[string, string]
}

// StoreOption customizes a Store.
type StoreOption = decaymap.Option

// WithClock replaces time.Now as the Store's source of the current time.
func WithClock(now func() time.Time) StoreOption {
	return decaymap.WithClock(now)
}

// WithShards sets how many independently locked shards the Store uses.
func WithShards(n int) StoreOption {
	return decaymap.WithShards(n)
}

// NewStore creates an empty Store.
func NewStore(opts ...StoreOption) *Store {
	return &Store{
		answers: decaymap.New[string, string](opts...),
	}
}

// Issue records the expected answer for id. An existing entry with the same
// id is overwritten.
func (s *Store) Issue(id, answer string, ttl time.Duration) {
	s.answers.Set(id, answer, ttl)
	challengesOutstanding.Set(float64(s.answers.Len()))
}

// Now returns the current time according to the Store's clock. Expiry of
// issued challenges is measured against it.
func (s *Store) Now() time.Time {
	return s.answers.Now()
}

// VerifyAndConsume reports whether submitted answers challenge id. The
// comparison ignores case and surrounding whitespace in submitted.
//
// A correct answer removes the challenge so it can never be used again. An
// expired challenge is removed and always fails. A wrong answer leaves the
// challenge in place.
func (s *Store) VerifyAndConsume(id, submitted string) bool {
	return s.check(id, submitted) == decaymap.Consumed
}

func (s *Store) check(id, submitted string) decaymap.Outcome {
	submitted = strings.TrimSpace(submitted)

	outcome := s.answers.Consume(id, func(expected string) bool {
		return strings.EqualFold(expected, submitted)
	})
	challengeChecks.WithLabelValues(outcome.String()).Inc()
	if outcome == decaymap.Consumed || outcome == decaymap.Expired {
		challengesOutstanding.Set(float64(s.answers.Len()))
	}

	return outcome
}

// SweepExpired removes every expired challenge and returns how many were
// removed.
func (s *Store) SweepExpired() int {
	n := s.answers.Cleanup()
	challengesSwept.Add(float64(n))
	challengesOutstanding.Set(float64(s.answers.Len()))
	return n
}

// Len returns the number of challenges currently held.
func (s *Store) Len() int {
	return s.answers.Len()
}

// Run sweeps expired challenges every interval until ctx is canceled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.SweepExpired(); n != 0 {
				slog.Debug("swept expired challenges", "count", n)
			}
		}
	}
}
