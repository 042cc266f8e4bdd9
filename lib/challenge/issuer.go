package challenge

import (
	"fmt"
	"time"

	"github.com/gatekeeper-auth/gatekeeper"
	"github.com/google/uuid"
)

// Issuer creates captchas and records their answers in a Store.
type Issuer struct {
	Store    *Store
	Renderer Renderer
	TTL      time.Duration
	Length   int
}

// NewIssuer creates an Issuer with the default image renderer, answer length
// and time to live.
func NewIssuer(st *Store) *Issuer {
	return &Issuer{
		Store:    st,
		Renderer: DefaultRenderer,
		TTL:      gatekeeper.ChallengeTTL,
		Length:   gatekeeper.ChallengeLength,
	}
}

// New renders a captcha and makes it answerable for i.TTL. IssuedAt and
// ExpiresAt come from the Store's clock, so they agree with when the Store
// will stop accepting the answer.
func (i *Issuer) New() (*Challenge, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("challenge: can't generate id: %w", err)
	}

	answer, img, err := i.Renderer.Render(i.Length)
	if err != nil {
		return nil, err
	}

	now := i.Store.Now()
	i.Store.Issue(id.String(), answer, i.TTL)
	challengesIssued.Inc()

	return &Challenge{
		ID:        id.String(),
		Image:     img,
		Answer:    answer,
		TTL:       i.TTL,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.TTL),
	}, nil
}
