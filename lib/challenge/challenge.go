package challenge

import "time"

// Challenge is the metadata about a single captcha issuance.
type Challenge struct {
	ID        string        `json:"id"`        // UUID identifying the challenge
	Image     []byte        `json:"-"`         // PNG the client has to read
	Answer    string        `json:"-"`         // Expected answer, only exposed in debug mode
	TTL       time.Duration `json:"ttl"`       // How long the answer is accepted
	IssuedAt  time.Time     `json:"issuedAt"`  // When the challenge was issued
	ExpiresAt time.Time     `json:"expiresAt"` // IssuedAt + TTL
}
