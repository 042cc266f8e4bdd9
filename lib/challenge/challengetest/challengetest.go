// Package challengetest contains helpers for tests that need predictable
// captchas.
package challengetest

import (
	"testing"

	"github.com/gatekeeper-auth/gatekeeper/lib/challenge"
)

// PNGHeader is the image returned by Renderer.
var PNGHeader = []byte("\x89PNG\r\n\x1a\n")

// Renderer always draws the same answer. If Answer is empty, an answer of the
// requested length made of 'A' is used.
type Renderer struct {
	Answer string
}

func (r Renderer) Render(length int) (string, []byte, error) {
	answer := r.Answer
	if answer == "" {
		for range length {
			answer += "A"
		}
	}

	return answer, PNGHeader, nil
}

// New returns an Issuer backed by st that always issues answer.
func New(t *testing.T, st *challenge.Store, answer string) *challenge.Issuer {
	t.Helper()

	iss := challenge.NewIssuer(st)
	iss.Renderer = Renderer{Answer: answer}
	return iss
}
