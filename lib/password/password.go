// Package password hashes and verifies passwords with argon2id.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The encoded string carries its own parameters and salt, so verification
// never depends on the parameters the current process would use for hashing.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrEncoding is returned when a hash can't be produced.
	ErrEncoding = errors.New("password: can't encode hash")

	// ErrFormat is returned when a stored hash is not a well-formed argon2id
	// PHC string.
	ErrFormat = errors.New("password: malformed hash")
)

const algorithmID = "argon2id"

// Params are the argon2id cost parameters.
type Params struct {
	Memory  uint32 // KiB
	Time    uint32
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultParams follow the OWASP recommendations for argon2id.
var DefaultParams = Params{
	Memory:  64 * 1024,
	Time:    3,
	Threads: 4,
	SaltLen: 16,
	KeyLen:  32,
}

// Hasher hashes passwords with a fixed set of Params.
type Hasher struct {
	params Params
	rand   io.Reader
}

// New creates a Hasher that uses p for every hash it produces.
func New(p Params) *Hasher {
	return &Hasher{params: p, rand: rand.Reader}
}

// Default is the Hasher used by Hash.
var Default = New(DefaultParams)

// Hash hashes plain with the default parameters.
func Hash(plain string) (string, error) {
	return Default.Hash(plain)
}

// Verify checks plain against an encoded hash.
func Verify(plain, encoded string) (bool, error) {
	return Default.Verify(plain, encoded)
}

// Hash returns the PHC encoding of plain under a fresh random salt.
func (h *Hasher) Hash(plain string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := io.ReadFull(h.rand, salt); err != nil {
		return "", fmt.Errorf("%w: generate salt: %w", ErrEncoding, err)
	}

	key := argon2.IDKey([]byte(plain), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plain matches encoded. It returns ErrFormat if
// encoded can't be parsed; callers must treat that as a failed verification.
func (h *Hasher) Verify(plain, encoded string) (bool, error) {
	p, salt, key, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(plain), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

func parsePHC(encoded string) (Params, []byte, []byte, error) {
	var p Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return p, nil, nil, fmt.Errorf("%w: expected 6 sections, got %d", ErrFormat, len(parts))
	}

	if parts[1] != algorithmID {
		return p, nil, nil, fmt.Errorf("%w: unsupported algorithm %q", ErrFormat, parts[1])
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return p, nil, nil, fmt.Errorf("%w: missing version", ErrFormat)
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: unsupported version %q", ErrFormat, version)
	}

	if err := parseParams(parts[3], &p); err != nil {
		return p, nil, nil, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, fmt.Errorf("%w: bad salt", ErrFormat)
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("%w: bad digest", ErrFormat)
	}

	p.SaltLen = uint32(len(salt))
	p.KeyLen = uint32(len(key))

	return p, salt, key, nil
}

func parseParams(section string, p *Params) error {
	pairs := strings.Split(section, ",")
	if len(pairs) != 3 {
		return fmt.Errorf("%w: expected 3 parameters, got %d", ErrFormat, len(pairs))
	}

	var seen [3]bool
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: bad parameter %q", ErrFormat, pair)
		}

		bits := 32
		if k == "p" {
			bits = 8
		}
		n, err := strconv.ParseUint(v, 10, bits)
		if err != nil || n == 0 {
			return fmt.Errorf("%w: bad parameter %q", ErrFormat, pair)
		}

		switch k {
		case "m":
			p.Memory, seen[0] = uint32(n), true
		case "t":
			p.Time, seen[1] = uint32(n), true
		case "p":
			p.Threads, seen[2] = uint8(n), true
		default:
			return fmt.Errorf("%w: unknown parameter %q", ErrFormat, k)
		}
	}

	if !seen[0] || !seen[1] || !seen[2] {
		return fmt.Errorf("%w: missing parameter", ErrFormat)
	}

	return nil
}
