// Package invitecode generates the short codes members share to join a crew.
//
// Codes are six symbols drawn uniformly from A-Z0-9. Uniqueness is checked
// against persisted codes before use, but the storage layer's unique
// constraint stays the final arbiter; callers retry on insert collisions.
package invitecode

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"strings"

	"climbcrew/internal/apperr"
)

const (
	// Length is the number of symbols in every code.
	Length = 6
	// Alphabet is the symbol set codes are drawn from.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// DefaultMaxAttempts caps GenerateUnique before it gives up.
	DefaultMaxAttempts = 16
)

// Largest multiple of len(Alphabet) that fits in a byte; bytes at or above it
// are rejected so every symbol stays equally likely.
const rejectAbove = 256 - 256%len(Alphabet)

var pattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// ExistsFunc reports whether code is already taken.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// Generator produces codes. The zero value reads from crypto/rand and uses
// DefaultMaxAttempts.
type Generator struct {
	Rand        io.Reader
	MaxAttempts int
}

// Valid reports whether code has the canonical shape.
func Valid(code string) bool {
	return pattern.MatchString(code)
}

// Normalize trims surrounding space and upper-cases user input.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Generate returns one random code. It performs no existence check.
func (g *Generator) Generate() (string, error) {
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}

	out := make([]byte, 0, Length)
	buf := make([]byte, Length*2)
	for len(out) < Length {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if int(b) >= rejectAbove {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == Length {
				break
			}
		}
	}
	return string(out), nil
}

// GenerateUnique draws codes until exists reports one free. After
// MaxAttempts collisions it fails with CODE_SPACE_EXHAUSTED.
func (g *Generator) GenerateUnique(ctx context.Context, exists ExistsFunc) (string, error) {
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	for i := 0; i < attempts; i++ {
		code, err := g.Generate()
		if err != nil {
			return "", apperr.Internal("generate invite code", err)
		}
		taken, err := exists(ctx, code)
		if err != nil {
			return "", apperr.Internal("check invite code", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", Exhausted(attempts)
}

// Exhausted is the failure returned once every attempt collided.
func Exhausted(attempts int) error {
	return apperr.WithMetadata(
		apperr.KindCodeSpaceExhausted,
		apperr.CodeCodeSpaceExhausted,
		"could not find a free invite code",
		map[string]string{"attempts": fmt.Sprint(attempts)},
	)
}
