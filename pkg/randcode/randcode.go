// Package randcode generates the six-character uppercase alphanumeric room
// codes described in the data model, in the same small-helper spirit as the
// teacher's randstr generator referenced by service.NewService's iGenerator.
package randcode

import (
	"crypto/rand"
	"math/big"
)

const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	Length   = 6
)

// Generator produces random room codes.
type Generator struct{}

func New() *Generator {
	return &Generator{}
}

// Generate returns a fresh six-character uppercase alphanumeric code. It uses
// crypto/rand so codes are not predictable across nodes in the cluster.
func (g *Generator) Generate() string {
	buf := make([]byte, Length)
	max := big.NewInt(int64(len(alphabet)))

	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the platform's entropy source is
			// broken; there is nothing sane to do but panic.
			panic("randcode: " + err.Error())
		}
		buf[i] = alphabet[n.Int64()]
	}

	return string(buf)
}

// Normalize uppercases a client-submitted room code so "abcd12" and "ABCD12"
// address the same room.
func Normalize(code string) string {
	out := make([]byte, len(code))
	for i := 0; i < len(code); i++ {
		c := code[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Valid reports whether code is exactly Length characters, each in [A-Z0-9].
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
