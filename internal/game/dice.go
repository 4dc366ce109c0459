package game

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Roller supplies all randomness a match needs.
type Roller interface {
	// Roll returns a die face in 1..6.
	Roll() (int, error)
	// Pick returns an index in [0, n).
	Pick(n int) (int, error)
}

// CryptoRoller draws from crypto/rand so outcomes cannot be predicted from
// earlier rolls or server start time.
type CryptoRoller struct{}

func (CryptoRoller) Roll() (int, error) {
	n, err := randInt(6)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

func (CryptoRoller) Pick(n int) (int, error) {
	return randInt(n)
}

func randInt(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("invalid range %d", n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read crypto random: %w", err)
	}
	return int(v.Int64()), nil
}

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// NewMatchCode returns a 6-character upper-case shareable match id.
func NewMatchCode() (string, error) {
	b := make([]byte, codeLength)
	for i := range b {
		n, err := randInt(len(codeAlphabet))
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n]
	}
	return string(b), nil
}
