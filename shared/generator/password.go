package generator

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// PasswordLength is the length of generated temporary passwords
	PasswordLength = 12

	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%*?"
	alphabet    = lowerChars + upperChars + digitChars + symbolChars
)

// PasswordFunc generates a temporary password
type PasswordFunc func() (string, error)

// TemporaryPassword returns a random password of PasswordLength characters
// containing at least one lower-case letter, one upper-case letter and one digit.
func TemporaryPassword() (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, PasswordLength)

	for {
		for i := range buf {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("failed to read random source: %w", err)
			}
			buf[i] = alphabet[n.Int64()]
		}

		password := string(buf)
		if MeetsPolicy(password) {
			return password, nil
		}
	}
}

// MeetsPolicy reports whether password satisfies the temporary password policy
func MeetsPolicy(password string) bool {
	if len(password) < 8 {
		return false
	}
	for _, r := range password {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return strings.ContainsAny(password, lowerChars) &&
		strings.ContainsAny(password, upperChars) &&
		strings.ContainsAny(password, digitChars)
}
