// Package generator produces tenant codes and temporary credentials.
package generator

import (
	"fmt"
	"math/rand"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultPrefix pads codes for names that carry too few letters
	DefaultPrefix = "SCH"

	prefixLength = 3
	suffixDigits = 1000
)

// CodeFunc generates a candidate tenant code for a school name
type CodeFunc func(name string) string

// TenantCode derives a candidate code from a school name: a three letter
// prefix followed by three random digits, e.g. "GRE482".
func TenantCode(name string) string {
	return fmt.Sprintf("%s%03d", CodePrefix(name), rand.Intn(suffixDigits))
}

// CodePrefix returns the three letter prefix for name. The initials of the
// words are used when there are enough of them, otherwise the leading letters
// of the name, padded with DefaultPrefix. Accents are stripped first, so
// "École" starts with E; letters with no ASCII base such as "Ø" are skipped.
func CodePrefix(name string) string {
	var initials, letters strings.Builder
	for _, word := range strings.Fields(strings.ToUpper(norm.NFD.String(name))) {
		first := true
		for _, r := range word {
			if r < 'A' || r > 'Z' {
				continue
			}
			if first {
				initials.WriteRune(r)
				first = false
			}
			letters.WriteRune(r)
		}
	}

	if initials.Len() >= prefixLength {
		return initials.String()[:prefixLength]
	}
	return (letters.String() + DefaultPrefix)[:prefixLength]
}
