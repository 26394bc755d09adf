package payments

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
)

const (
	DefaultReferencePrefix = "PERMA"
	referenceAttempts      = 100
	referenceDigits        = "0123456789"
)

var ErrReferenceNumbersExhausted = errors.New("no available reference number found")

// referenceGenerator produces PREFIX-dddd-dddd numbers. The pool is small,
// so every candidate is checked against the ledger before use.
type referenceGenerator struct {
	prefix string
	intN   func(n int) int
}

func newReferenceGenerator(prefix string) referenceGenerator {
	if prefix == "" {
		prefix = DefaultReferencePrefix
	}
	return referenceGenerator{prefix: prefix, intN: rand.IntN}
}

func (g referenceGenerator) candidate() string {
	return fmt.Sprintf("%s-%s-%s", g.prefix, g.digits(4), g.digits(4))
}

func (g referenceGenerator) digits(k int) string {
	var b strings.Builder
	for i := 0; i < k; i++ {
		b.WriteByte(referenceDigits[g.intN(len(referenceDigits))])
	}
	return b.String()
}

// next returns the first free candidate within the attempt budget.
func (g referenceGenerator) next(exists func(string) (bool, error)) (string, error) {
	for i := 0; i < referenceAttempts; i++ {
		rn := g.candidate()
		taken, err := exists(rn)
		if err != nil {
			return "", err
		}
		if !taken {
			return rn, nil
		}
	}
	return "", fmt.Errorf("%w in %d attempts", ErrReferenceNumbersExhausted, referenceAttempts)
}
