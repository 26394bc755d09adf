package payments

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceNumberFormat(t *testing.T) {
	g := newReferenceGenerator("")
	pattern := regexp.MustCompile(`^PERMA-\d{4}-\d{4}$`)
	for i := 0; i < 50; i++ {
		rn := g.candidate()
		if !pattern.MatchString(rn) {
			t.Fatalf("candidate %q does not match %s", rn, pattern)
		}
	}

	custom := newReferenceGenerator("TEST")
	assert.Regexp(t, `^TEST-\d{4}-\d{4}$`, custom.candidate())
}

func TestReferenceNumberSkipsTaken(t *testing.T) {
	g := newReferenceGenerator("PERMA")
	calls := 0
	rn, err := g.next(func(string) (bool, error) {
		calls++
		return calls < 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.NotEmpty(t, rn)
}

func TestReferenceNumberGivesUp(t *testing.T) {
	g := newReferenceGenerator("PERMA")
	calls := 0
	_, err := g.next(func(string) (bool, error) {
		calls++
		return true, nil
	})
	assert.True(t, errors.Is(err, ErrReferenceNumbersExhausted))
	assert.Equal(t, 100, calls)
}

func TestReferenceNumberPropagatesLookupError(t *testing.T) {
	boom := errors.New("db down")
	_, err := newReferenceGenerator("PERMA").next(func(string) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
}
