package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"sort"
	"strings"
)

// Signer produces and checks HMAC-SHA256 signatures in the processor's
// hosted-page format.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("signature: secret key is required")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns the base64 encoded HMAC-SHA256 of data.
func (s *Signer) Sign(data string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// IsValidSignature recomputes the signature over fields in their given order
// and compares it in constant time.
func (s *Signer) IsValidSignature(fields Fields, signature string) bool {
	data, err := Canonicalize(fields, false)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(s.Sign(data)))
}

// PrepareOutbound returns the complete set of form fields to post to the
// processor. The result must be posted as is: any missing or extra field
// invalidates the signature on the processor side.
func (s *Signer) PrepareOutbound(signed, unsigned Map) Map {
	toSign := make(Map, len(signed)+2)
	for k, v := range signed {
		toSign[k] = v
	}
	toSign[FieldUnsignedFieldNames] = joinSorted(unsigned.Keys())

	names := make([]string, 0, len(toSign)+1)
	for k := range toSign {
		if k == FieldSignedFieldNames {
			continue
		}
		names = append(names, k)
	}
	names = append(names, FieldSignedFieldNames)
	toSign[FieldSignedFieldNames] = joinSorted(names)

	// sorted canonicalization cannot fail for a Map
	data, _ := Canonicalize(toSign, true)

	out := make(Map, len(toSign)+len(unsigned)+1)
	for k, v := range toSign {
		out[k] = v
	}
	for k, v := range unsigned {
		out[k] = v
	}
	out[FieldSignature] = s.Sign(data)
	return out
}

func joinSorted(keys []string) string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
