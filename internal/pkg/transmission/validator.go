package transmission

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ManuelReschke/PayProxy/internal/pkg/codec"
	"github.com/ManuelReschke/PayProxy/internal/pkg/signature"
)

const FieldEncryptedData = "encrypted_data"

// PlatformDecrypter opens messages sent by the platform.
type PlatformDecrypter interface {
	DecryptFromPlatform(encoded string) ([]byte, error)
}

// SignatureVerifier checks processor signatures.
type SignatureVerifier interface {
	IsValidSignature(fields signature.Fields, sig string) bool
}

// Validator runs the two inbound pipelines. It holds no per-request state.
type Validator struct {
	platform PlatformDecrypter
	verifier SignatureVerifier
	maxAge   time.Duration
	now      func() time.Time
}

func NewValidator(platform PlatformDecrypter, verifier SignatureVerifier, maxAge time.Duration) *Validator {
	return &Validator{
		platform: platform,
		verifier: verifier,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// WithClock returns a copy of v that reads the current time from now.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	c := *v
	c.now = now
	return &c
}

// ProcessPlatformTransmission decrypts and checks a platform post and returns
// exactly the required fields.
//
// The timestamp check only rejects messages claiming to come from further in
// the future than maxAge; old timestamps are accepted.
func (v *Validator) ProcessPlatformTransmission(post map[string]string, required []string) (Data, error) {
	encrypted := post[FieldEncryptedData]
	if encrypted == "" {
		return nil, invalidf("No encrypted_data in POST.")
	}

	plaintext, err := v.platform.DecryptFromPlatform(encrypted)
	if err != nil {
		return nil, invalidf("%s", formatError(err))
	}

	data, err := decodeObject(plaintext)
	if err != nil {
		return nil, invalidf("%s", formatError(err))
	}

	raw, ok := data["timestamp"]
	if !ok {
		return nil, invalidf("Missing timestamp in data.")
	}
	stamp, err := toFloat(raw)
	if err != nil {
		return nil, invalidf("Malformed timestamp in data.")
	}
	if !isValidTimestamp(stamp, v.now(), v.maxAge) {
		return nil, invalidf("Expired timestamp in data.")
	}

	out := make(Data, len(required))
	for _, field := range required {
		val, ok := data[field]
		if !ok {
			return nil, invalidf("Incomplete data received: missing %s", field)
		}
		out[field] = val
	}
	return out, nil
}

// ProcessProcessorTransmission verifies a processor callback against the
// signature over the fields it declares as signed, in declared order, and
// returns the required fields from the full post.
func (v *Validator) ProcessProcessorTransmission(post map[string]string, required []string) (map[string]string, error) {
	sig, ok := post[signature.FieldSignature]
	if !ok {
		return nil, invalidf("Incomplete POST to processor callback route: missing %s", signature.FieldSignature)
	}
	names, ok := post[signature.FieldSignedFieldNames]
	if !ok {
		return nil, invalidf("Incomplete POST to processor callback route: missing %s", signature.FieldSignedFieldNames)
	}

	signed := signature.NewOrderedFields()
	for _, field := range strings.Split(names, ",") {
		val, ok := post[field]
		if !ok {
			return nil, invalidf("Incomplete POST to processor callback route: missing %s", field)
		}
		signed.Set(field, val)
	}

	if !v.verifier.IsValidSignature(signed, sig) {
		return nil, invalidf("Data with invalid signature POSTed to processor callback route")
	}

	out := make(map[string]string, len(required))
	for _, field := range required {
		val, ok := post[field]
		if !ok {
			return nil, invalidf("Incomplete data received: missing %s", field)
		}
		out[field] = val
	}
	return out, nil
}

func isValidTimestamp(stamp float64, now time.Time, maxAge time.Duration) bool {
	limit := float64(now.Add(maxAge).UnixNano()) / float64(time.Second)
	return stamp <= limit
}

func decodeObject(b []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("json: payload is not an object")
	}
	return out, nil
}

// formatError renders err as "Kind: message" for the service log.
func formatError(err error) string {
	var cerr *codec.Error
	if errors.As(err, &cerr) {
		return cerr.Error()
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return "JSONDecodeError: " + err.Error()
	}
	return "Error: " + err.Error()
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("not a finite number: %q", n)
		}
		return f, nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
