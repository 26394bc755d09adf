package transmission

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayProxy/internal/pkg/codec"
	"github.com/ManuelReschke/PayProxy/internal/pkg/signature"
)

const maxAge = 120 * time.Second

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	validator *Validator
	platform  *codec.PlatformCodec // the platform's side of the relationship
	signer    *signature.Signer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	pair, err := codec.GenerateKeypairPair(nil)
	require.NoError(t, err)
	serviceSecret, err := codec.ParseKey(pair.A.Secret)
	require.NoError(t, err)
	servicePublic, err := codec.ParseKey(pair.A.Public)
	require.NoError(t, err)
	platformSecret, err := codec.ParseKey(pair.B.Secret)
	require.NoError(t, err)
	platformPublic, err := codec.ParseKey(pair.B.Public)
	require.NoError(t, err)

	signer, err := signature.NewSigner("callback-secret")
	require.NoError(t, err)

	v := NewValidator(codec.NewPlatformCodec(serviceSecret, platformPublic), signer, maxAge).
		WithClock(func() time.Time { return fixedNow })
	return fixture{
		validator: v,
		platform:  codec.NewPlatformCodec(platformSecret, servicePublic),
		signer:    signer,
	}
}

func (f fixture) platformPost(t *testing.T, payload interface{}) map[string]string {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	encoded, err := f.platform.EncryptForPlatform(b)
	require.NoError(t, err)
	return map[string]string{FieldEncryptedData: encoded}
}

func (f fixture) processorPost(fields [][2]string, extra map[string]string) map[string]string {
	ordered := signature.NewOrderedFields()
	post := map[string]string{}
	names := make([]string, 0, len(fields))
	for _, kv := range fields {
		ordered.Set(kv[0], kv[1])
		post[kv[0]] = kv[1]
		names = append(names, kv[0])
	}
	data, _ := signature.Canonicalize(ordered, false)
	for k, v := range extra {
		post[k] = v
	}
	post[signature.FieldSignedFieldNames] = strings.Join(names, ",")
	post[signature.FieldSignature] = f.signer.Sign(data)
	return post
}

func requireInvalid(t *testing.T, err error, contains string) {
	t.Helper()
	var it *InvalidTransmission
	require.True(t, errors.As(err, &it), "expected InvalidTransmission, got %v", err)
	assert.Contains(t, it.Reason, contains)
}

func TestPlatformTransmissionReturnsRequiredFields(t *testing.T) {
	f := newFixture(t)
	post := f.platformPost(t, map[string]interface{}{
		"timestamp":     fixedNow.Unix(),
		"customer_pk":   42,
		"customer_type": "Registrar",
		"unrelated":     "ignored",
	})

	data, err := f.validator.ProcessPlatformTransmission(post, []string{"customer_pk", "customer_type"})
	require.NoError(t, err)
	assert.Len(t, data, 2)
	pk, err := data.Uint("customer_pk")
	require.NoError(t, err)
	assert.Equal(t, uint(42), pk)
	ct, err := data.String("customer_type")
	require.NoError(t, err)
	assert.Equal(t, "Registrar", ct)
}

func TestPlatformTransmissionMissingEncryptedData(t *testing.T) {
	f := newFixture(t)
	for _, post := range []map[string]string{{}, {FieldEncryptedData: ""}} {
		_, err := f.validator.ProcessPlatformTransmission(post, nil)
		requireInvalid(t, err, "No encrypted_data")
	}
}

func TestPlatformTransmissionDecryptFailures(t *testing.T) {
	f := newFixture(t)

	_, err := f.validator.ProcessPlatformTransmission(map[string]string{FieldEncryptedData: "%%%"}, nil)
	requireInvalid(t, err, "DecodeError")

	stranger := newFixture(t)
	post := stranger.platformPost(t, map[string]interface{}{"timestamp": fixedNow.Unix()})
	_, err = f.validator.ProcessPlatformTransmission(post, nil)
	requireInvalid(t, err, "CryptoError")
	assert.NotContains(t, err.Error(), post[FieldEncryptedData])
}

func TestPlatformTransmissionRequiresJSONObject(t *testing.T) {
	f := newFixture(t)
	for _, raw := range []string{"not json", "[1,2]", "null"} {
		encoded, err := f.platform.EncryptForPlatform([]byte(raw))
		require.NoError(t, err)
		_, err = f.validator.ProcessPlatformTransmission(map[string]string{FieldEncryptedData: encoded}, nil)
		requireInvalid(t, err, "Error")
	}
}

func TestPlatformTransmissionTimestamp(t *testing.T) {
	f := newFixture(t)
	limit := fixedNow.Add(maxAge)

	cases := []struct {
		name    string
		payload map[string]interface{}
		reason  string
	}{
		{"missing", map[string]interface{}{}, "Missing timestamp"},
		{"not a number", map[string]interface{}{"timestamp": "soon"}, "Malformed timestamp"},
		{"one second past the window", map[string]interface{}{"timestamp": limit.Unix() + 1}, "Expired timestamp"},
		{"fraction past the window", map[string]interface{}{"timestamp": float64(limit.Unix()) + 0.5}, "Expired timestamp"},
	}
	for _, tc := range cases {
		_, err := f.validator.ProcessPlatformTransmission(f.platformPost(t, tc.payload), nil)
		requireInvalid(t, err, tc.reason)
	}

	_, err := f.validator.ProcessPlatformTransmission(
		f.platformPost(t, map[string]interface{}{"timestamp": limit.Unix()}), nil)
	assert.NoError(t, err, "timestamp exactly at now+maxAge is accepted")
}

// The freshness check is one-sided: arbitrarily old timestamps pass.
func TestPlatformTransmissionAcceptsOldTimestamps(t *testing.T) {
	f := newFixture(t)
	for _, ts := range []int64{0, fixedNow.Add(-24 * time.Hour).Unix(), fixedNow.AddDate(-5, 0, 0).Unix()} {
		_, err := f.validator.ProcessPlatformTransmission(
			f.platformPost(t, map[string]interface{}{"timestamp": ts}), nil)
		assert.NoError(t, err, "timestamp %d", ts)
	}
}

func TestPlatformTransmissionFieldCompleteness(t *testing.T) {
	f := newFixture(t)
	for op, required := range RequiredFromPlatform {
		for _, omitted := range required {
			payload := map[string]interface{}{"timestamp": fixedNow.Unix()}
			for _, field := range required {
				if field != omitted {
					payload[field] = "x"
				}
			}
			_, err := f.validator.ProcessPlatformTransmission(f.platformPost(t, payload), required)
			var it *InvalidTransmission
			require.True(t, errors.As(err, &it), "%s without %s", op, omitted)
			assert.Equal(t, "Incomplete data received: missing "+omitted, it.Reason)
		}
	}
}

func TestProcessorTransmissionValid(t *testing.T) {
	f := newFixture(t)
	post := f.processorPost([][2]string{
		{"req_transaction_uuid", "c0ffee"},
		{"decision", "ACCEPT"},
		{"reason_code", "100"},
		{"message", "Request was processed successfully."},
		{"req_card_number", "xxxxxxxxxxxx1111"},
	}, map[string]string{"unsigned_extra": "1"})

	got, err := f.validator.ProcessProcessorTransmission(post, append(RequiredFromProcessor, "unsigned_extra"))
	require.NoError(t, err)
	assert.Equal(t, "ACCEPT", got["decision"])
	assert.Equal(t, "1", got["unsigned_extra"])
	assert.Len(t, got, len(RequiredFromProcessor)+1)
}

func TestProcessorTransmissionRequiresSignatureFields(t *testing.T) {
	f := newFixture(t)
	base := f.processorPost([][2]string{{"decision", "ACCEPT"}}, nil)

	for _, field := range []string{signature.FieldSignature, signature.FieldSignedFieldNames} {
		post := map[string]string{}
		for k, v := range base {
			if k != field {
				post[k] = v
			}
		}
		_, err := f.validator.ProcessProcessorTransmission(post, nil)
		requireInvalid(t, err, "missing "+field)
	}
}

func TestProcessorTransmissionMissingSignedField(t *testing.T) {
	f := newFixture(t)
	post := f.processorPost([][2]string{{"decision", "ACCEPT"}, {"reason_code", "100"}}, nil)
	delete(post, "reason_code")

	_, err := f.validator.ProcessProcessorTransmission(post, nil)
	requireInvalid(t, err, "missing reason_code")
}

func TestProcessorTransmissionRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	post := f.processorPost([][2]string{{"decision", "DECLINE"}, {"reason_code", "102"}}, nil)
	post["decision"] = "ACCEPT"

	_, err := f.validator.ProcessProcessorTransmission(post, nil)
	requireInvalid(t, err, "invalid signature")
}

func TestProcessorTransmissionUsesDeclaredOrder(t *testing.T) {
	f := newFixture(t)
	post := f.processorPost([][2]string{{"reason_code", "100"}, {"decision", "ACCEPT"}}, nil)
	post[signature.FieldSignedFieldNames] = "decision,reason_code"

	_, err := f.validator.ProcessProcessorTransmission(post, nil)
	requireInvalid(t, err, "invalid signature")
}

func TestProcessorTransmissionFieldCompleteness(t *testing.T) {
	f := newFixture(t)
	for _, omitted := range RequiredFromProcessor {
		var fields [][2]string
		for _, field := range RequiredFromProcessor {
			if field != omitted {
				fields = append(fields, [2]string{field, "v"})
			}
		}
		_, err := f.validator.ProcessProcessorTransmission(f.processorPost(fields, nil), RequiredFromProcessor)
		requireInvalid(t, err, "missing "+omitted)
	}
}

func TestRedact(t *testing.T) {
	post := map[string]string{"decision": "ACCEPT", "req_amount": "10.00"}
	for _, field := range SensitiveFields {
		post[field] = "secret"
	}

	redacted := Redact(post)
	assert.Equal(t, map[string]string{"decision": "ACCEPT", "req_amount": "10.00"}, redacted)
	assert.Len(t, post, len(SensitiveFields)+2)
}

func TestDataTime(t *testing.T) {
	d := Data{"at": json.Number("1700000000.5"), "bad": "x"}
	at, err := d.Time("at")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), at.Unix())
	assert.Equal(t, 500*time.Millisecond, time.Duration(at.Nanosecond()))

	_, err = d.Time("bad")
	assert.Error(t, err)
	_, err = d.Uint("bad")
	assert.Error(t, err)
}
