package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ManuelReschke/PayProxy/app/models"
	"github.com/ManuelReschke/PayProxy/internal/pkg/codec"
	"github.com/ManuelReschke/PayProxy/internal/pkg/mail"
	"github.com/ManuelReschke/PayProxy/internal/pkg/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteKeys(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeKeys(&out, nil))

	var pair codec.KeypairPair
	require.NoError(t, json.Unmarshal(out.Bytes(), &pair))
	for _, kp := range []codec.Keypair{pair.A, pair.B} {
		secret, err := codec.ParseKey(kp.Secret)
		require.NoError(t, err)
		public, err := codec.PublicKeyFor(secret)
		require.NoError(t, err)
		assert.Equal(t, kp.Public, codec.EncodeKey(public))
	}
	assert.NotEqual(t, pair.A.Secret, pair.B.Secret)
}

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"keys", "decrypt-response", "decrypt-archive", "cancellations"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestRootKeysCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"keys"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), `"secret"`)
}

func TestDecryptResponseRejectsBadID(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"decrypt-response", "abc"})
	assert.Error(t, root.Execute())
}

type testVault struct {
	codec *codec.StorageCodec
}

func newVault(t *testing.T, withSecret bool) testVault {
	t.Helper()
	pair, err := codec.GenerateKeypairPair(nil)
	require.NoError(t, err)
	public, err := codec.ParseKey(pair.A.Public)
	require.NoError(t, err)
	key := codec.StorageKey{ID: 3, Public: public}
	if withSecret {
		key.Secret, err = codec.ParseKey(pair.A.Secret)
		require.NoError(t, err)
	}
	ring, err := codec.NewKeyRing(3, key)
	require.NoError(t, err)
	return testVault{codec: codec.NewStorageCodec(ring)}
}

type fakeResponses map[uint]*models.Response

func (f fakeResponses) GetResponse(_ context.Context, id uint) (*models.Response, error) {
	if r, ok := f[id]; ok {
		return r, nil
	}
	return nil, payments.ErrResponseNotFound
}

func TestDecryptResponse(t *testing.T) {
	vault := newVault(t, true)
	sealed, keyID, err := vault.codec.EncryptForStorage([]byte(`{"decision":"ACCEPT"}`))
	require.NoError(t, err)
	src := fakeResponses{9: {ID: 9, FullResponse: sealed, EncryptionKeyID: keyID}}

	var out bytes.Buffer
	require.NoError(t, decryptResponse(context.Background(), src, vault.codec, 9, &out))
	assert.Equal(t, "{\"decision\":\"ACCEPT\"}\n", out.String())

	err = decryptResponse(context.Background(), src, vault.codec, 10, &out)
	assert.ErrorIs(t, err, payments.ErrResponseNotFound)
}

func TestDecryptResponseWithoutSecretKey(t *testing.T) {
	vault := newVault(t, false)
	sealed, keyID, err := vault.codec.EncryptForStorage([]byte("{}"))
	require.NoError(t, err)
	src := fakeResponses{1: {ID: 1, FullResponse: sealed, EncryptionKeyID: keyID}}

	err = decryptResponse(context.Background(), src, vault.codec, 1, &bytes.Buffer{})
	assert.ErrorIs(t, err, codec.ErrNoVaultSecretKey)
	assert.Contains(t, err.Error(), "STORAGE_VAULT_SECRET_KEY_3")
}

type fakeArchive struct {
	body     []byte
	metadata map[string]string
}

func (f fakeArchive) GetObject(context.Context, string) ([]byte, map[string]string, error) {
	return f.body, f.metadata, nil
}

func TestDecryptArchive(t *testing.T) {
	vault := newVault(t, true)
	sealed, keyID, err := vault.codec.EncryptForStorage([]byte(`{"req_transaction_uuid":"u"}`))
	require.NoError(t, err)

	var out bytes.Buffer
	archive := fakeArchive{body: sealed, metadata: map[string]string{archiveKeyIDMetadata: "3"}}
	require.NoError(t, decryptArchive(context.Background(), archive, vault.codec, "responses/2024/05/u.bin", &out))
	assert.Contains(t, out.String(), `"req_transaction_uuid":"u"`)
	assert.Equal(t, 3, keyID)

	err = decryptArchive(context.Background(), fakeArchive{body: sealed}, vault.codec, "k", &out)
	assert.Error(t, err)
}

type fakeLister struct {
	pending []payments.PendingCancellation
	err     error
}

func (f fakeLister) PendingCancellations(context.Context) ([]payments.PendingCancellation, error) {
	return f.pending, f.err
}

type sentMail struct {
	to            []string
	subject, body string
}

type fakeSender struct {
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(to []string, subject, body string) error {
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return f.err
}

func TestCancellationReport(t *testing.T) {
	links := mail.AdminLinks{SearchURL: "https://processor.test/search", PermaURL: "https://perma.test", IndividualDetailPath: "/manage/users"}
	lister := fakeLister{pending: []payments.PendingCancellation{
		{CustomerPK: 42, CustomerType: models.CustomerTypeIndividual, MerchantReferenceNumber: "PERMA-1234-5678", Status: "Current"},
	}}

	report, err := buildCancellationReport(context.Background(), lister, links, "prod")
	require.NoError(t, err)
	require.Len(t, report.Requests, 1)

	sender := &fakeSender{}
	var out bytes.Buffer
	require.NoError(t, sendReport(sender, []string{"admin@perma.test"}, report, &out))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ACTION REQUIRED: cancellation requests pending on prod", sender.sent[0].subject)
	assert.Contains(t, sender.sent[0].body, "PERMA-1234-5678")
	assert.Contains(t, sender.sent[0].body, "https://perma.test/manage/users/42")
	assert.Contains(t, out.String(), "1 recipient(s)")
}

func TestCancellationReportNothingPending(t *testing.T) {
	report, err := buildCancellationReport(context.Background(), fakeLister{}, mail.AdminLinks{}, "stage")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printReport(&out, report))
	assert.Contains(t, out.String(), "No cancellation requests pending on stage")
	assert.Contains(t, out.String(), "no cancellation requests pending today")
}

func TestCancellationReportErrors(t *testing.T) {
	_, err := buildCancellationReport(context.Background(), fakeLister{err: errors.New("db down")}, mail.AdminLinks{}, "prod")
	assert.ErrorContains(t, err, "db down")

	sender := &fakeSender{err: errors.New("smtp refused")}
	err = sendReport(sender, []string{"a@b.test"}, mail.CancellationReport{Tier: "prod"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "smtp refused")
}
