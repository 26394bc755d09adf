package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/PayProxy/app/models"
	"github.com/ManuelReschke/PayProxy/internal/pkg/codec"
	"github.com/ManuelReschke/PayProxy/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayProxy/internal/pkg/mail"
	"github.com/ManuelReschke/PayProxy/internal/pkg/payments"
	"github.com/ManuelReschke/PayProxy/internal/pkg/payments/paymentstest"
	"github.com/ManuelReschke/PayProxy/internal/pkg/signature"
	"github.com/ManuelReschke/PayProxy/internal/pkg/transmission"
	"github.com/ManuelReschke/PayProxy/views"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

var individual = payments.Customer{PK: 42, Type: models.CustomerTypeIndividual}

const canceledRedirectURL = "https://perma.example/settings/subscription?canceled=1"

type fakeJobs struct {
	mu       sync.Mutex
	emails   []jobqueue.AdminEmailJobPayload
	archives []jobqueue.ArchiveResponseJobPayload
}

func (f *fakeJobs) EnqueueAdminEmail(_ context.Context, p jobqueue.AdminEmailJobPayload) (*jobqueue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails = append(f.emails, p)
	return &jobqueue.Job{Type: jobqueue.JobTypeAdminEmail, Status: jobqueue.JobStatusPending, Payload: p.ToMap()}, nil
}

func (f *fakeJobs) EnqueueResponseArchive(_ context.Context, p jobqueue.ArchiveResponseJobPayload) (*jobqueue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archives = append(f.archives, p)
	return &jobqueue.Job{Type: jobqueue.JobTypeArchiveResponse, Status: jobqueue.JobStatusPending, Payload: p.ToMap()}, nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	rejected  map[string]int
	decisions map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{rejected: map[string]int{}, decisions: map[string]int{}}
}

func (r *fakeRecorder) TransmissionRejected(pipeline string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected[pipeline]++
}

func (r *fakeRecorder) CallbackDecision(kind, decision string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[kind+"/"+decision]++
}

type fakeQueueStats struct {
	stats *jobqueue.Stats
	err   error
}

func (f fakeQueueStats) GetStats(context.Context) (*jobqueue.Stats, error) {
	return f.stats, f.err
}

type fixture struct {
	app      *fiber.App
	svc      *payments.Service
	repo     *paymentstest.Repository
	jobs     *fakeJobs
	metrics  *fakeRecorder
	platform *codec.PlatformCodec // the platform's side of the relationship
	signer   *signature.Signer
}

func newFixture(t *testing.T, configure ...func(*Dependencies)) *fixture {
	t.Helper()

	platformPair, err := codec.GenerateKeypairPair(nil)
	require.NoError(t, err)
	serviceSecret := mustKey(t, platformPair.A.Secret)
	servicePublic := mustKey(t, platformPair.A.Public)
	platformSecret := mustKey(t, platformPair.B.Secret)
	platformPublic := mustKey(t, platformPair.B.Public)

	vaultPair, err := codec.GenerateKeypairPair(nil)
	require.NoError(t, err)
	ring, err := codec.NewKeyRing(1, codec.StorageKey{ID: 1, Public: mustKey(t, vaultPair.A.Public)})
	require.NoError(t, err)

	signer, err := signature.NewSigner("a-really-long-test-string")
	require.NoError(t, err)

	f := &fixture{
		repo:     paymentstest.NewRepository(),
		jobs:     &fakeJobs{},
		metrics:  newFakeRecorder(),
		platform: codec.NewPlatformCodec(platformSecret, servicePublic),
		signer:   signer,
	}
	f.svc, err = payments.NewService(f.repo, payments.Options{
		Processor:                    payments.Processor{Mode: payments.ModeTest, AccessKey: "access", ProfileID: "profile"},
		Signer:                       signer,
		Storage:                      codec.NewStorageCodec(ring),
		GraceDays:                    2,
		RaiseIfMultipleSubscriptions: true,
		RaiseIfSubscriptionNotFound:  true,
		PreventMultipleSubscriptions: true,
		Now:                          func() time.Time { return testNow },
	})
	require.NoError(t, err)

	serviceCodec := codec.NewPlatformCodec(serviceSecret, platformPublic)
	deps := Dependencies{
		Payments: f.svc,
		Transmissions: transmission.NewValidator(serviceCodec, signer, 120*time.Second).
			WithClock(func() time.Time { return testNow }),
		Platform:            serviceCodec,
		Jobs:                f.jobs,
		Metrics:             f.metrics,
		Links:               mail.AdminLinks{PermaURL: "https://perma.example", IndividualDetailPath: "/admin/user"},
		CanceledRedirectURL: canceledRedirectURL,
		Now:                 func() time.Time { return testNow },
	}
	for _, c := range configure {
		c(&deps)
	}

	f.app = fiber.New(fiber.Config{Views: views.NewEngine()})
	f.app.Get("/", RenderIndex)

	pc := NewPlatformController(deps)
	f.app.Post("/subscribe", pc.Subscribe)
	f.app.Post("/change", pc.Change)
	f.app.Post("/update", pc.Update)
	f.app.Post("/purchase", pc.Purchase)
	f.app.Post("/acknowledge-purchase", pc.AcknowledgePurchase)
	f.app.Post("/purchase-history", pc.PurchaseHistory)
	f.app.Post("/subscription", pc.Subscription)
	f.app.Post("/cancel-request", pc.CancelRequest)

	f.app.Post("/cybersource-callback", NewProcessorController(deps).Callback)

	ac := NewAdminController(deps, fakeQueueStats{stats: &jobqueue.Stats{Pending: 3, Totals: map[jobqueue.JobStatus]int64{}}})
	f.app.Post("/admin/update-statuses", ac.UpdateStatuses)
	f.app.Get("/admin/cancellations", ac.PendingCancellations)
	f.app.Get("/admin/jobs", ac.Jobs)
	return f
}

func mustKey(t *testing.T, encoded string) *[codec.KeySize]byte {
	t.Helper()
	k, err := codec.ParseKey(encoded)
	require.NoError(t, err)
	return k
}

func (f *fixture) postForm(t *testing.T, route string, form url.Values) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, route, strings.NewReader(form.Encode()))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

// postPlatform encrypts payload the way the platform does and posts it.
func (f *fixture) postPlatform(t *testing.T, route string, payload map[string]interface{}) *http.Response {
	t.Helper()
	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = testNow.Unix()
	}
	plaintext, err := json.Marshal(payload)
	require.NoError(t, err)
	sealed, err := f.platform.EncryptForPlatform(plaintext)
	require.NoError(t, err)
	return f.postForm(t, route, url.Values{transmission.FieldEncryptedData: {sealed}})
}

// platformReply opens an encrypted JSON response.
func (f *fixture) platformReply(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var envelope map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Len(t, envelope, 1)
	plaintext, err := f.platform.DecryptFromPlatform(envelope[transmission.FieldEncryptedData])
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(plaintext, &out))
	return out
}

// postCallback signs fields in order, the way the processor does.
func (f *fixture) postCallback(t *testing.T, fields [][2]string) *http.Response {
	t.Helper()
	ordered := signature.NewOrderedFields()
	form := url.Values{}
	names := make([]string, 0, len(fields)+1)
	for _, kv := range fields {
		ordered.Set(kv[0], kv[1])
		form.Set(kv[0], kv[1])
		names = append(names, kv[0])
	}
	names = append(names, signature.FieldSignedFieldNames)
	ordered.Set(signature.FieldSignedFieldNames, strings.Join(names, ","))
	form.Set(signature.FieldSignedFieldNames, strings.Join(names, ","))
	data, err := signature.Canonicalize(ordered, false)
	require.NoError(t, err)
	form.Set(signature.FieldSignature, f.signer.Sign(data))
	return f.postForm(t, "/cybersource-callback", form)
}

func callbackFields(uuid, decision string) [][2]string {
	return [][2]string{
		{"req_transaction_uuid", uuid},
		{"decision", decision},
		{"reason_code", "100"},
		{"message", "Request was processed successfully."},
		{"payment_token", "7H9K2L5M8N1P4Q6R3S0T"},
		{"req_card_number", "xxxxxxxxxxxx1111"},
	}
}

func subscribePayload(customer payments.Customer) map[string]interface{} {
	return map[string]interface{}{
		"customer_pk":                    customer.PK,
		"customer_type":                  customer.Type,
		"amount":                         "10.00",
		"recurring_amount":               "10.00",
		"recurring_frequency":            models.FrequencyMonthly,
		"recurring_start_date":           "2024-06-01",
		"link_limit":                     "10",
		"link_limit_effective_timestamp": testNow.Unix(),
	}
}

func customerPayload(customer payments.Customer) map[string]interface{} {
	return map[string]interface{}{
		"customer_pk":   customer.PK,
		"customer_type": customer.Type,
	}
}

func lastRequest(t *testing.T, repo *paymentstest.Repository) models.OutgoingTransaction {
	t.Helper()
	reqs := repo.Requests()
	require.NotEmpty(t, reqs)
	return reqs[len(reqs)-1]
}

// subscribed gives customer a Current monthly subscription.
func (f *fixture) subscribed(t *testing.T, customer payments.Customer) models.OutgoingTransaction {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Subscribe(ctx, payments.SubscribeInput{
		Customer:                    customer,
		Amount:                      decimal.RequireFromString("10.00"),
		RecurringAmount:             decimal.RequireFromString("10.00"),
		RecurringFrequency:          models.FrequencyMonthly,
		RecurringStartDate:          time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		LinkLimit:                   "10",
		LinkLimitEffectiveTimestamp: testNow,
	})
	require.NoError(t, err)
	req := lastRequest(t, f.repo)
	_, err = f.svc.Callback(ctx, payments.CallbackInput{
		TransactionUUID: req.TransactionUUID,
		Decision:        models.DecisionAccept,
		ReasonCode:      "100",
		PaymentToken:    "7H9K2L5M8N1P4Q6R3S0T",
		Post:            map[string]string{"req_transaction_uuid": req.TransactionUUID, "decision": models.DecisionAccept},
	})
	require.NoError(t, err)
	return req
}

// purchased records an accepted purchase and returns its response id.
func (f *fixture) purchased(t *testing.T, customer payments.Customer, quantity string) uint {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Purchase(ctx, payments.PurchaseInput{
		Customer:     customer,
		Amount:       decimal.RequireFromString("5.00"),
		LinkQuantity: quantity,
	})
	require.NoError(t, err)
	req := lastRequest(t, f.repo)
	result, err := f.svc.Callback(ctx, payments.CallbackInput{
		TransactionUUID: req.TransactionUUID,
		Decision:        models.DecisionAccept,
		ReasonCode:      "100",
		Post:            map[string]string{"req_transaction_uuid": req.TransactionUUID, "decision": models.DecisionAccept},
	})
	require.NoError(t, err)
	return result.Response.ID
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}
