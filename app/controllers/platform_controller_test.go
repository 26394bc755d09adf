package controllers

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/ManuelReschke/PayProxy/app/models"
	"github.com/ManuelReschke/PayProxy/internal/pkg/payments"
	"github.com/ManuelReschke/PayProxy/internal/pkg/transmission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex(t *testing.T) {
	f := newFixture(t)
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "perma-payments")
}

func TestSubscribeRendersProcessorForm(t *testing.T) {
	f := newFixture(t)

	resp := f.postPlatform(t, "/subscribe", subscribePayload(individual))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, `action="https://testsecureacceptance.cybersource.com/pay"`)
	assert.Contains(t, body, `name="signature"`)
	assert.Contains(t, body, `name="recurring_start_date" value="20240601"`)

	req := lastRequest(t, f.repo)
	assert.Equal(t, models.KindSubscription, req.Kind)
	require.NotNil(t, req.SubscriptionAgreementID)
	agreement, ok := f.repo.Agreement(*req.SubscriptionAgreementID)
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, agreement.Status)
}

func TestSubscribeAcceptsEpochStartDate(t *testing.T) {
	f := newFixture(t)
	payload := subscribePayload(individual)
	payload["recurring_start_date"] = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC).Unix()

	resp := f.postPlatform(t, "/subscribe", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `name="recurring_start_date" value="20240701"`)
}

func TestSubscribeRejectsInvalidTransmission(t *testing.T) {
	f := newFixture(t)

	resp := f.postForm(t, "/subscribe", url.Values{transmission.FieldEncryptedData: {"bm90IGEgYm94"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Bad Request")
	assert.Empty(t, f.repo.Requests())
	assert.Equal(t, 1, f.metrics.rejected[pipelinePlatform])
}

func TestSubscribeRejectsMissingField(t *testing.T) {
	f := newFixture(t)
	payload := subscribePayload(individual)
	delete(payload, "link_limit")

	resp := f.postPlatform(t, "/subscribe", payload)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.repo.Requests())
}

func TestSubscribeRejectsFutureTimestamp(t *testing.T) {
	f := newFixture(t)
	payload := subscribePayload(individual)
	payload["timestamp"] = testNow.Add(121 * time.Second).Unix()

	resp := f.postPlatform(t, "/subscribe", payload)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubscribeRejectsUnknownFrequency(t *testing.T) {
	f := newFixture(t)
	payload := subscribePayload(individual)
	payload["recurring_frequency"] = "fortnightly"

	resp := f.postPlatform(t, "/subscribe", payload)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.repo.Requests())
}

func TestSubscribeWhenAlreadySubscribed(t *testing.T) {
	f := newFixture(t)
	f.subscribed(t, individual)
	before := len(f.repo.Requests())

	resp := f.postPlatform(t, "/subscribe", subscribePayload(individual))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "already have an active subscription")
	assert.Len(t, f.repo.Requests(), before)
}

func TestChangeWithoutSubscription(t *testing.T) {
	f := newFixture(t)
	payload := customerPayload(individual)
	payload["amount"] = "5.00"
	payload["recurring_amount"] = "20.00"
	payload["link_limit"] = "unlimited"
	payload["link_limit_effective_timestamp"] = testNow.Unix()

	resp := f.postPlatform(t, "/change", payload)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "find any active subscriptions")
}

func TestChangeRendersProcessorForm(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribed(t, individual)
	payload := customerPayload(individual)
	payload["amount"] = "5.00"
	payload["recurring_amount"] = "20.00"
	payload["link_limit"] = "unlimited"
	payload["link_limit_effective_timestamp"] = testNow.Unix()

	resp := f.postPlatform(t, "/change", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, `name="allow_payment_token_update" value="true"`)
	assert.Contains(t, body, `name="reference_number" value="`+sub.ReferenceNumber+`"`)

	req := lastRequest(t, f.repo)
	assert.Equal(t, models.KindChange, req.Kind)
}

func TestUpdateRendersTokenUpdateForm(t *testing.T) {
	f := newFixture(t)
	f.subscribed(t, individual)

	resp := f.postPlatform(t, "/update", customerPayload(individual))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, `name="transaction_type" value="update_payment_token"`)
	assert.NotContains(t, body, `name="amount"`)
}

func TestPurchaseRendersProcessorForm(t *testing.T) {
	f := newFixture(t)
	payload := customerPayload(individual)
	payload["amount"] = "25.00"
	payload["link_quantity"] = "100"

	resp := f.postPlatform(t, "/purchase", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, `name="transaction_type" value="sale"`)
	assert.Contains(t, body, `name="amount" value="25.00"`)

	req := lastRequest(t, f.repo)
	assert.Equal(t, models.KindPurchase, req.Kind)
	assert.Equal(t, "100", req.LinkQuantity)
}

func TestSubscriptionWithoutAgreement(t *testing.T) {
	f := newFixture(t)

	resp := f.postPlatform(t, "/subscription", customerPayload(individual))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reply := f.platformReply(t, resp)
	assert.Nil(t, reply["subscription"])
	assert.Equal(t, []interface{}{}, reply["purchases"])
	assert.EqualValues(t, 42, reply["customer_pk"])
	assert.Equal(t, models.CustomerTypeIndividual, reply["customer_type"])
	assert.EqualValues(t, testNow.Unix(), reply["timestamp"])
}

func TestSubscriptionReportsStandingAgreement(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribed(t, individual)
	purchaseID := f.purchased(t, individual, "100")

	resp := f.postPlatform(t, "/subscription", customerPayload(individual))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reply := f.platformReply(t, resp)

	subscription, ok := reply["subscription"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Current", subscription["status"])
	assert.Equal(t, "monthly", subscription["frequency"])
	assert.Equal(t, "10.00", subscription["rate"])
	assert.Equal(t, sub.ReferenceNumber, subscription["reference_number"])
	assert.NotNil(t, subscription["paid_through"])

	purchases, ok := reply["purchases"].([]interface{})
	require.True(t, ok)
	require.Len(t, purchases, 1)
	assert.EqualValues(t, purchaseID, purchases[0].(map[string]interface{})["id"])
}

func TestAcknowledgePurchaseOnlyOnce(t *testing.T) {
	f := newFixture(t)
	id := f.purchased(t, individual, "10")

	resp := f.postPlatform(t, "/acknowledge-purchase", map[string]interface{}{"purchase_pk": id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{}`, readBody(t, resp))

	stored, err := f.svc.Response(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, stored.PlatformAcknowledgedAt)
	first := *stored.PlatformAcknowledgedAt

	resp = f.postPlatform(t, "/acknowledge-purchase", map[string]interface{}{"purchase_pk": id})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	stored, err = f.svc.Response(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, first, *stored.PlatformAcknowledgedAt)
}

func TestAcknowledgeUnknownPurchase(t *testing.T) {
	f := newFixture(t)

	resp := f.postPlatform(t, "/acknowledge-purchase", map[string]interface{}{"purchase_pk": 999})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPurchaseHistory(t *testing.T) {
	f := newFixture(t)
	first := f.purchased(t, individual, "10")
	second := f.purchased(t, individual, "100")
	f.purchased(t, payments.Customer{PK: 7, Type: models.CustomerTypeRegistrar}, "1000")

	resp := f.postPlatform(t, "/purchase-history", customerPayload(individual))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reply := f.platformReply(t, resp)

	history, ok := reply["purchase_history"].([]interface{})
	require.True(t, ok)
	require.Len(t, history, 2)
	ids := []interface{}{
		history[0].(map[string]interface{})["id"],
		history[1].(map[string]interface{})["id"],
	}
	assert.ElementsMatch(t, []interface{}{float64(first), float64(second)}, ids)
}

func TestCancelRequest(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribed(t, individual)

	resp := f.postPlatform(t, "/cancel-request", customerPayload(individual))
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, canceledRedirectURL, resp.Header.Get("Location"))

	agreement, ok := f.repo.Agreement(*sub.SubscriptionAgreementID)
	require.True(t, ok)
	assert.True(t, agreement.CancellationRequested)

	require.Len(t, f.jobs.emails, 1)
	email := f.jobs.emails[0]
	assert.Equal(t, "Cancellation request: Individual 42", email.Subject)
	assert.Contains(t, email.Body, sub.ReferenceNumber)
	assert.Empty(t, email.Recipients)
}

func TestCancelRequestTwice(t *testing.T) {
	f := newFixture(t)
	f.subscribed(t, individual)

	resp := f.postPlatform(t, "/cancel-request", customerPayload(individual))
	require.Equal(t, http.StatusFound, resp.StatusCode)

	resp = f.postPlatform(t, "/cancel-request", customerPayload(individual))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "find any active subscriptions")
	assert.Len(t, f.jobs.emails, 1)
}

func TestSubscriptionShowsRequestedCancellation(t *testing.T) {
	f := newFixture(t)
	f.subscribed(t, individual)
	require.Equal(t, http.StatusFound, f.postPlatform(t, "/cancel-request", customerPayload(individual)).StatusCode)

	reply := f.platformReply(t, f.postPlatform(t, "/subscription", customerPayload(individual)))
	subscription := reply["subscription"].(map[string]interface{})
	assert.Equal(t, models.DisplayStatusCancellationRequested, subscription["status"])
}
