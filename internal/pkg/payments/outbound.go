package payments

import (
	"fmt"

	"github.com/ManuelReschke/PayProxy/app/models"
	"github.com/ManuelReschke/PayProxy/internal/pkg/signature"
)

const (
	ModeTest = "test"
	ModeProd = "prod"
)

var payURLs = map[string]string{
	ModeTest: "https://testsecureacceptance.cybersource.com/pay",
	ModeProd: "https://secureacceptance.cybersource.com/pay",
}

// Token updates go through the pay endpoint, which accepts
// update_payment_token without a charge.
var tokenUpdateURLs = map[string]string{
	ModeTest: "https://testsecureacceptance.cybersource.com/pay",
	ModeProd: "https://secureacceptance.cybersource.com/pay",
}

var subscriptionSearchURLs = map[string]string{
	ModeTest: "https://ebctest.cybersource.com/ebctest/subscriptions/SubscriptionSearchLoad.do",
	ModeProd: "https://ebc.cybersource.com/ebc/subscriptions/SubscriptionSearchLoad.do",
}

// Processor holds the merchant credentials sent with every hosted-page post.
type Processor struct {
	Mode      string
	AccessKey string
	ProfileID string
}

func (p Processor) validMode() error {
	if _, ok := payURLs[p.Mode]; !ok {
		return fmt.Errorf("%w %q", ErrUnsupportedMode, p.Mode)
	}
	return nil
}

func (p Processor) PayURL() string {
	return payURLs[p.Mode]
}

func (p Processor) TokenUpdateURL() string {
	return tokenUpdateURLs[p.Mode]
}

// SubscriptionSearchURL links admins to the processor's subscription search.
func (p Processor) SubscriptionSearchURL() string {
	return subscriptionSearchURLs[p.Mode]
}

// Outbound is a signed form the customer's browser posts to the processor.
type Outbound struct {
	URL    string
	Fields signature.Map
}

func (p Processor) baseFields(req *models.OutgoingTransaction) signature.Map {
	return signature.Map{
		"access_key":       p.AccessKey,
		"locale":           req.Locale,
		"payment_method":   req.PaymentMethod,
		"profile_id":       p.ProfileID,
		"reference_number": req.ReferenceNumber,
		"signed_date_time": req.FormattedDatetime(),
		"transaction_type": req.TransactionType,
		"transaction_uuid": req.TransactionUUID,
	}
}

// PurchaseFields builds the signed fields for a one-off charge.
func (p Processor) PurchaseFields(req *models.OutgoingTransaction) signature.Map {
	f := p.baseFields(req)
	f["amount"] = req.Amount.StringFixed(2)
	f["currency"] = req.Currency
	return f
}

// SubscriptionFields builds the signed fields for a charge that also creates
// the recurring payment token.
func (p Processor) SubscriptionFields(req *models.OutgoingTransaction) signature.Map {
	f := p.PurchaseFields(req)
	f["recurring_amount"] = req.RecurringAmount.StringFixed(2)
	f["recurring_frequency"] = req.RecurringFrequency
	f["recurring_start_date"] = req.FormattedStartDate()
	return f
}

// ChangeFields builds the signed fields that move a token to new terms.
func (p Processor) ChangeFields(req *models.OutgoingTransaction, paymentToken string) signature.Map {
	f := p.PurchaseFields(req)
	f["allow_payment_token_update"] = "true"
	f["payment_token"] = paymentToken
	f["recurring_amount"] = req.RecurringAmount.StringFixed(2)
	return f
}

// UpdateFields builds the signed fields that let the customer replace the
// card behind a token.
func (p Processor) UpdateFields(req *models.OutgoingTransaction, paymentToken string) signature.Map {
	f := p.baseFields(req)
	f["allow_payment_token_update"] = "true"
	f["payment_token"] = paymentToken
	return f
}
