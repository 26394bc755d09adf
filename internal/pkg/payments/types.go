package payments

import (
	"errors"
	"time"

	"github.com/ManuelReschke/PayProxy/app/models"
	"github.com/shopspring/decimal"
)

var (
	ErrMultipleStanding     = errors.New("customer has multiple standing subscription agreements")
	ErrMultipleMatches      = errors.New("reference number matches multiple subscription agreements")
	ErrAgreementNotFound    = errors.New("subscription agreement not found")
	ErrUnknownTransaction   = errors.New("callback references an unknown transaction")
	ErrDuplicateResponse    = errors.New("transaction already has a response")
	ErrAlreadySubscribed    = errors.New("customer already has a standing subscription")
	ErrNoActiveSubscription = errors.New("customer has no alterable subscription")
	ErrResponseNotFound     = errors.New("response not found")
	ErrPurchaseNotFound     = errors.New("purchase not found")
	ErrPurchaseNotFlagged   = errors.New("purchase is not awaiting acknowledgment")
	ErrPurchaseAcknowledged = errors.New("purchase already acknowledged")
	ErrPaymentTokenNotFound = errors.New("no payment token recorded for subscription agreement")
	ErrUnsupportedMode      = errors.New("unsupported processor mode")
)

// Customer identifies an account on the platform.
type Customer struct {
	PK   uint
	Type string
}

// SubscribeInput carries the terms of a new subscription.
type SubscribeInput struct {
	Customer
	Amount                      decimal.Decimal
	RecurringAmount             decimal.Decimal
	RecurringFrequency          string
	RecurringStartDate          time.Time
	LinkLimit                   string
	LinkLimitEffectiveTimestamp time.Time
}

// ChangeInput carries new terms for an existing subscription.
type ChangeInput struct {
	Customer
	Amount                      decimal.Decimal
	RecurringAmount             decimal.Decimal
	LinkLimit                   string
	LinkLimitEffectiveTimestamp time.Time
}

// PurchaseInput describes a one-off purchase of links.
type PurchaseInput struct {
	Customer
	Amount       decimal.Decimal
	LinkQuantity string
}

// CallbackInput is a verified processor notification. Post holds every
// field that was sent, for the sealed archive.
type CallbackInput struct {
	TransactionUUID string
	Decision        string
	ReasonCode      string
	Message         string
	PaymentToken    string
	Post            map[string]string
}

// CallbackResult is what the callback handler stored and decided.
type CallbackResult struct {
	Request  *models.OutgoingTransaction
	Response *models.Response
	Outcome  Outcome
}

// SubscriptionSummary is the platform's view of a standing agreement.
type SubscriptionSummary struct {
	LinkLimit                   *string    `json:"link_limit"`
	LinkLimitEffectiveTimestamp *time.Time `json:"link_limit_effective_timestamp"`
	Rate                        *string    `json:"rate"`
	Frequency                   *string    `json:"frequency"`
	Status                      string     `json:"status"`
	PaidThrough                 *time.Time `json:"paid_through"`
	ReferenceNumber             string     `json:"reference_number"`
}

// PurchaseSummary is a successful purchase the platform has not yet
// acknowledged.
type PurchaseSummary struct {
	ID           uint   `json:"id"`
	LinkQuantity string `json:"link_quantity"`
}

// PurchaseRecord is one line of a customer's purchase history.
type PurchaseRecord struct {
	ID              uint      `json:"id"`
	LinkQuantity    string    `json:"link_quantity"`
	Date            time.Time `json:"date"`
	ReferenceNumber string    `json:"reference_number"`
}

// SubscriptionStatus answers the platform's status query.
type SubscriptionStatus struct {
	Subscription *SubscriptionSummary
	Purchases    []PurchaseSummary
}

// Cancellation is a recorded cancellation request.
type Cancellation struct {
	Agreement       *models.SubscriptionAgreement
	ReferenceNumber string
}

// StatusUpdate is one row of a processor status export.
type StatusUpdate struct {
	ReferenceNumber string `json:"reference_number"`
	Status          string `json:"status"`
}

// ReconcileReport summarizes a status import.
type ReconcileReport struct {
	Updated  int      `json:"updated"`
	NotFound []string `json:"not_found"`
	Multiple []string `json:"multiple"`
}

// PendingCancellation is an agreement whose cancellation has been requested
// but not yet carried out at the processor.
type PendingCancellation struct {
	CustomerPK              uint   `json:"customer_pk"`
	CustomerType            string `json:"customer_type"`
	MerchantReferenceNumber string `json:"merchant_reference_number"`
	Status                  string `json:"status"`
}
