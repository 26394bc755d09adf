package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind tags both outgoing requests and the responses answering them.
type TransactionKind string

const (
	KindSubscription TransactionKind = "subscription"
	KindChange       TransactionKind = "change"
	KindUpdate       TransactionKind = "update"
	KindPurchase     TransactionKind = "purchase"
)

const (
	TransactionTypeSubscription = "sale,create_payment_token"
	TransactionTypeChange       = "sale,update_payment_token"
	TransactionTypeTokenOnly    = "update_payment_token"
	TransactionTypePurchase     = "sale"
)

const (
	DefaultCurrency      = "USD"
	DefaultLocale        = "en-us"
	DefaultPaymentMethod = "card"
)

// RecurringFrequencies are the schedules the processor accepts.
var RecurringFrequencies = []string{
	"weekly", "bi-weekly", "quad-weekly", "monthly",
	"semi-monthly", "quarterly", "semi-annually", "annually",
}

// OutgoingTransaction records a request sent to the processor. Subscription,
// change and update requests belong to an agreement; purchases carry the
// customer directly.
type OutgoingTransaction struct {
	ID                          uint                   `gorm:"primaryKey" json:"id"`
	Kind                        TransactionKind        `gorm:"type:varchar(20);not null;index" json:"kind" validate:"required,oneof=subscription change update purchase"`
	TransactionUUID             string                 `gorm:"type:char(36);not null;uniqueIndex" json:"transaction_uuid" validate:"required,uuid4"`
	RequestDatetime             time.Time              `gorm:"type:datetime;not null" json:"request_datetime"`
	SubscriptionAgreementID     *uint                  `gorm:"index" json:"subscription_agreement_id,omitempty"`
	SubscriptionAgreement       *SubscriptionAgreement `gorm:"foreignKey:SubscriptionAgreementID" json:"-" validate:"-"`
	ReferenceNumber             string                 `gorm:"type:varchar(32);not null;index" json:"reference_number" validate:"required,max=32"`
	IssuedReference             *string                `gorm:"type:varchar(32);uniqueIndex" json:"-"`
	CustomerPK                  uint                   `gorm:"index:idx_outgoing_transactions_customer,priority:1" json:"customer_pk,omitempty" validate:"required_if=Kind purchase"`
	CustomerType                string                 `gorm:"type:varchar(20);index:idx_outgoing_transactions_customer,priority:2" json:"customer_type,omitempty" validate:"required_if=Kind purchase,omitempty,oneof=Individual Registrar"`
	Amount                      decimal.Decimal        `gorm:"type:decimal(19,2);not null;default:0" json:"amount"`
	RecurringAmount             decimal.Decimal        `gorm:"type:decimal(19,2);not null;default:0" json:"recurring_amount"`
	RecurringFrequency          string                 `gorm:"type:varchar(20)" json:"recurring_frequency,omitempty" validate:"required_if=Kind subscription,omitempty,oneof=weekly bi-weekly quad-weekly monthly semi-monthly quarterly semi-annually annually"`
	RecurringStartDate          *time.Time             `gorm:"type:date" json:"recurring_start_date,omitempty"`
	LinkLimit                   string                 `gorm:"type:varchar(20)" json:"link_limit,omitempty" validate:"max=20"`
	LinkLimitEffectiveTimestamp *time.Time             `gorm:"type:datetime" json:"link_limit_effective_timestamp,omitempty"`
	LinkQuantity                string                 `gorm:"type:varchar(20)" json:"link_quantity,omitempty" validate:"required_if=Kind purchase,max=20"`
	Currency                    string                 `gorm:"type:varchar(3);not null;default:USD" json:"currency" validate:"omitempty,len=3"`
	Locale                      string                 `gorm:"type:varchar(5);not null;default:en-us" json:"locale" validate:"omitempty,max=5"`
	PaymentMethod               string                 `gorm:"type:varchar(30);not null;default:card" json:"payment_method" validate:"omitempty,max=30"`
	TransactionType             string                 `gorm:"type:varchar(30);not null" json:"transaction_type" validate:"required,max=30"`
}

func (t *OutgoingTransaction) Validate() error {
	return validateStruct("outgoing transaction", t)
}

// IssuesReferenceNumber reports whether this kind of request mints its own
// reference number. Change and update requests reuse their agreement's.
func (t *OutgoingTransaction) IssuesReferenceNumber() bool {
	return t.Kind == KindSubscription || t.Kind == KindPurchase
}

// ApplyDefaults fills currency, locale, payment method and transaction type.
func (t *OutgoingTransaction) ApplyDefaults() {
	if t.Currency == "" {
		t.Currency = DefaultCurrency
	}
	if t.Locale == "" {
		t.Locale = DefaultLocale
	}
	if t.PaymentMethod == "" {
		t.PaymentMethod = DefaultPaymentMethod
	}
	t.TransactionType = TransactionTypeFor(t.Kind, t.Amount)
	if t.IssuesReferenceNumber() && t.ReferenceNumber != "" {
		ref := t.ReferenceNumber
		t.IssuedReference = &ref
	} else {
		t.IssuedReference = nil
	}
}

// TransactionTypeFor derives the processor transaction type. A change with
// nothing to charge only updates the stored payment token.
func TransactionTypeFor(kind TransactionKind, amount decimal.Decimal) string {
	switch kind {
	case KindSubscription:
		return TransactionTypeSubscription
	case KindChange:
		if amount.IsZero() {
			return TransactionTypeTokenOnly
		}
		return TransactionTypeChange
	case KindUpdate:
		return TransactionTypeTokenOnly
	default:
		return TransactionTypePurchase
	}
}

// FormattedDatetime is the request time in the processor's signed_date_time format.
func (t *OutgoingTransaction) FormattedDatetime() string {
	return t.RequestDatetime.UTC().Format("2006-01-02T15:04:05Z")
}

// FormattedStartDate is the recurring start date as YYYYMMDD.
func (t *OutgoingTransaction) FormattedStartDate() string {
	if t.RecurringStartDate == nil {
		return ""
	}
	return t.RecurringStartDate.Format("20060102")
}
