package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type AgreementStatus string

const (
	StatusPending    AgreementStatus = "Pending"
	StatusRejected   AgreementStatus = "Rejected"
	StatusAborted    AgreementStatus = "Aborted"
	StatusCanceled   AgreementStatus = "Canceled"
	StatusCompleted  AgreementStatus = "Completed"
	StatusCurrent    AgreementStatus = "Current"
	StatusHold       AgreementStatus = "Hold"
	StatusSuperseded AgreementStatus = "Superseded"
)

// AgreementStatuses lists every valid status.
var AgreementStatuses = []AgreementStatus{
	StatusPending, StatusRejected, StatusAborted, StatusCanceled,
	StatusCompleted, StatusCurrent, StatusHold, StatusSuperseded,
}

// StandingStatuses always carry an entitlement. Canceled agreements stand
// until their paid-through date has passed.
var StandingStatuses = []AgreementStatus{StatusCurrent, StatusHold}

const (
	CustomerTypeIndividual = "Individual"
	CustomerTypeRegistrar  = "Registrar"
)

const (
	FrequencyMonthly  = "monthly"
	FrequencyAnnually = "annually"
)

// DisplayStatusCancellationRequested is reported to the platform instead of
// the stored status once a cancellation has been requested.
const DisplayStatusCancellationRequested = "Cancellation Requested"

var ErrUnsupportedFrequency = errors.New("no paid-through rule for frequency")

// SubscriptionAgreement is a customer's recurring payment agreement. The
// Current* fields are only changed together with a processor decision.
type SubscriptionAgreement struct {
	ID                                 uint                `gorm:"primaryKey" json:"id"`
	CustomerPK                         uint                `gorm:"not null;index:idx_subscription_agreements_customer,priority:1" json:"customer_pk" validate:"required"`
	CustomerType                       string              `gorm:"type:varchar(20);not null;index:idx_subscription_agreements_customer,priority:2" json:"customer_type" validate:"required,oneof=Individual Registrar"`
	Status                             AgreementStatus     `gorm:"type:varchar(20);not null;index" json:"status" validate:"required,oneof=Pending Rejected Aborted Canceled Completed Current Hold Superseded"`
	PaidThrough                        *time.Time          `gorm:"type:datetime;default:null" json:"paid_through,omitempty"`
	CancellationRequested              bool                `gorm:"not null;default:false;index" json:"cancellation_requested"`
	CurrentLinkLimit                   *string             `gorm:"type:varchar(20);default:null" json:"current_link_limit,omitempty"`
	CurrentFrequency                   *string             `gorm:"type:varchar(20);default:null" json:"current_frequency,omitempty"`
	CurrentRate                        decimal.NullDecimal `gorm:"type:decimal(19,2);default:null" json:"current_rate"`
	CurrentLinkLimitEffectiveTimestamp *time.Time          `gorm:"type:datetime;default:null" json:"current_link_limit_effective_timestamp,omitempty"`
	CreatedAt                          time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                          time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *SubscriptionAgreement) Validate() error {
	return validateStruct("subscription agreement", a)
}

// IsStanding reports whether the agreement currently entitles the customer.
func (a *SubscriptionAgreement) IsStanding(now time.Time) bool {
	if IsStandingStatus(a.Status) {
		return true
	}
	return a.Status == StatusCanceled && a.PaidThrough != nil && !a.PaidThrough.Before(now)
}

// CanBeAltered reports whether change, update and cancel requests are allowed.
func (a *SubscriptionAgreement) CanBeAltered() bool {
	return IsStandingStatus(a.Status) && !a.CancellationRequested
}

// DisplayStatus is the status reported to the platform. A requested
// cancellation shows until the agreement is actually canceled.
func (a *SubscriptionAgreement) DisplayStatus() string {
	if a.CancellationRequested && a.Status != StatusCanceled {
		return DisplayStatusCancellationRequested
	}
	return string(a.Status)
}

// PaidThroughFor computes the paid-through date of a Current agreement at
// now. Monthly agreements are paid through the end of the month. Annual
// agreements are paid through their next anniversary, or through now plus
// graceDays when today is the anniversary. Agreements in any other status
// keep their stored date.
func (a *SubscriptionAgreement) PaidThroughFor(now time.Time, graceDays int) (*time.Time, error) {
	if a.Status != StatusCurrent {
		return a.PaidThrough, nil
	}

	frequency := ""
	if a.CurrentFrequency != nil {
		frequency = *a.CurrentFrequency
	}

	var t time.Time
	switch frequency {
	case FrequencyMonthly:
		t = time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, now.Location())
	case FrequencyAnnually:
		created := a.CreatedAt.In(now.Location())
		anniversary := anniversaryIn(created, now.Year(), now.Location())
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		switch {
		case anniversary.Before(today):
			t = anniversaryIn(created, now.Year()+1, now.Location())
		case anniversary.Equal(today):
			t = now.AddDate(0, 0, graceDays)
		default:
			t = anniversary
		}
	default:
		return a.PaidThrough, fmt.Errorf("%w %q", ErrUnsupportedFrequency, frequency)
	}

	t = justBeforeMidnight(t)
	return &t, nil
}

// anniversaryIn returns the calendar day of created in year. February 29th
// falls back to the 28th in common years.
func anniversaryIn(created time.Time, year int, loc *time.Location) time.Time {
	month, day := created.Month(), created.Day()
	if month == time.February && day == 29 && !isLeap(year) {
		day = 28
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func justBeforeMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

// IsStandingStatus reports whether s is always standing.
func IsStandingStatus(s AgreementStatus) bool {
	for _, st := range StandingStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// ParseAgreementStatus validates a status name.
func ParseAgreementStatus(s string) (AgreementStatus, error) {
	for _, st := range AgreementStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", &ValidationError{Entity: "subscription agreement", Err: fmt.Errorf("unknown status %q", s)}
}
