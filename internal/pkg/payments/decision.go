package payments

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/PayProxy/app/models"
)

type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

// Outcome describes what a processor decision did to an agreement and the
// single log record it produces.
type Outcome struct {
	Status         models.AgreementStatus
	TermsUpdated   bool
	InformPlatform bool
	Level          Level
	Message        string
	// PaidThroughErr is set when the agreement's frequency has no
	// paid-through rule. The stored date is kept.
	PaidThroughErr error
}

// Log emits the outcome's record.
func (o Outcome) Log(l Logger) {
	switch o.Level {
	case LevelInfo:
		l.Infof("[Payments] %s", o.Message)
	case LevelWarn:
		l.Warnf("[Payments] %s", o.Message)
	default:
		l.Errorf("[Payments] %s", o.Message)
	}
}

type decisionRule struct {
	status      models.AgreementStatus
	updateTerms bool
	level       Level
}

var decisionRules = map[string]decisionRule{
	models.DecisionAccept:  {status: models.StatusCurrent, updateTerms: true, level: LevelInfo},
	models.DecisionReview:  {status: models.StatusCurrent, updateTerms: true, level: LevelError},
	models.DecisionDecline: {status: models.StatusRejected, level: LevelWarn},
	models.DecisionError:   {status: models.StatusRejected, level: LevelError},
	models.DecisionCancel:  {status: models.StatusAborted, level: LevelInfo},
}

var unknownDecision = decisionRule{status: models.StatusPending, level: LevelError}

func ruleFor(decision string) decisionRule {
	if r, ok := decisionRules[decision]; ok {
		return r
	}
	return unknownDecision
}

// ApplyDecision moves an agreement through its lifecycle after the processor
// answered one of its requests. Subscription and change requests set the
// status and, when successful, the agreement's current terms. Update
// requests only produce a log record. The agreement is modified in place.
func ApplyDecision(a *models.SubscriptionAgreement, req *models.OutgoingTransaction, decision string, redacted map[string]string, now time.Time, graceDays int) Outcome {
	rule := ruleFor(decision)
	out := Outcome{
		Status:  a.Status,
		Level:   rule.level,
		Message: decisionMessage(decision, requestLabel(req), a.CustomerType, a.CustomerPK, redacted),
	}
	if req.Kind == models.KindUpdate {
		return out
	}

	a.Status = rule.status
	out.Status = rule.status
	if rule.updateTerms {
		applyTerms(a, req)
		out.TermsUpdated = true
	}

	paidThrough, err := a.PaidThroughFor(now, graceDays)
	a.PaidThrough = paidThrough
	out.PaidThroughErr = err
	return out
}

// ApplyPurchaseDecision reports whether the platform must be told about a
// purchase. Successful purchases are flagged until acknowledged.
func ApplyPurchaseDecision(req *models.OutgoingTransaction, decision string, redacted map[string]string) Outcome {
	rule := ruleFor(decision)
	return Outcome{
		InformPlatform: models.SuccessfulDecision(decision),
		Level:          rule.level,
		Message:        decisionMessage(decision, requestLabel(req), req.CustomerType, req.CustomerPK, redacted),
	}
}

func applyTerms(a *models.SubscriptionAgreement, req *models.OutgoingTransaction) {
	if req.LinkLimit != "" {
		limit := req.LinkLimit
		a.CurrentLinkLimit = &limit
	}
	if req.LinkLimitEffectiveTimestamp != nil {
		ts := *req.LinkLimitEffectiveTimestamp
		a.CurrentLinkLimitEffectiveTimestamp = &ts
	}
	a.CurrentRate.Decimal = req.RecurringAmount
	a.CurrentRate.Valid = true

	// A change keeps the schedule the agreement was created with.
	frequency := req.RecurringFrequency
	if req.Kind == models.KindChange && a.CurrentFrequency != nil {
		frequency = *a.CurrentFrequency
	}
	if frequency != "" {
		a.CurrentFrequency = &frequency
	}
}

func requestLabel(req *models.OutgoingTransaction) string {
	var name string
	switch req.Kind {
	case models.KindSubscription:
		name = "Subscription request"
	case models.KindChange:
		name = "Change request"
	case models.KindUpdate:
		name = "Update request"
	case models.KindPurchase:
		name = "Purchase request"
	default:
		name = "Request"
	}
	return fmt.Sprintf("%s %d", name, req.ID)
}

func decisionMessage(decision, label, customerType string, customerPK uint, redacted map[string]string) string {
	switch decision {
	case models.DecisionAccept:
		return fmt.Sprintf("%s for %s %d accepted.", label, customerType, customerPK)
	case models.DecisionReview:
		return fmt.Sprintf("%s for %s %d flagged for review by CyberSource. Please investigate ASAP. Redacted response: %v", label, customerType, customerPK, redacted)
	case models.DecisionDecline:
		return fmt.Sprintf("%s for %s %d declined by CyberSource. Redacted response: %v", label, customerType, customerPK, redacted)
	case models.DecisionError:
		return fmt.Sprintf("Error submitting %s to CyberSource for %s %d. Redacted response: %v", label, customerType, customerPK, redacted)
	case models.DecisionCancel:
		return fmt.Sprintf("%s aborted by %s %d. Redacted response: %v", label, customerType, customerPK, redacted)
	default:
		return fmt.Sprintf("Unexpected decision from CyberSource regarding %s for %s %d. Please investigate ASAP. Redacted response: %v", label, customerType, customerPK, redacted)
	}
}
