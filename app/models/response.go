package models

import "time"

const (
	DecisionAccept  = "ACCEPT"
	DecisionReview  = "REVIEW"
	DecisionDecline = "DECLINE"
	DecisionError   = "ERROR"
	DecisionCancel  = "CANCEL"
)

// Column widths for processor supplied values.
const (
	DecisionMaxLen     = 32
	PaymentTokenMaxLen = 64
)

// Response is the processor's answer to one outgoing transaction. The full
// callback payload is only ever stored sealed.
type Response struct {
	ID                     uint                 `gorm:"primaryKey" json:"id"`
	Kind                   TransactionKind      `gorm:"type:varchar(20);not null;index" json:"kind" validate:"required,oneof=subscription change update purchase"`
	RelatedRequestID       uint                 `gorm:"not null;uniqueIndex" json:"related_request_id" validate:"required"`
	RelatedRequest         *OutgoingTransaction `gorm:"foreignKey:RelatedRequestID" json:"-" validate:"-"`
	Decision               string               `gorm:"type:varchar(32);not null" json:"decision" validate:"max=32"`
	ReasonCode             *int                 `json:"reason_code,omitempty"`
	Message                string               `gorm:"type:text" json:"message"`
	PaymentToken           string               `gorm:"type:varchar(64)" json:"-" validate:"max=64"`
	FullResponse           []byte               `gorm:"type:longblob;not null" json:"-" validate:"required"`
	EncryptionKeyID        int                  `gorm:"not null" json:"encryption_key_id"`
	InformPlatform         bool                 `gorm:"not null;default:false;index" json:"inform_platform"`
	PlatformAcknowledgedAt *time.Time           `gorm:"type:datetime;default:null" json:"platform_acknowledged_at,omitempty"`
	CreatedAt              time.Time            `gorm:"autoCreateTime" json:"created_at"`
}

func (r *Response) Validate() error {
	return validateStruct("response", r)
}

// SuccessfulDecision reports whether the processor charged or tokenized the card.
func SuccessfulDecision(decision string) bool {
	return decision == DecisionAccept || decision == DecisionReview
}
