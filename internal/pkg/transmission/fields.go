package transmission

// Operation names shared by the platform routes and their required fields.
const (
	OpPurchase            = "purchase"
	OpAcknowledgePurchase = "acknowledge_purchase"
	OpPurchaseHistory     = "purchase_history"
	OpSubscribe           = "subscribe"
	OpSubscription        = "subscription"
	OpChange              = "change"
	OpUpdate              = "update"
	OpCancelRequest       = "cancel_request"
)

// RequiredFromPlatform lists the decrypted fields each platform operation needs.
var RequiredFromPlatform = map[string][]string{
	OpPurchase:            {"customer_pk", "customer_type", "amount", "link_quantity"},
	OpAcknowledgePurchase: {"purchase_pk"},
	OpPurchaseHistory:     {"customer_pk", "customer_type"},
	OpSubscribe: {
		"customer_pk",
		"customer_type",
		"amount",
		"recurring_amount",
		"recurring_frequency",
		"recurring_start_date",
		"link_limit",
		"link_limit_effective_timestamp",
	},
	OpSubscription: {"customer_pk", "customer_type"},
	OpChange: {
		"customer_pk",
		"customer_type",
		"amount",
		"recurring_amount",
		"link_limit",
		"link_limit_effective_timestamp",
	},
	OpUpdate:        {"customer_pk", "customer_type"},
	OpCancelRequest: {"customer_pk", "customer_type"},
}

// RequiredFromProcessor lists the callback fields the service acts on.
var RequiredFromProcessor = []string{
	"req_transaction_uuid",
	"decision",
	"reason_code",
	"message",
}

// SensitiveFields never leave the service in logs, stored messages or emails.
var SensitiveFields = []string{
	"payment_token",
	"req_access_key",
	"req_bill_to_address_city",
	"req_bill_to_address_country",
	"req_bill_to_address_line1",
	"req_bill_to_address_postal_code",
	"req_bill_to_address_state",
	"req_bill_to_email",
	"req_bill_to_forename",
	"req_bill_to_surname",
	"req_card_expiry_date",
	"req_card_number",
	"req_payment_token",
	"req_profile_id",
	"signature",
}

var sensitive = func() map[string]struct{} {
	m := make(map[string]struct{}, len(SensitiveFields))
	for _, f := range SensitiveFields {
		m[f] = struct{}{}
	}
	return m
}()

// Redact returns a copy of post without the sensitive fields.
func Redact(post map[string]string) map[string]string {
	out := make(map[string]string, len(post))
	for k, v := range post {
		if _, ok := sensitive[k]; ok {
			continue
		}
		out[k] = v
	}
	return out
}
