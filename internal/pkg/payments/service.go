package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ManuelReschke/PayProxy/app/models"
	"github.com/ManuelReschke/PayProxy/internal/pkg/signature"
	"github.com/ManuelReschke/PayProxy/internal/pkg/transmission"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OutboundSigner signs forms posted to the processor.
type OutboundSigner interface {
	PrepareOutbound(signed, unsigned signature.Map) signature.Map
}

// StorageEncrypter seals callback payloads before they are stored.
type StorageEncrypter interface {
	EncryptForStorage(plaintext []byte) ([]byte, int, error)
}

// Options configures a Service.
type Options struct {
	Processor                    Processor
	Signer                       OutboundSigner
	Storage                      StorageEncrypter
	GraceDays                    int
	RaiseIfMultipleSubscriptions bool
	RaiseIfSubscriptionNotFound  bool
	PreventMultipleSubscriptions bool
	ReferencePrefix              string
	Location                     *time.Location
	Logger                       Logger
	Now                          func() time.Time
}

// Service implements the payment flows between the platform, the processor
// and the ledger.
type Service struct {
	repo       Repository
	opts       Options
	references referenceGenerator
	log        Logger
	now        func() time.Time
}

// NewService creates a payments service from an injected repository.
func NewService(repo Repository, opts Options) (*Service, error) {
	if err := opts.Processor.validMode(); err != nil {
		return nil, err
	}
	if opts.Signer == nil || opts.Storage == nil {
		return nil, errors.New("payments: signer and storage codec are required")
	}
	s := &Service{
		repo:       repo,
		opts:       opts,
		references: newReferenceGenerator(opts.ReferencePrefix),
		log:        opts.Logger,
		now:        opts.Now,
	}
	if s.log == nil {
		s.log = DefaultLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.opts.Location == nil {
		s.opts.Location = time.UTC
	}
	return s, nil
}

// Processor returns the configured processor endpoints and credentials.
func (s *Service) Processor() Processor {
	return s.opts.Processor
}

func (s *Service) clock() time.Time {
	return s.now().In(s.opts.Location)
}

// CustomerStandingSubscription returns the customer's standing agreement, or
// nil. With several standing agreements the oldest is returned unless the
// service is configured to fail.
func (s *Service) CustomerStandingSubscription(ctx context.Context, customer Customer) (*models.SubscriptionAgreement, error) {
	standing, err := s.repo.FindStandingAgreements(ctx, customer, s.clock())
	if err != nil {
		return nil, err
	}
	switch len(standing) {
	case 0:
		return nil, nil
	case 1:
	default:
		s.log.Errorf("[Payments] %s %d has multiple standing subscriptions (%d)", customer.Type, customer.PK, len(standing))
		if s.opts.RaiseIfMultipleSubscriptions {
			return nil, ErrMultipleStanding
		}
	}
	return &standing[0], nil
}

func (s *Service) alterableSubscription(ctx context.Context, customer Customer) (*models.SubscriptionAgreement, error) {
	agreement, err := s.CustomerStandingSubscription(ctx, customer)
	if err != nil {
		return nil, err
	}
	if agreement == nil || !agreement.CanBeAltered() {
		return nil, ErrNoActiveSubscription
	}
	return agreement, nil
}

func (s *Service) newTransactionUUID(ctx context.Context) (string, error) {
	for {
		id := uuid.NewString()
		taken, err := s.repo.TransactionUUIDExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
}

func (s *Service) newReferenceNumber(ctx context.Context) (string, error) {
	return s.references.next(func(rn string) (bool, error) {
		return s.repo.ReferenceNumberExists(ctx, rn)
	})
}

func (s *Service) newRequest(ctx context.Context, kind models.TransactionKind) (*models.OutgoingTransaction, error) {
	id, err := s.newTransactionUUID(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate transaction uuid: %w", err)
	}
	return &models.OutgoingTransaction{
		Kind:            kind,
		TransactionUUID: id,
		RequestDatetime: s.now().UTC().Truncate(time.Second),
	}, nil
}

func (s *Service) sign(url string, fields signature.Map) *Outbound {
	return &Outbound{URL: url, Fields: s.opts.Signer.PrepareOutbound(fields, nil)}
}

// Subscribe records a pending agreement with its subscription request and
// returns the form that sends the customer to the processor.
func (s *Service) Subscribe(ctx context.Context, in SubscribeInput) (*Outbound, error) {
	if s.opts.PreventMultipleSubscriptions {
		standing, err := s.CustomerStandingSubscription(ctx, in.Customer)
		if err != nil {
			return nil, err
		}
		if standing != nil {
			return nil, ErrAlreadySubscribed
		}
	}

	agreement := &models.SubscriptionAgreement{
		CustomerPK:   in.PK,
		CustomerType: in.Type,
		Status:       models.StatusPending,
	}
	if err := agreement.Validate(); err != nil {
		return nil, err
	}

	req, err := s.newRequest(ctx, models.KindSubscription)
	if err != nil {
		return nil, err
	}
	if req.ReferenceNumber, err = s.newReferenceNumber(ctx); err != nil {
		return nil, err
	}
	start := in.RecurringStartDate
	effective := in.LinkLimitEffectiveTimestamp
	req.Amount = in.Amount
	req.RecurringAmount = in.RecurringAmount
	req.RecurringFrequency = in.RecurringFrequency
	req.RecurringStartDate = &start
	req.LinkLimit = in.LinkLimit
	req.LinkLimitEffectiveTimestamp = &effective
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.CreateAgreementWithRequest(ctx, agreement, req); err != nil {
		return nil, fmt.Errorf("store subscription request: %w", err)
	}

	s.log.Infof("[Payments] Subscription request received for %s %d", in.Type, in.PK)
	return s.sign(s.opts.Processor.PayURL(), s.opts.Processor.SubscriptionFields(req)), nil
}

// Change records a request to move a subscription to new terms.
func (s *Service) Change(ctx context.Context, in ChangeInput) (*Outbound, error) {
	agreement, err := s.alterableSubscription(ctx, in.Customer)
	if err != nil {
		return nil, err
	}
	subReq, token, err := s.subscriptionContext(ctx, agreement)
	if err != nil {
		return nil, err
	}

	req, err := s.newRequest(ctx, models.KindChange)
	if err != nil {
		return nil, err
	}
	effective := in.LinkLimitEffectiveTimestamp
	req.SubscriptionAgreementID = &agreement.ID
	req.ReferenceNumber = subReq.ReferenceNumber
	req.Amount = in.Amount
	req.RecurringAmount = in.RecurringAmount
	req.LinkLimit = in.LinkLimit
	req.LinkLimitEffectiveTimestamp = &effective
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("store change request: %w", err)
	}

	s.log.Infof("[Payments] Change request received for %s %d", in.Type, in.PK)
	return s.sign(s.opts.Processor.PayURL(), s.opts.Processor.ChangeFields(req, token)), nil
}

// Update records a request to replace the card behind a subscription.
func (s *Service) Update(ctx context.Context, customer Customer) (*Outbound, error) {
	agreement, err := s.alterableSubscription(ctx, customer)
	if err != nil {
		return nil, err
	}
	subReq, token, err := s.subscriptionContext(ctx, agreement)
	if err != nil {
		return nil, err
	}

	req, err := s.newRequest(ctx, models.KindUpdate)
	if err != nil {
		return nil, err
	}
	req.SubscriptionAgreementID = &agreement.ID
	req.ReferenceNumber = subReq.ReferenceNumber
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("store update request: %w", err)
	}

	s.log.Infof("[Payments] Update request received for %s %d", customer.Type, customer.PK)
	return s.sign(s.opts.Processor.TokenUpdateURL(), s.opts.Processor.UpdateFields(req, token)), nil
}

func (s *Service) subscriptionContext(ctx context.Context, agreement *models.SubscriptionAgreement) (*models.OutgoingTransaction, string, error) {
	subReq, err := s.repo.SubscriptionRequestFor(ctx, agreement.ID)
	if err != nil {
		return nil, "", fmt.Errorf("subscription request for agreement %d: %w", agreement.ID, err)
	}
	token, err := s.repo.PaymentTokenFor(ctx, agreement.ID)
	if err != nil {
		return nil, "", fmt.Errorf("payment token for agreement %d: %w", agreement.ID, err)
	}
	return subReq, token, nil
}

// Purchase records a one-off purchase request.
func (s *Service) Purchase(ctx context.Context, in PurchaseInput) (*Outbound, error) {
	req, err := s.newRequest(ctx, models.KindPurchase)
	if err != nil {
		return nil, err
	}
	if req.ReferenceNumber, err = s.newReferenceNumber(ctx); err != nil {
		return nil, err
	}
	req.CustomerPK = in.PK
	req.CustomerType = in.Type
	req.Amount = in.Amount
	req.LinkQuantity = in.LinkQuantity
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("store purchase request: %w", err)
	}

	s.log.Infof("[Payments] Purchase request received for %s %d", in.Type, in.PK)
	return s.sign(s.opts.Processor.PayURL(), s.opts.Processor.PurchaseFields(req)), nil
}

// Callback stores the processor's answer to one of our requests and applies
// its decision.
func (s *Service) Callback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	req, err := s.repo.FindRequestByUUID(ctx, in.TransactionUUID)
	if err != nil {
		if errors.Is(err, ErrUnknownTransaction) {
			s.log.Errorf("[Callback] No outgoing transaction with transaction_uuid %s", in.TransactionUUID)
		}
		return nil, err
	}

	resp, err := s.sealedResponse(req, in)
	if err != nil {
		return nil, err
	}
	redacted := transmission.Redact(in.Post)

	var (
		out       Outcome
		agreement *models.SubscriptionAgreement
	)
	switch req.Kind {
	case models.KindSubscription, models.KindChange, models.KindUpdate:
		if req.SubscriptionAgreementID == nil {
			return nil, fmt.Errorf("%s request %d: %w", req.Kind, req.ID, ErrAgreementNotFound)
		}
		agreement, err = s.repo.GetAgreement(ctx, *req.SubscriptionAgreementID)
		if err != nil {
			return nil, err
		}
		if req.Kind == models.KindSubscription && looksLikeCardNumber(in.PaymentToken) {
			s.log.Errorf("[Callback] Payment token for %s is 16 digits long; please confirm it is not a card number", requestLabel(req))
		}
		out = ApplyDecision(agreement, req, in.Decision, redacted, s.clock(), s.opts.GraceDays)
		if req.Kind == models.KindUpdate {
			agreement = nil
		}
	case models.KindPurchase:
		out = ApplyPurchaseDecision(req, in.Decision, redacted)
		resp.InformPlatform = out.InformPlatform
	default:
		return nil, fmt.Errorf("transaction %s has unknown kind %q", req.TransactionUUID, req.Kind)
	}

	if err := resp.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.RecordResponse(ctx, resp, agreement); err != nil {
		if errors.Is(err, ErrDuplicateResponse) {
			s.log.Errorf("[Callback] Duplicate callback for %s ignored", requestLabel(req))
		}
		return nil, err
	}

	if out.PaidThroughErr != nil {
		s.log.Errorf("[Payments] No code for calculating paid-through date: %v", out.PaidThroughErr)
	}
	out.Log(s.log)
	return &CallbackResult{Request: req, Response: resp, Outcome: out}, nil
}

func (s *Service) sealedResponse(req *models.OutgoingTransaction, in CallbackInput) (*models.Response, error) {
	full, err := json.Marshal(in.Post)
	if err != nil {
		return nil, fmt.Errorf("serialize callback: %w", err)
	}
	sealed, keyID, err := s.opts.Storage.EncryptForStorage(full)
	if err != nil {
		return nil, fmt.Errorf("seal callback: %w", err)
	}

	resp := &models.Response{
		Kind:             req.Kind,
		RelatedRequestID: req.ID,
		Decision:         s.fitColumn(req, "decision", in.Decision, models.DecisionMaxLen),
		Message:          in.Message,
		FullResponse:     sealed,
		EncryptionKeyID:  keyID,
	}
	if code, err := strconv.Atoi(in.ReasonCode); err == nil {
		resp.ReasonCode = &code
	}
	if req.Kind == models.KindSubscription {
		resp.PaymentToken = s.fitColumn(req, "req_payment_token", in.PaymentToken, models.PaymentTokenMaxLen)
	}
	return resp, nil
}

// fitColumn cuts a processor value down to its column width. The untouched
// value stays in the sealed full response.
func (s *Service) fitColumn(req *models.OutgoingTransaction, field, val string, max int) string {
	r := []rune(val)
	if len(r) <= max {
		return val
	}
	s.log.Errorf("[Callback] %s for %s is %d characters long, storing the first %d", field, requestLabel(req), len(r), max)
	return string(r[:max])
}

func fixedRate(rate decimal.NullDecimal) *string {
	if !rate.Valid {
		return nil
	}
	s := rate.Decimal.StringFixed(2)
	return &s
}

func looksLikeCardNumber(token string) bool {
	if len(token) != 16 {
		return false
	}
	for _, c := range token {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// SubscriptionStatus reports the customer's standing subscription and any
// purchases awaiting acknowledgment.
func (s *Service) SubscriptionStatus(ctx context.Context, customer Customer) (*SubscriptionStatus, error) {
	status := &SubscriptionStatus{Purchases: []PurchaseSummary{}}

	agreement, err := s.CustomerStandingSubscription(ctx, customer)
	if err != nil {
		return nil, err
	}
	if agreement != nil {
		subReq, err := s.repo.SubscriptionRequestFor(ctx, agreement.ID)
		if err != nil {
			return nil, fmt.Errorf("subscription request for agreement %d: %w", agreement.ID, err)
		}
		status.Subscription = &SubscriptionSummary{
			LinkLimit:                   agreement.CurrentLinkLimit,
			LinkLimitEffectiveTimestamp: agreement.CurrentLinkLimitEffectiveTimestamp,
			Rate:                        fixedRate(agreement.CurrentRate),
			Frequency:                   agreement.CurrentFrequency,
			Status:                      agreement.DisplayStatus(),
			PaidThrough:                 agreement.PaidThrough,
			ReferenceNumber:             subReq.ReferenceNumber,
		}
	}

	purchases, err := s.repo.UnacknowledgedPurchases(ctx, customer)
	if err != nil {
		return nil, err
	}
	for _, p := range purchases {
		status.Purchases = append(status.Purchases, PurchaseSummary{
			ID:           p.ID,
			LinkQuantity: relatedLinkQuantity(p),
		})
	}
	return status, nil
}

// PurchaseHistory lists the customer's successful purchases.
func (s *Service) PurchaseHistory(ctx context.Context, customer Customer) ([]PurchaseRecord, error) {
	purchases, err := s.repo.SuccessfulPurchases(ctx, customer)
	if err != nil {
		return nil, err
	}
	history := make([]PurchaseRecord, 0, len(purchases))
	for _, p := range purchases {
		rec := PurchaseRecord{ID: p.ID, LinkQuantity: relatedLinkQuantity(p)}
		if p.RelatedRequest != nil {
			rec.Date = p.RelatedRequest.RequestDatetime
			rec.ReferenceNumber = p.RelatedRequest.ReferenceNumber
		}
		history = append(history, rec)
	}
	return history, nil
}

func relatedLinkQuantity(r models.Response) string {
	if r.RelatedRequest == nil {
		return ""
	}
	return r.RelatedRequest.LinkQuantity
}

// AcknowledgePurchase records that the platform has credited a purchase.
func (s *Service) AcknowledgePurchase(ctx context.Context, purchaseID uint) error {
	return s.repo.AcknowledgePurchase(ctx, purchaseID, s.now().UTC())
}

// RequestCancellation flags the customer's subscription for cancellation.
// The cancellation itself is carried out by staff at the processor.
func (s *Service) RequestCancellation(ctx context.Context, customer Customer) (*Cancellation, error) {
	agreement, err := s.alterableSubscription(ctx, customer)
	if err != nil {
		return nil, err
	}
	subReq, err := s.repo.SubscriptionRequestFor(ctx, agreement.ID)
	if err != nil {
		return nil, fmt.Errorf("subscription request for agreement %d: %w", agreement.ID, err)
	}

	agreement.CancellationRequested = true
	if err := s.repo.SaveAgreement(ctx, agreement); err != nil {
		return nil, err
	}
	s.log.Infof("[Payments] Cancellation request received for %s %d", customer.Type, customer.PK)
	return &Cancellation{Agreement: agreement, ReferenceNumber: subReq.ReferenceNumber}, nil
}

// ReconcileStatuses applies statuses exported from the processor. Every
// status is checked before anything is written. Unmatched or ambiguous
// reference numbers are skipped; when the matching Raise option is set they
// are also returned, joined, after the remaining rows have been applied.
func (s *Service) ReconcileStatuses(ctx context.Context, rows []StatusUpdate) (*ReconcileReport, error) {
	statuses := make([]models.AgreementStatus, len(rows))
	for i, row := range rows {
		st, err := models.ParseAgreementStatus(row.Status)
		if err != nil {
			return nil, err
		}
		statuses[i] = st
	}

	report := &ReconcileReport{NotFound: []string{}, Multiple: []string{}}
	var problems []error
	now := s.clock()
	for i, row := range rows {
		matches, err := s.repo.FindAgreementsByReference(ctx, row.ReferenceNumber)
		if err != nil {
			return report, err
		}
		switch len(matches) {
		case 0:
			s.logFlagged(s.opts.RaiseIfSubscriptionNotFound, "[Payments] Subscription with reference number %s not found", row.ReferenceNumber)
			report.NotFound = append(report.NotFound, row.ReferenceNumber)
			if s.opts.RaiseIfSubscriptionNotFound {
				problems = append(problems, fmt.Errorf("%w: reference number %s", ErrAgreementNotFound, row.ReferenceNumber))
			}
			continue
		case 1:
		default:
			s.logFlagged(s.opts.RaiseIfMultipleSubscriptions, "[Payments] Multiple subscriptions found with reference number %s (%d)", row.ReferenceNumber, len(matches))
			report.Multiple = append(report.Multiple, row.ReferenceNumber)
			if s.opts.RaiseIfMultipleSubscriptions {
				problems = append(problems, fmt.Errorf("%w: reference number %s", ErrMultipleMatches, row.ReferenceNumber))
			}
			continue
		}

		agreement := &matches[0]
		agreement.Status = statuses[i]
		paidThrough, err := agreement.PaidThroughFor(now, s.opts.GraceDays)
		if err != nil {
			s.log.Errorf("[Payments] No code for calculating paid-through date: %v", err)
		}
		agreement.PaidThrough = paidThrough
		if err := s.repo.SaveAgreement(ctx, agreement); err != nil {
			return report, err
		}
		report.Updated++
	}
	return report, errors.Join(problems...)
}

func (s *Service) logFlagged(loud bool, format string, v ...interface{}) {
	if loud {
		s.log.Errorf(format, v...)
		return
	}
	s.log.Infof(format, v...)
}

// PendingCancellations lists agreements whose cancellation has been
// requested but not yet recorded as Canceled.
func (s *Service) PendingCancellations(ctx context.Context) ([]PendingCancellation, error) {
	agreements, err := s.repo.PendingCancellations(ctx)
	if err != nil {
		return nil, err
	}
	pending := make([]PendingCancellation, 0, len(agreements))
	for _, a := range agreements {
		p := PendingCancellation{
			CustomerPK:   a.CustomerPK,
			CustomerType: a.CustomerType,
			Status:       string(a.Status),
		}
		subReq, err := s.repo.SubscriptionRequestFor(ctx, a.ID)
		if err != nil && !errors.Is(err, ErrAgreementNotFound) {
			return nil, err
		}
		if subReq != nil {
			p.MerchantReferenceNumber = subReq.ReferenceNumber
		}
		pending = append(pending, p)
	}
	return pending, nil
}

// Response loads a stored processor response.
func (s *Service) Response(ctx context.Context, id uint) (*models.Response, error) {
	return s.repo.GetResponse(ctx, id)
}
