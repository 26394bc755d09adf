// Package paymentstest provides an in-memory ledger for tests.
package paymentstest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/PayProxy/app/models"
	"github.com/ManuelReschke/PayProxy/internal/pkg/payments"
)

// Repository is an in-memory payments.Repository. Records are stored by
// value so callers cannot alter them without going through the ledger.
type Repository struct {
	mu         sync.Mutex
	agreements map[uint]models.SubscriptionAgreement
	requests   map[uint]models.OutgoingTransaction
	responses  map[uint]models.Response
	nextID     uint
}

var _ payments.Repository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{
		agreements: map[uint]models.SubscriptionAgreement{},
		requests:   map[uint]models.OutgoingTransaction{},
		responses:  map[uint]models.Response{},
	}
}

func (r *Repository) id() uint {
	r.nextID++
	return r.nextID
}

// AddAgreement stores a fixture agreement and assigns its id.
func (r *Repository) AddAgreement(a *models.SubscriptionAgreement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == 0 {
		a.ID = r.id()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	r.agreements[a.ID] = *a
}

// AddRequest stores a fixture request and assigns its id.
func (r *Repository) AddRequest(req *models.OutgoingTransaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.ID == 0 {
		req.ID = r.id()
	}
	req.ApplyDefaults()
	r.requests[req.ID] = *req
}

// AddResponse stores a fixture response and assigns its id.
func (r *Repository) AddResponse(resp *models.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if resp.ID == 0 {
		resp.ID = r.id()
	}
	r.responses[resp.ID] = *resp
}

// Agreement returns the stored copy of an agreement.
func (r *Repository) Agreement(id uint) (models.SubscriptionAgreement, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agreements[id]
	return a, ok
}

// Requests returns all stored requests ordered by id.
func (r *Repository) Requests() []models.OutgoingTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.OutgoingTransaction, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Responses returns all stored responses ordered by id.
func (r *Repository) Responses() []models.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedResponses()
}

func (r *Repository) sortedResponses() []models.Response {
	out := make([]models.Response, 0, len(r.responses))
	for _, resp := range r.responses {
		out = append(out, resp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Repository) sortedAgreements() []models.SubscriptionAgreement {
	out := make([]models.SubscriptionAgreement, 0, len(r.agreements))
	for _, a := range r.agreements {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Repository) CreateAgreementWithRequest(_ context.Context, agreement *models.SubscriptionAgreement, req *models.OutgoingTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agreement.ID = r.id()
	agreement.CreatedAt = time.Now()
	agreement.UpdatedAt = agreement.CreatedAt
	r.agreements[agreement.ID] = *agreement
	req.ID = r.id()
	req.SubscriptionAgreementID = &agreement.ID
	r.requests[req.ID] = *req
	return nil
}

func (r *Repository) CreateRequest(_ context.Context, req *models.OutgoingTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req.ID = r.id()
	r.requests[req.ID] = *req
	return nil
}

func (r *Repository) ReferenceNumberExists(_ context.Context, ref string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if req.IssuedReference != nil && *req.IssuedReference == ref {
			return true, nil
		}
	}
	return false, nil
}

func (r *Repository) TransactionUUIDExists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if req.TransactionUUID == id {
			return true, nil
		}
	}
	return false, nil
}

func (r *Repository) FindStandingAgreements(_ context.Context, customer payments.Customer, now time.Time) ([]models.SubscriptionAgreement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SubscriptionAgreement
	for _, a := range r.sortedAgreements() {
		if a.CustomerPK == customer.PK && a.CustomerType == customer.Type && a.IsStanding(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *Repository) GetAgreement(_ context.Context, id uint) (*models.SubscriptionAgreement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agreements[id]
	if !ok {
		return nil, payments.ErrAgreementNotFound
	}
	return &a, nil
}

func (r *Repository) SaveAgreement(_ context.Context, agreement *models.SubscriptionAgreement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agreement.UpdatedAt = time.Now()
	r.agreements[agreement.ID] = *agreement
	return nil
}

func (r *Repository) subscriptionRequestFor(agreementID uint) *models.OutgoingTransaction {
	var found *models.OutgoingTransaction
	for _, req := range r.requests {
		if req.Kind != models.KindSubscription || req.SubscriptionAgreementID == nil || *req.SubscriptionAgreementID != agreementID {
			continue
		}
		if found == nil || req.ID < found.ID {
			found = &req
		}
	}
	return found
}

func (r *Repository) SubscriptionRequestFor(_ context.Context, agreementID uint) (*models.OutgoingTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req := r.subscriptionRequestFor(agreementID)
	if req == nil {
		return nil, payments.ErrAgreementNotFound
	}
	return req, nil
}

func (r *Repository) PaymentTokenFor(_ context.Context, agreementID uint) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	responses := r.sortedResponses()
	for i := len(responses) - 1; i >= 0; i-- {
		resp := responses[i]
		req, ok := r.requests[resp.RelatedRequestID]
		if !ok || resp.Kind != models.KindSubscription || resp.PaymentToken == "" {
			continue
		}
		if req.SubscriptionAgreementID != nil && *req.SubscriptionAgreementID == agreementID {
			return resp.PaymentToken, nil
		}
	}
	return "", payments.ErrPaymentTokenNotFound
}

func (r *Repository) FindRequestByUUID(_ context.Context, id string) (*models.OutgoingTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if req.TransactionUUID == id {
			return &req, nil
		}
	}
	return nil, payments.ErrUnknownTransaction
}

func (r *Repository) RecordResponse(_ context.Context, resp *models.Response, agreement *models.SubscriptionAgreement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.responses {
		if existing.RelatedRequestID == resp.RelatedRequestID {
			return payments.ErrDuplicateResponse
		}
	}
	resp.ID = r.id()
	resp.CreatedAt = time.Now()
	r.responses[resp.ID] = *resp
	if agreement != nil {
		agreement.UpdatedAt = resp.CreatedAt
		r.agreements[agreement.ID] = *agreement
	}
	return nil
}

func (r *Repository) withRequest(resp models.Response) models.Response {
	if req, ok := r.requests[resp.RelatedRequestID]; ok {
		resp.RelatedRequest = &req
	}
	return resp
}

func (r *Repository) GetResponse(_ context.Context, id uint) (*models.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.responses[id]
	if !ok {
		return nil, payments.ErrResponseNotFound
	}
	resp = r.withRequest(resp)
	return &resp, nil
}

func (r *Repository) FindAgreementsByReference(_ context.Context, ref string) ([]models.SubscriptionAgreement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SubscriptionAgreement
	for _, a := range r.sortedAgreements() {
		for _, req := range r.requests {
			if req.Kind == models.KindSubscription && req.ReferenceNumber == ref &&
				req.SubscriptionAgreementID != nil && *req.SubscriptionAgreementID == a.ID {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}

func (r *Repository) purchases(customer payments.Customer, unacknowledgedOnly bool) []models.Response {
	var out []models.Response
	for _, resp := range r.sortedResponses() {
		if resp.Kind != models.KindPurchase || !resp.InformPlatform {
			continue
		}
		if unacknowledgedOnly && resp.PlatformAcknowledgedAt != nil {
			continue
		}
		resp = r.withRequest(resp)
		if resp.RelatedRequest == nil || resp.RelatedRequest.CustomerPK != customer.PK || resp.RelatedRequest.CustomerType != customer.Type {
			continue
		}
		out = append(out, resp)
	}
	return out
}

func (r *Repository) UnacknowledgedPurchases(_ context.Context, customer payments.Customer) ([]models.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purchases(customer, true), nil
}

func (r *Repository) SuccessfulPurchases(_ context.Context, customer payments.Customer) ([]models.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purchases(customer, false), nil
}

func (r *Repository) AcknowledgePurchase(_ context.Context, responseID uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.responses[responseID]
	if !ok || resp.Kind != models.KindPurchase {
		return payments.ErrPurchaseNotFound
	}
	if !resp.InformPlatform {
		return payments.ErrPurchaseNotFlagged
	}
	if resp.PlatformAcknowledgedAt != nil {
		return payments.ErrPurchaseAcknowledged
	}
	resp.PlatformAcknowledgedAt = &at
	r.responses[responseID] = resp
	return nil
}

func (r *Repository) PendingCancellations(_ context.Context) ([]models.SubscriptionAgreement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SubscriptionAgreement
	for _, a := range r.sortedAgreements() {
		if a.CancellationRequested && a.Status != models.StatusCanceled {
			out = append(out, a)
		}
	}
	return out, nil
}
