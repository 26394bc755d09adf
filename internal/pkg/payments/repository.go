package payments

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/PayProxy/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the ledger of agreements, outgoing requests and processor
// responses.
type Repository interface {
	CreateAgreementWithRequest(ctx context.Context, agreement *models.SubscriptionAgreement, req *models.OutgoingTransaction) error
	CreateRequest(ctx context.Context, req *models.OutgoingTransaction) error
	ReferenceNumberExists(ctx context.Context, ref string) (bool, error)
	TransactionUUIDExists(ctx context.Context, uuid string) (bool, error)
	FindStandingAgreements(ctx context.Context, customer Customer, now time.Time) ([]models.SubscriptionAgreement, error)
	GetAgreement(ctx context.Context, id uint) (*models.SubscriptionAgreement, error)
	SaveAgreement(ctx context.Context, agreement *models.SubscriptionAgreement) error
	SubscriptionRequestFor(ctx context.Context, agreementID uint) (*models.OutgoingTransaction, error)
	PaymentTokenFor(ctx context.Context, agreementID uint) (string, error)
	FindRequestByUUID(ctx context.Context, uuid string) (*models.OutgoingTransaction, error)
	RecordResponse(ctx context.Context, resp *models.Response, agreement *models.SubscriptionAgreement) error
	GetResponse(ctx context.Context, id uint) (*models.Response, error)
	FindAgreementsByReference(ctx context.Context, ref string) ([]models.SubscriptionAgreement, error)
	UnacknowledgedPurchases(ctx context.Context, customer Customer) ([]models.Response, error)
	SuccessfulPurchases(ctx context.Context, customer Customer) ([]models.Response, error)
	AcknowledgePurchase(ctx context.Context, responseID uint, at time.Time) error
	PendingCancellations(ctx context.Context) ([]models.SubscriptionAgreement, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateAgreementWithRequest(ctx context.Context, agreement *models.SubscriptionAgreement, req *models.OutgoingTransaction) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(agreement).Error; err != nil {
			return err
		}
		req.SubscriptionAgreementID = &agreement.ID
		return tx.Omit(clause.Associations).Create(req).Error
	})
}

func (r *gormRepository) CreateRequest(ctx context.Context, req *models.OutgoingTransaction) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(req).Error
}

func (r *gormRepository) ReferenceNumberExists(ctx context.Context, ref string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OutgoingTransaction{}).
		Where("issued_reference = ?", ref).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) TransactionUUIDExists(ctx context.Context, uuid string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OutgoingTransaction{}).
		Where("transaction_uuid = ?", uuid).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) FindStandingAgreements(ctx context.Context, customer Customer, now time.Time) ([]models.SubscriptionAgreement, error) {
	var agreements []models.SubscriptionAgreement
	err := r.db.WithContext(ctx).
		Where("customer_pk = ? AND customer_type = ?", customer.PK, customer.Type).
		Where(r.db.Where("status IN ?", models.StandingStatuses).
			Or("status = ? AND paid_through >= ?", models.StatusCanceled, now)).
		Order("id").
		Find(&agreements).Error
	return agreements, err
}

func (r *gormRepository) GetAgreement(ctx context.Context, id uint) (*models.SubscriptionAgreement, error) {
	var agreement models.SubscriptionAgreement
	if err := r.db.WithContext(ctx).First(&agreement, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAgreementNotFound
		}
		return nil, err
	}
	return &agreement, nil
}

func (r *gormRepository) SaveAgreement(ctx context.Context, agreement *models.SubscriptionAgreement) error {
	return r.db.WithContext(ctx).Save(agreement).Error
}

func (r *gormRepository) SubscriptionRequestFor(ctx context.Context, agreementID uint) (*models.OutgoingTransaction, error) {
	var req models.OutgoingTransaction
	err := r.db.WithContext(ctx).
		Where("subscription_agreement_id = ? AND kind = ?", agreementID, models.KindSubscription).
		Order("id").
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAgreementNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *gormRepository) PaymentTokenFor(ctx context.Context, agreementID uint) (string, error) {
	var resp models.Response
	err := r.db.WithContext(ctx).
		Joins("RelatedRequest").
		Where("responses.kind = ? AND RelatedRequest.subscription_agreement_id = ? AND responses.payment_token <> ''", models.KindSubscription, agreementID).
		Order("responses.id DESC").
		First(&resp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrPaymentTokenNotFound
		}
		return "", err
	}
	return resp.PaymentToken, nil
}

func (r *gormRepository) FindRequestByUUID(ctx context.Context, uuid string) (*models.OutgoingTransaction, error) {
	var req models.OutgoingTransaction
	if err := r.db.WithContext(ctx).Where("transaction_uuid = ?", uuid).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownTransaction
		}
		return nil, err
	}
	return &req, nil
}

// RecordResponse stores a response and, when given, the agreement it moved,
// in one transaction. A second response for the same request is refused.
func (r *gormRepository) RecordResponse(ctx context.Context, resp *models.Response, agreement *models.SubscriptionAgreement) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(resp).Error; err != nil {
			return err
		}
		if agreement == nil {
			return nil
		}
		return tx.Save(agreement).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateResponse
	}
	return err
}

func (r *gormRepository) GetResponse(ctx context.Context, id uint) (*models.Response, error) {
	var resp models.Response
	if err := r.db.WithContext(ctx).Preload("RelatedRequest").First(&resp, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResponseNotFound
		}
		return nil, err
	}
	return &resp, nil
}

func (r *gormRepository) FindAgreementsByReference(ctx context.Context, ref string) ([]models.SubscriptionAgreement, error) {
	var agreements []models.SubscriptionAgreement
	sub := r.db.Model(&models.OutgoingTransaction{}).
		Select("subscription_agreement_id").
		Where("kind = ? AND reference_number = ?", models.KindSubscription, ref)
	err := r.db.WithContext(ctx).Where("id IN (?)", sub).Order("id").Find(&agreements).Error
	return agreements, err
}

func (r *gormRepository) purchaseResponses(ctx context.Context, customer Customer) *gorm.DB {
	return r.db.WithContext(ctx).
		Joins("RelatedRequest").
		Where("responses.kind = ? AND responses.inform_platform = ?", models.KindPurchase, true).
		Where("RelatedRequest.customer_pk = ? AND RelatedRequest.customer_type = ?", customer.PK, customer.Type).
		Order("responses.id")
}

func (r *gormRepository) UnacknowledgedPurchases(ctx context.Context, customer Customer) ([]models.Response, error) {
	var responses []models.Response
	err := r.purchaseResponses(ctx, customer).
		Where("responses.platform_acknowledged_at IS NULL").
		Find(&responses).Error
	return responses, err
}

func (r *gormRepository) SuccessfulPurchases(ctx context.Context, customer Customer) ([]models.Response, error) {
	var responses []models.Response
	err := r.purchaseResponses(ctx, customer).Find(&responses).Error
	return responses, err
}

// AcknowledgePurchase stamps a flagged purchase response. The row is locked
// so concurrent acknowledgments cannot both succeed.
func (r *gormRepository) AcknowledgePurchase(ctx context.Context, responseID uint, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var resp models.Response
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND kind = ?", responseID, models.KindPurchase).
			First(&resp).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPurchaseNotFound
			}
			return err
		}
		if !resp.InformPlatform {
			return ErrPurchaseNotFlagged
		}
		if resp.PlatformAcknowledgedAt != nil {
			return ErrPurchaseAcknowledged
		}
		return tx.Model(&resp).Update("platform_acknowledged_at", at).Error
	})
}

func (r *gormRepository) PendingCancellations(ctx context.Context) ([]models.SubscriptionAgreement, error) {
	var agreements []models.SubscriptionAgreement
	err := r.db.WithContext(ctx).
		Where("cancellation_requested = ? AND status <> ?", true, models.StatusCanceled).
		Order("id").
		Find(&agreements).Error
	return agreements, err
}
