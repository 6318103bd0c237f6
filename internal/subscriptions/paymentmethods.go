package subscriptions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
)

// PaymentMethodRepository reads tokenized payment instrument references.
type PaymentMethodRepository interface {
	WithTx(tx *gorm.DB) PaymentMethodRepository
	Create(ctx context.Context, method *models.PaymentMethod) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error)
	FindDefaultForCustomer(ctx context.Context, customerID uuid.UUID, livemode bool) (*models.PaymentMethod, error)
	FindBackupForCustomer(ctx context.Context, customerID uuid.UUID, livemode bool) (*models.PaymentMethod, error)
}

type paymentMethodRepository struct {
	db *gorm.DB
}

// NewPaymentMethodRepository returns a payment method repository bound to the
// database.
func NewPaymentMethodRepository(db *gorm.DB) PaymentMethodRepository {
	return &paymentMethodRepository{db: db}
}

func (r *paymentMethodRepository) WithTx(tx *gorm.DB) PaymentMethodRepository {
	if tx == nil {
		return r
	}
	return &paymentMethodRepository{db: tx}
}

func (r *paymentMethodRepository) Create(ctx context.Context, method *models.PaymentMethod) error {
	return r.db.WithContext(ctx).Create(method).Error
}

func (r *paymentMethodRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&method).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &method, nil
}

func (r *paymentMethodRepository) FindDefaultForCustomer(ctx context.Context, customerID uuid.UUID, livemode bool) (*models.PaymentMethod, error) {
	return r.findFlagged(ctx, customerID, livemode, "is_default")
}

func (r *paymentMethodRepository) FindBackupForCustomer(ctx context.Context, customerID uuid.UUID, livemode bool) (*models.PaymentMethod, error) {
	return r.findFlagged(ctx, customerID, livemode, "is_backup")
}

func (r *paymentMethodRepository) findFlagged(ctx context.Context, customerID uuid.UUID, livemode bool, column string) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND livemode = ?", customerID, livemode).
		Where(column+" = ?", true).
		Order("created_at DESC").
		First(&method).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &method, nil
}
