package invoices

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/pkg/db"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	"github.com/angelmondragon/billflow-backend/pkg/pagination"
)

// Repository persists invoices, line items and payments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	SaveInvoice(ctx context.Context, invoice *models.Invoice) error
	FindInvoiceByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	FindInvoiceByBillingPeriod(ctx context.Context, billingPeriodID uuid.UUID) (*models.Invoice, error)
	ListInvoices(ctx context.Context, params ListInvoicesQuery) ([]models.Invoice, *pagination.Cursor, error)
	// NextInvoiceSequence atomically claims the next invoice number for the
	// mode. Concurrent claims get distinct numbers; a number claimed by a
	// transaction that rolls back leaves a gap, never a collision.
	NextInvoiceSequence(ctx context.Context, livemode bool) (int64, error)
	CreateLineItems(ctx context.Context, items []models.InvoiceLineItem) error
	DeleteLineItem(ctx context.Context, invoiceID, lineItemID uuid.UUID) error
	CreatePayment(ctx context.Context, payment *models.Payment) error
	SavePayment(ctx context.Context, payment *models.Payment) error
	FindPaymentByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindLatestPaymentForInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.Payment, error)
	ListPayments(ctx context.Context, params ListPaymentsQuery) ([]models.Payment, *pagination.Cursor, error)
}

// ListInvoicesQuery configures invoice list queries.
type ListInvoicesQuery struct {
	CustomerID *uuid.UUID
	Status     *enums.InvoiceStatus
	Livemode   bool
	Limit      int
	Cursor     *pagination.Cursor
}

// ListPaymentsQuery configures payment list queries.
type ListPaymentsQuery struct {
	InvoiceID *uuid.UUID
	Status    *enums.PaymentStatus
	Livemode  bool
	Limit     int
	Cursor    *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an invoice repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) SaveInvoice(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Omit("LineItems").Save(invoice).Error
}

func (r *repository) FindInvoiceByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Preload("LineItems").
		Where("id = ?", id).
		First(&invoice).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindInvoiceByBillingPeriod(ctx context.Context, billingPeriodID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Preload("LineItems").
		Where("billing_period_id = ?", billingPeriodID).
		Order("created_at DESC").
		First(&invoice).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) ListInvoices(ctx context.Context, params ListInvoicesQuery) ([]models.Invoice, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Invoice{}).Where("livemode = ?", params.Livemode)
	if params.CustomerID != nil {
		query = query.Where("customer_id = ?", *params.CustomerID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var invoices []models.Invoice
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&invoices).Error; err != nil {
		return nil, nil, err
	}
	if len(invoices) > limit {
		next := invoices[limit]
		invoices = invoices[:limit]
		return invoices, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return invoices, nil, nil
}

func (r *repository) NextInvoiceSequence(ctx context.Context, livemode bool) (int64, error) {
	var seq int64
	result := r.db.WithContext(ctx).
		Raw("UPDATE invoice_counters SET next_seq = next_seq + 1 WHERE livemode = ? RETURNING next_seq", livemode).
		Scan(&seq)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		// Counter row not seeded yet. A concurrent seed loses the insert
		// race and retries the increment instead.
		err := r.db.WithContext(ctx).
			Exec("INSERT INTO invoice_counters (livemode, next_seq) VALUES (?, 1)", livemode).Error
		if err == nil {
			return 1, nil
		}
		if db.IsUniqueViolation(err, "") {
			return r.NextInvoiceSequence(ctx, livemode)
		}
		return 0, err
	}
	return seq, nil
}

func (r *repository) CreateLineItems(ctx context.Context, items []models.InvoiceLineItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) DeleteLineItem(ctx context.Context, invoiceID, lineItemID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ? AND invoice_id = ?", lineItemID, invoiceID).
		Delete(&models.InvoiceLineItem{}).Error
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) SavePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Save(payment).Error
}

func (r *repository) FindPaymentByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindLatestPaymentForInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at DESC").
		First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListPayments(ctx context.Context, params ListPaymentsQuery) ([]models.Payment, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Payment{}).Where("livemode = ?", params.Livemode)
	if params.InvoiceID != nil {
		query = query.Where("invoice_id = ?", *params.InvoiceID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var payments []models.Payment
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&payments).Error; err != nil {
		return nil, nil, err
	}
	if len(payments) > limit {
		next := payments[limit]
		payments = payments[:limit]
		return payments, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return payments, nil, nil
}

// InvoiceNumber formats the human-facing invoice number. Test and live data
// use distinct prefixes so the sequences never collide.
func InvoiceNumber(livemode bool, sequence int64) string {
	prefix := "INV-TEST"
	if livemode {
		prefix = "INV"
	}
	return fmt.Sprintf("%s-%06d", prefix, sequence)
}
