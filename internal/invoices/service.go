package invoices

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
	"github.com/angelmondragon/billflow-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the invoice reconciler.
type ServiceParams struct {
	Tx     txRunner
	Repo   Repository
	Logger *logger.Logger
}

// Service owns invoice and payment state transitions driven by billing run
// outcomes and direct payment events.
type Service struct {
	tx   txRunner
	repo Repository
	log  *logger.Logger
}

// NewService builds an invoice reconciler.
func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("repo required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{tx: params.Tx, repo: params.Repo, log: params.Logger}, nil
}

// Repo exposes the repository for callers composing multi-entity
// transactions.
func (s *Service) Repo() Repository {
	return s.repo
}

// OpenRunInvoiceInput describes the invoice to open for a billing run charge.
type OpenRunInvoiceInput struct {
	CustomerID      uuid.UUID
	BillingPeriodID uuid.UUID
	Currency        enums.Currency
	Description     string
	Quantity        int64
	UnitPriceCents  int64
	SubtotalCents   int64
	DiscountCents   int64
	TaxCents        int64
	TotalCents      int64
	ChargeDate      time.Time
	Livemode        bool
}

// OpenForBillingRun opens the invoice for a billing run charge and records a
// processing payment for the attempt. When an open invoice already exists for
// the billing period, a fresh payment attempt is appended to it instead of
// opening a second invoice.
func (s *Service) OpenForBillingRun(ctx context.Context, tx *gorm.DB, input OpenRunInvoiceInput) (*models.Invoice, *models.Payment, error) {
	repo := s.repo.WithTx(tx)

	invoice, err := repo.FindInvoiceByBillingPeriod(ctx, input.BillingPeriodID)
	if err != nil {
		return nil, nil, err
	}
	if invoice != nil && invoice.Status.IsTerminal() {
		return nil, nil, pkgerrors.New(pkgerrors.CodeTerminalState, "invoice for billing period is already settled").
			WithDetails(map[string]any{"invoice_id": invoice.ID, "status": invoice.Status})
	}

	if invoice == nil {
		sequence, err := repo.NextInvoiceSequence(ctx, input.Livemode)
		if err != nil {
			return nil, nil, err
		}
		periodID := input.BillingPeriodID
		invoice = &models.Invoice{
			CustomerID:      input.CustomerID,
			BillingPeriodID: &periodID,
			Status:          enums.InvoiceStatusDraft,
			InvoiceNumber:   InvoiceNumber(input.Livemode, sequence),
			Currency:        input.Currency,
			SubtotalCents:   input.SubtotalCents,
			DiscountCents:   input.DiscountCents,
			TaxCents:        input.TaxCents,
			TotalCents:      input.TotalCents,
			Livemode:        input.Livemode,
		}
		if err := repo.CreateInvoice(ctx, invoice); err != nil {
			return nil, nil, err
		}
		items := []models.InvoiceLineItem{{
			InvoiceID:      invoice.ID,
			Description:    input.Description,
			Quantity:       input.Quantity,
			UnitPriceCents: input.UnitPriceCents,
			AmountCents:    input.SubtotalCents,
		}}
		if err := repo.CreateLineItems(ctx, items); err != nil {
			return nil, nil, err
		}
		if _, err := TransitionInvoice(invoice, enums.InvoiceStatusOpen); err != nil {
			return nil, nil, err
		}
		if err := repo.SaveInvoice(ctx, invoice); err != nil {
			return nil, nil, err
		}
	}

	payment := &models.Payment{
		InvoiceID:   invoice.ID,
		Status:      enums.PaymentStatusProcessing,
		AmountCents: input.TotalCents,
		Currency:    input.Currency,
		ChargeDate:  input.ChargeDate,
		Livemode:    input.Livemode,
	}
	if err := repo.CreatePayment(ctx, payment); err != nil {
		return nil, nil, err
	}
	return invoice, payment, nil
}

// RunOutcomeInput carries a processor outcome into the reconciler.
type RunOutcomeInput struct {
	BillingPeriodID    uuid.UUID
	Outcome            enums.PaymentOutcome
	AmountCents        int64
	ProcessorReference string
	Now                time.Time
}

// RecordRunOutcome moves the period's invoice and latest payment according to
// the processor outcome. Re-applying an outcome that already holds leaves
// both records untouched.
func (s *Service) RecordRunOutcome(ctx context.Context, tx *gorm.DB, input RunOutcomeInput) error {
	repo := s.repo.WithTx(tx)

	invoice, err := repo.FindInvoiceByBillingPeriod(ctx, input.BillingPeriodID)
	if err != nil {
		return err
	}
	if invoice == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "invoice for billing period not found")
	}
	payment, err := repo.FindLatestPaymentForInvoice(ctx, invoice.ID)
	if err != nil {
		return err
	}
	if payment == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment for invoice not found")
	}

	var paymentTarget enums.PaymentStatus
	var invoiceTarget *enums.InvoiceStatus
	switch input.Outcome {
	case enums.PaymentOutcomeSucceeded:
		paymentTarget = enums.PaymentStatusSucceeded
		paid := enums.InvoiceStatusPaid
		invoiceTarget = &paid
	case enums.PaymentOutcomeFailed:
		paymentTarget = enums.PaymentStatusFailed
	case enums.PaymentOutcomeRequiresAction:
		paymentTarget = enums.PaymentStatusRequiresAction
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown payment outcome")
	}

	changed, err := TransitionPayment(payment, paymentTarget)
	if err != nil {
		return err
	}
	if changed {
		if input.ProcessorReference != "" {
			ref := input.ProcessorReference
			payment.ProcessorReference = &ref
		}
		if err := repo.SavePayment(ctx, payment); err != nil {
			return err
		}
	}

	if invoiceTarget != nil {
		changed, err := TransitionInvoice(invoice, *invoiceTarget)
		if err != nil {
			return err
		}
		if changed {
			if err := repo.SaveInvoice(ctx, invoice); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarkUncollectible settles the period's invoice as uncollectible after the
// final charge attempt is abandoned.
func (s *Service) MarkUncollectible(ctx context.Context, tx *gorm.DB, billingPeriodID uuid.UUID) error {
	repo := s.repo.WithTx(tx)

	invoice, err := repo.FindInvoiceByBillingPeriod(ctx, billingPeriodID)
	if err != nil {
		return err
	}
	if invoice == nil {
		return nil
	}
	changed, err := TransitionInvoice(invoice, enums.InvoiceStatusUncollectible)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return repo.SaveInvoice(ctx, invoice)
}

// RefundInput identifies the payment to refund. Only full refunds are
// supported; the amount must match the original payment exactly.
type RefundInput struct {
	PaymentID   uuid.UUID
	AmountCents int64
}

// Refund applies a full refund to a settled payment and marks its invoice
// fully refunded. Refunding an already refunded payment is a no-op.
func (s *Service) Refund(ctx context.Context, input RefundInput, now time.Time) (*models.Payment, error) {
	var result *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		payment, err := repo.FindPaymentByID(ctx, input.PaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		if payment.Status == enums.PaymentStatusRefunded {
			s.log.Info(s.log.WithInvoiceID(ctx, payment.InvoiceID.String()), "payment already refunded")
			result = payment
			return nil
		}
		if input.AmountCents != payment.AmountCents {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund amount must equal the original payment amount").
				WithDetails(map[string]any{"amount": input.AmountCents, "payment_amount": payment.AmountCents})
		}
		if _, err := TransitionPayment(payment, enums.PaymentStatusRefunded); err != nil {
			return err
		}
		refunded := input.AmountCents
		at := now
		payment.RefundedAmountCents = &refunded
		payment.RefundedAt = &at
		if err := repo.SavePayment(ctx, payment); err != nil {
			return err
		}

		invoice, err := repo.FindInvoiceByID(ctx, payment.InvoiceID)
		if err != nil {
			return err
		}
		if invoice != nil {
			changed, err := TransitionInvoice(invoice, enums.InvoiceStatusFullyRefunded)
			if err != nil {
				return err
			}
			if changed {
				if err := repo.SaveInvoice(ctx, invoice); err != nil {
					return err
				}
			}
		}
		result = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// VoidInvoice voids a draft or open invoice.
func (s *Service) VoidInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var result *models.Invoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		invoice, err := repo.FindInvoiceByID(ctx, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
		}
		changed, err := TransitionInvoice(invoice, enums.InvoiceStatusVoid)
		if err != nil {
			return err
		}
		if changed {
			if err := repo.SaveInvoice(ctx, invoice); err != nil {
				return err
			}
		}
		result = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddLineItem appends a line to a non-terminal invoice and refreshes the
// invoice totals.
func (s *Service) AddLineItem(ctx context.Context, invoiceID uuid.UUID, item models.InvoiceLineItem) (*models.Invoice, error) {
	var result *models.Invoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		invoice, err := repo.FindInvoiceByID(ctx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
		}
		if invoice.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeTerminalState, "line items are frozen on a terminal invoice")
		}
		item.InvoiceID = invoice.ID
		if err := repo.CreateLineItems(ctx, []models.InvoiceLineItem{item}); err != nil {
			return err
		}
		invoice.SubtotalCents += item.AmountCents
		invoice.TotalCents += item.AmountCents
		if err := repo.SaveInvoice(ctx, invoice); err != nil {
			return err
		}
		result, err = repo.FindInvoiceByID(ctx, invoice.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RemoveLineItem deletes a line from a non-terminal invoice.
func (s *Service) RemoveLineItem(ctx context.Context, invoiceID, lineItemID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		invoice, err := repo.FindInvoiceByID(ctx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
		}
		if invoice.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeTerminalState, "line items are frozen on a terminal invoice")
		}
		return repo.DeleteLineItem(ctx, invoiceID, lineItemID)
	})
}

// ListInvoices returns a page of invoices.
func (s *Service) ListInvoices(ctx context.Context, params ListInvoicesQuery) ([]models.Invoice, *pagination.Cursor, error) {
	return s.repo.ListInvoices(ctx, params)
}

// ListPayments returns a page of payments.
func (s *Service) ListPayments(ctx context.Context, params ListPaymentsQuery) ([]models.Payment, *pagination.Cursor, error) {
	return s.repo.ListPayments(ctx, params)
}
