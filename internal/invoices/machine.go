package invoices

import (
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
)

var allowedInvoiceTransitions = map[enums.InvoiceStatus][]enums.InvoiceStatus{
	enums.InvoiceStatusDraft: {
		enums.InvoiceStatusOpen,
		enums.InvoiceStatusVoid,
	},
	enums.InvoiceStatusOpen: {
		enums.InvoiceStatusPaid,
		enums.InvoiceStatusUncollectible,
		enums.InvoiceStatusVoid,
	},
	enums.InvoiceStatusPaid: {
		enums.InvoiceStatusPartiallyRefunded,
		enums.InvoiceStatusFullyRefunded,
	},
	enums.InvoiceStatusPartiallyRefunded: {
		enums.InvoiceStatusFullyRefunded,
	},
	enums.InvoiceStatusUncollectible: {},
	enums.InvoiceStatusVoid:          {},
	enums.InvoiceStatusFullyRefunded: {},
}

// TransitionInvoice applies the target status to the invoice. Re-applying the
// current status is a no-op. Writes to a terminal invoice fail with a
// terminal-state violation; this class of failure indicates a logic bug or a
// stale client and must not be retried with a different status.
func TransitionInvoice(invoice *models.Invoice, target enums.InvoiceStatus) (bool, error) {
	if !target.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "unknown invoice status")
	}
	if invoice.Status == target {
		return false, nil
	}
	if invoice.Status.IsTerminal() && !invoiceTransitionAllowed(invoice.Status, target) {
		return false, pkgerrors.New(pkgerrors.CodeTerminalState, "invoice is in a terminal status").
			WithDetails(map[string]any{"current": invoice.Status, "requested": target})
	}
	if !invoiceTransitionAllowed(invoice.Status, target) {
		return false, pkgerrors.New(pkgerrors.CodeConflict, "invoice transition not permitted").
			WithDetails(map[string]any{"from": invoice.Status, "to": target})
	}
	invoice.Status = target
	return true, nil
}

func invoiceTransitionAllowed(from, to enums.InvoiceStatus) bool {
	for _, candidate := range allowedInvoiceTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

var allowedPaymentTransitions = map[enums.PaymentStatus][]enums.PaymentStatus{
	enums.PaymentStatusProcessing: {
		enums.PaymentStatusRequiresAction,
		enums.PaymentStatusRequiresConfirmation,
		enums.PaymentStatusSucceeded,
		enums.PaymentStatusFailed,
		enums.PaymentStatusCanceled,
	},
	enums.PaymentStatusRequiresAction: {
		enums.PaymentStatusProcessing,
		enums.PaymentStatusSucceeded,
		enums.PaymentStatusFailed,
		enums.PaymentStatusCanceled,
	},
	enums.PaymentStatusRequiresConfirmation: {
		enums.PaymentStatusProcessing,
		enums.PaymentStatusSucceeded,
		enums.PaymentStatusFailed,
		enums.PaymentStatusCanceled,
	},
	enums.PaymentStatusSucceeded: {
		enums.PaymentStatusRefunded,
	},
	enums.PaymentStatusFailed:   {},
	enums.PaymentStatusCanceled: {},
	enums.PaymentStatusRefunded: {},
}

// TransitionPayment applies the target status to the payment. A terminal
// payment only ever moves from Succeeded to Refunded.
func TransitionPayment(payment *models.Payment, target enums.PaymentStatus) (bool, error) {
	if !target.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment status")
	}
	if payment.Status == target {
		return false, nil
	}
	if !paymentTransitionAllowed(payment.Status, target) {
		if payment.Status.IsTerminal() {
			return false, pkgerrors.New(pkgerrors.CodeTerminalState, "payment is in a terminal status").
				WithDetails(map[string]any{"current": payment.Status, "requested": target})
		}
		return false, pkgerrors.New(pkgerrors.CodeConflict, "payment transition not permitted").
			WithDetails(map[string]any{"from": payment.Status, "to": target})
	}
	payment.Status = target
	return true, nil
}

func paymentTransitionAllowed(from, to enums.PaymentStatus) bool {
	for _, candidate := range allowedPaymentTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
