package invoices

import (
	"testing"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
)

func TestTransitionInvoiceHappyPath(t *testing.T) {
	t.Parallel()

	invoice := &models.Invoice{Status: enums.InvoiceStatusDraft}

	for _, target := range []enums.InvoiceStatus{
		enums.InvoiceStatusOpen,
		enums.InvoiceStatusPaid,
		enums.InvoiceStatusFullyRefunded,
	} {
		changed, err := TransitionInvoice(invoice, target)
		if err != nil {
			t.Fatalf("transition to %s failed: %v", target, err)
		}
		if !changed {
			t.Fatalf("expected change for %s", target)
		}
	}
}

func TestTransitionInvoiceTerminalGuard(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  enums.InvoiceStatus
		target  enums.InvoiceStatus
		wantErr pkgerrors.Code
	}{
		{"void cannot reopen", enums.InvoiceStatusVoid, enums.InvoiceStatusOpen, pkgerrors.CodeTerminalState},
		{"uncollectible cannot become paid", enums.InvoiceStatusUncollectible, enums.InvoiceStatusPaid, pkgerrors.CodeTerminalState},
		{"fully refunded is frozen", enums.InvoiceStatusFullyRefunded, enums.InvoiceStatusVoid, pkgerrors.CodeTerminalState},
		{"draft cannot jump to paid", enums.InvoiceStatusDraft, enums.InvoiceStatusPaid, pkgerrors.CodeConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			invoice := &models.Invoice{Status: tc.status}
			_, err := TransitionInvoice(invoice, tc.target)
			if !pkgerrors.HasCode(err, tc.wantErr) {
				t.Fatalf("expected %s, got %v", tc.wantErr, err)
			}
			if invoice.Status != tc.status {
				t.Fatalf("status must be unchanged, got %s", invoice.Status)
			}
		})
	}
}

func TestTransitionInvoiceSameStatusIsNoOp(t *testing.T) {
	t.Parallel()

	invoice := &models.Invoice{Status: enums.InvoiceStatusPaid}
	changed, err := TransitionInvoice(invoice, enums.InvoiceStatusPaid)
	if err != nil || changed {
		t.Fatalf("expected idempotent no-op, got changed=%v err=%v", changed, err)
	}
}

func TestTransitionPaymentTerminalGuard(t *testing.T) {
	t.Parallel()

	payment := &models.Payment{Status: enums.PaymentStatusFailed}
	_, err := TransitionPayment(payment, enums.PaymentStatusSucceeded)
	if !pkgerrors.HasCode(err, pkgerrors.CodeTerminalState) {
		t.Fatalf("expected terminal state violation, got %v", err)
	}

	succeeded := &models.Payment{Status: enums.PaymentStatusSucceeded}
	changed, err := TransitionPayment(succeeded, enums.PaymentStatusRefunded)
	if err != nil || !changed {
		t.Fatalf("succeeded payment must be refundable, got changed=%v err=%v", changed, err)
	}

	_, err = TransitionPayment(succeeded, enums.PaymentStatusProcessing)
	if !pkgerrors.HasCode(err, pkgerrors.CodeTerminalState) {
		t.Fatalf("refunded payment must be frozen, got %v", err)
	}
}

func TestTransitionPaymentWaitingStates(t *testing.T) {
	t.Parallel()

	payment := &models.Payment{Status: enums.PaymentStatusProcessing}
	if _, err := TransitionPayment(payment, enums.PaymentStatusRequiresAction); err != nil {
		t.Fatalf("processing -> requires_action failed: %v", err)
	}
	if _, err := TransitionPayment(payment, enums.PaymentStatusSucceeded); err != nil {
		t.Fatalf("requires_action -> succeeded failed: %v", err)
	}
}
