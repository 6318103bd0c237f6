package subscriptions

import (
	"context"
	"testing"

	"github.com/angelmondragon/billflow-backend/pkg/enums"
	"github.com/stretchr/testify/require"
)

func TestZZDebugProrated(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	sub := f.createActiveSubscription(t)
	f.settleCurrentPeriod(t, sub, lifecycleEpoch.AddDate(0, 0, 1))

	type pay struct {
		ID, InvoiceID, Status, CreatedAt string
		AmountCents                      int64
	}
	var pays []pay
	require.NoError(t, f.conn.Raw("SELECT id, invoice_id, status, created_at, amount_cents FROM payments").Scan(&pays).Error)
	for _, p := range pays {
		t.Logf("payment id=%s invoice=%s status=%s amount=%d created=%s", p.ID, p.InvoiceID, p.Status, p.AmountCents, p.CreatedAt)
	}
	type inv struct{ ID, BillingPeriodID, Status string }
	var invs []inv
	require.NoError(t, f.conn.Raw("SELECT id, billing_period_id, status FROM invoices").Scan(&invs).Error)
	for _, i := range invs {
		t.Logf("invoice id=%s period=%s status=%s", i.ID, i.BillingPeriodID, i.Status)
	}

	result, err := f.svc.ScheduleCancellation(ctx, ScheduleCancellationInput{
		SubscriptionID: sub.ID,
		Timing:         enums.CancellationTimingImmediately,
		RefundPolicy:   enums.CancellationRefundProrated,
	}, lifecycleEpoch.AddDate(0, 0, 15))
	require.NoError(t, err)
	t.Logf("credit=%d refunded=%v", result.CreditCents, result.RefundedPayment != nil)
}
