package detect

import (
	"context"
	"fmt"

	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/money"
	"github.com/shopspring/decimal"
)

// largeTip is the discrepancy at which a tip alert becomes medium severity.
var largeTip = decimal.NewFromInt(5)

// Tip compares each receipt with its linked bank transaction. A bank charge
// above the receipt raises a tip discrepancy; a missing transaction or a
// bank charge below the receipt raises a reconciliation alert.
type Tip struct{}

// Kind implements Detector.
func (Tip) Kind() Kind { return KindTip }

// Detect implements Detector.
func (Tip) Detect(ctx context.Context, in *Input) ([]Finding, []Failure) {
	c := &collector{kind: KindTip}
	threshold := money.FromFloat(in.Config.TipDiscrepancyThreshold)
	if threshold.LessThan(money.Tolerance) {
		threshold = money.Tolerance
	}

	for _, pair := range in.Receipts {
		if ctx.Err() != nil {
			c.failures = append(c.failures, Failure{Kind: KindTip, Subject: "run", Err: ctx.Err()})
			break
		}
		c.evaluate(model.TransactionSubject(pair.Link.TransactionID), func() (*Finding, error) {
			return tipFinding(pair, threshold)
		})
	}
	return c.results()
}

func tipFinding(pair ReceiptPair, threshold decimal.Decimal) (*Finding, error) {
	link := pair.Link
	if link.TransactionID == "" {
		return nil, fmt.Errorf("receipt %s has no linked transaction", link.ReceiptID)
	}
	txnID := link.TransactionID
	expected := money.Abs(link.ExpectedAmount)

	if pair.Transaction == nil {
		return &Finding{
			Type:          model.AlertReconciliation,
			Subject:       model.TransactionSubject(txnID),
			TransactionID: &txnID,
			Severity:      model.SeverityHigh,
			Message: fmt.Sprintf("receipt %s (%s at %s) is linked to missing transaction %s",
				link.ReceiptID, money.Format(expected), link.Merchant, txnID),
			Fingerprint: "missing",
			Metadata: map[string]any{
				"receipt_id":      link.ReceiptID,
				"merchant":        link.Merchant,
				"expected_amount": money.Float(expected),
				"reason":          "missing_transaction",
			},
		}, nil
	}

	bank := money.Abs(pair.Transaction.Amount)
	discrepancy := bank.Sub(expected)
	merchant := link.Merchant
	if merchant == "" {
		merchant = pair.Transaction.Merchant()
	}

	metadata := map[string]any{
		"receipt_id":      link.ReceiptID,
		"merchant":        merchant,
		"expected_amount": money.Float(expected),
		"bank_amount":     money.Float(bank),
		"discrepancy":     money.Float(discrepancy),
	}

	switch {
	case discrepancy.GreaterThan(threshold):
		severity := model.SeverityLow
		if discrepancy.GreaterThanOrEqual(largeTip) {
			severity = model.SeverityMedium
		}
		return &Finding{
			Type:          model.AlertTipDiscrepancy,
			Subject:       model.TransactionSubject(txnID),
			TransactionID: &txnID,
			Severity:      severity,
			Message: fmt.Sprintf("%s charged %s against a %s receipt (%s more)",
				merchant, money.Format(bank), money.Format(expected), money.Format(discrepancy)),
			Fingerprint: discrepancy.StringFixed(2),
			Metadata:    metadata,
		}, nil
	case discrepancy.Neg().GreaterThan(threshold):
		metadata["reason"] = "bank_below_receipt"
		return &Finding{
			Type:          model.AlertReconciliation,
			Subject:       model.TransactionSubject(txnID),
			TransactionID: &txnID,
			Severity:      model.SeverityMedium,
			Message: fmt.Sprintf("%s charged %s, less than the %s receipt",
				merchant, money.Format(bank), money.Format(expected)),
			Fingerprint: discrepancy.StringFixed(2),
			Metadata:    metadata,
		}, nil
	default:
		return nil, nil
	}
}
