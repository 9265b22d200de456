// Package series groups raw transactions into per-merchant recurring candidates.
package series

import (
	"sort"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/model"
)

// GroupKey identifies a series: one account and one normalized merchant.
type GroupKey struct {
	AccountID string
	Merchant  string // Lowercase normalized merchant
}

// String renders the key for logs and failure reports.
func (k GroupKey) String() string {
	return k.AccountID + "/" + k.Merchant
}

// Series is the date-ordered set of transactions for one GroupKey.
// It is rebuilt on every detection pass and never persisted.
type Series struct {
	Key          GroupKey
	Name         string // Display name, normalized but not lowercased
	Transactions []model.Transaction
	// Insufficient is set when the series has fewer debits than any
	// profile accepts. Detectors skip such series without error.
	Insufficient bool
}

// Charges returns the debits of the series in date order.
func (s *Series) Charges() []model.Transaction {
	charges := make([]model.Transaction, 0, len(s.Transactions))
	for _, txn := range s.Transactions {
		if txn.IsDebit() {
			charges = append(charges, txn)
		}
	}
	return charges
}

// LastCharge returns the most recent debit, or false when there is none.
func (s *Series) LastCharge() (model.Transaction, bool) {
	for i := len(s.Transactions) - 1; i >= 0; i-- {
		if s.Transactions[i].IsDebit() {
			return s.Transactions[i], true
		}
	}
	return model.Transaction{}, false
}

// ChargesAfter returns debits strictly after t.
func (s *Series) ChargesAfter(t time.Time) []model.Transaction {
	var out []model.Transaction
	for _, txn := range s.Transactions {
		if txn.IsDebit() && txn.Date.After(t) {
			out = append(out, txn)
		}
	}
	return out
}

// Category returns the most frequent non-empty category among the debits.
// Ties resolve alphabetically so the result is stable.
func (s *Series) Category() string {
	counts := make(map[string]int)
	for _, txn := range s.Transactions {
		if txn.IsDebit() && txn.Category != "" {
			counts[txn.Category]++
		}
	}

	best, bestCount := "", 0
	for category, count := range counts {
		if count > bestCount || (count == bestCount && category < best) {
			best, bestCount = category, count
		}
	}
	return best
}

// Map holds every series of a pass keyed by group.
type Map map[GroupKey]*Series

// Sorted returns the series ordered by account then merchant.
func (m Map) Sorted() []*Series {
	out := make([]*Series, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.AccountID != out[j].Key.AccountID {
			return out[i].Key.AccountID < out[j].Key.AccountID
		}
		return out[i].Key.Merchant < out[j].Key.Merchant
	})
	return out
}

// Lookup finds the series for an account and merchant key.
func (m Map) Lookup(accountID, merchantKey string) (*Series, bool) {
	s, ok := m[GroupKey{AccountID: accountID, Merchant: merchantKey}]
	return s, ok
}

// Builder groups transactions into series.
type Builder struct {
	minTransactions int
}

// NewBuilder creates a builder that flags series with fewer than
// minTransactions debits as insufficient.
func NewBuilder(minTransactions int) *Builder {
	return &Builder{minTransactions: minTransactions}
}

// Build groups transactions by account and normalized merchant. Each series
// is sorted ascending by date, with ID as a tiebreaker.
func (b *Builder) Build(transactions []model.Transaction) Map {
	groups := make(Map)

	for _, txn := range transactions {
		name := Normalize(txn.Merchant())
		key := GroupKey{AccountID: txn.AccountID, Merchant: Key(txn.Merchant())}

		s, ok := groups[key]
		if !ok {
			s = &Series{Key: key, Name: name}
			groups[key] = s
		}
		s.Transactions = append(s.Transactions, txn)
	}

	for _, s := range groups {
		sort.SliceStable(s.Transactions, func(i, j int) bool {
			a, b := s.Transactions[i], s.Transactions[j]
			if !a.Date.Equal(b.Date) {
				return a.Date.Before(b.Date)
			}
			return a.ID < b.ID
		})
		s.Insufficient = len(s.Charges()) < b.minTransactions
		if last, ok := s.LastCharge(); ok {
			s.Name = Normalize(last.Merchant())
		}
	}

	return groups
}
