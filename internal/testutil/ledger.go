package testutil

import (
	"fmt"
	"sort"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/model"
)

// Day returns midnight UTC of the given date.
func Day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

// Clock is a settable time source for components that take a now func.
type Clock struct {
	now time.Time
}

// NewClock creates a clock fixed at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fixed time.
func (c *Clock) Now() time.Time {
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.now = t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// Ledger builds transactions for one account with stable, readable IDs.
//
// Example:
//
//	txns := testutil.NewLedger("acc1").
//		Category("Entertainment").
//		Monthly("NETFLIX.COM", 15.99, testutil.Day(2024, 1, 15), 4).
//		Charge("SAFEWAY", 82.10, testutil.Day(2024, 2, 3)).
//		Build()
type Ledger struct {
	accountID string
	category  string
	txns      []model.Transaction
	seq       int
}

// NewLedger creates a ledger for accountID.
func NewLedger(accountID string) *Ledger {
	return &Ledger{accountID: accountID}
}

// Category sets the category applied to subsequently added transactions.
func (l *Ledger) Category(category string) *Ledger {
	l.category = category
	return l
}

// Charge adds one debit of amount (given as a positive number).
func (l *Ledger) Charge(merchant string, amount float64, date time.Time) *Ledger {
	return l.add(merchant, -amount, date)
}

// Credit adds one credit of amount.
func (l *Ledger) Credit(merchant string, amount float64, date time.Time) *Ledger {
	return l.add(merchant, amount, date)
}

// Monthly adds count debits one calendar month apart starting at start.
func (l *Ledger) Monthly(merchant string, amount float64, start time.Time, count int) *Ledger {
	for i := 0; i < count; i++ {
		l.Charge(merchant, amount, start.AddDate(0, i, 0))
	}
	return l
}

// Every adds count debits spaced by interval days starting at start.
func (l *Ledger) Every(merchant string, amount float64, start time.Time, interval, count int) *Ledger {
	for i := 0; i < count; i++ {
		l.Charge(merchant, amount, start.AddDate(0, 0, i*interval))
	}
	return l
}

// Amounts adds one monthly debit per amount starting at start.
func (l *Ledger) Amounts(merchant string, start time.Time, amounts ...float64) *Ledger {
	for i, amount := range amounts {
		l.Charge(merchant, amount, start.AddDate(0, i, 0))
	}
	return l
}

// On adds one debit per date.
func (l *Ledger) On(merchant string, amount float64, dates ...time.Time) *Ledger {
	for _, d := range dates {
		l.Charge(merchant, amount, d)
	}
	return l
}

// Last returns the most recently added transaction.
func (l *Ledger) Last() model.Transaction {
	return l.txns[len(l.txns)-1]
}

// Build returns the transactions sorted by date.
func (l *Ledger) Build() []model.Transaction {
	out := append([]model.Transaction(nil), l.txns...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (l *Ledger) add(merchant string, amount float64, date time.Time) *Ledger {
	l.seq++
	txn := model.Transaction{
		ID:        fmt.Sprintf("%s-%03d", l.accountID, l.seq),
		Date:      date,
		Name:      merchant,
		Amount:    amount,
		AccountID: l.accountID,
		Category:  l.category,
	}
	txn.Hash = txn.GenerateHash() + fmt.Sprintf("-%d", l.seq)
	l.txns = append(l.txns, txn)
	return l
}
