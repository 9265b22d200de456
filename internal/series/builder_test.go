package series

import (
	"testing"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "NETFLIX.COM", want: "NETFLIX"},
		{raw: "Netflix.com 866-579-7172 CA", want: "NETFLIX"},
		{raw: "SQ *BLUE BOTTLE COFFEE", want: "BLUE BOTTLE COFFEE"},
		{raw: "TST* JOES PIZZA #0042", want: "JOES PIZZA"},
		{raw: "PAYPAL *SPOTIFY P1A2B3C4", want: "SPOTIFY"},
		{raw: "POS DEBIT PURCHASE STARBUCKS STORE 1234 SEATTLE WA", want: "STARBUCKS SEATTLE"},
		{raw: "RECURRING AMAZON PRIME*2K4L5", want: "AMAZON PRIME"},
		{raw: "  hulu   ", want: "HULU"},
		{raw: "7-ELEVEN", want: "7-ELEVEN"},
		{raw: "#1234", want: "#1234"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestKey_GroupsVariants(t *testing.T) {
	assert.Equal(t, Key("NETFLIX.COM"), Key("Netflix.com 866-579-7172 CA"))
	assert.Equal(t, "netflix", Key("NETFLIX.COM"))
}

func charge(id, merchant string, date time.Time, amount float64) model.Transaction {
	return model.Transaction{ID: id, Name: merchant, AccountID: "acc1", Date: date, Amount: -amount}
}

func TestBuilder_Build(t *testing.T) {
	jan := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	txns := []model.Transaction{
		charge("n3", "NETFLIX.COM", jan.AddDate(0, 2, 0), 15.99),
		charge("n1", "NETFLIX.COM", jan, 15.99),
		charge("n2", "Netflix.com 866-579-7172 CA", jan.AddDate(0, 1, 0), 15.99),
		charge("h1", "HULU", jan, 7.99),
		{ID: "r1", Name: "NETFLIX.COM", AccountID: "acc1", Date: jan.AddDate(0, 1, 2), Amount: 15.99},
		{ID: "o1", Name: "NETFLIX.COM", AccountID: "acc2", Date: jan, Amount: -15.99},
	}

	groups := NewBuilder(2).Build(txns)
	require.Len(t, groups, 3)

	netflix, ok := groups.Lookup("acc1", "netflix")
	require.True(t, ok)
	assert.Equal(t, "NETFLIX", netflix.Name)
	require.Len(t, netflix.Transactions, 4)
	assert.Equal(t, []string{"n1", "n2", "r1", "n3"}, ids(netflix.Transactions))
	assert.Len(t, netflix.Charges(), 3)
	assert.False(t, netflix.Insufficient)

	last, ok := netflix.LastCharge()
	require.True(t, ok)
	assert.Equal(t, "n3", last.ID)
	assert.Equal(t, []string{"n3"}, ids(netflix.ChargesAfter(jan.AddDate(0, 1, 0))))

	hulu, ok := groups.Lookup("acc1", "hulu")
	require.True(t, ok)
	assert.True(t, hulu.Insufficient, "one charge is below the minimum")

	other, ok := groups.Lookup("acc2", "netflix")
	require.True(t, ok)
	assert.True(t, other.Insufficient)

	sorted := groups.Sorted()
	require.Len(t, sorted, 3)
	assert.Equal(t, "acc1/hulu", sorted[0].Key.String())
	assert.Equal(t, "acc1/netflix", sorted[1].Key.String())
	assert.Equal(t, "acc2/netflix", sorted[2].Key.String())
}

func TestBuilder_PrefersMerchantName(t *testing.T) {
	txns := []model.Transaction{
		{ID: "a", Name: "CHECKCARD 0115 SPOTIFY USA NY", MerchantName: "Spotify", AccountID: "acc", Date: time.Now(), Amount: -9.99},
		{ID: "b", Name: "SPOTIFY P0123", MerchantName: "Spotify", AccountID: "acc", Date: time.Now(), Amount: -9.99},
	}
	groups := NewBuilder(2).Build(txns)
	require.Len(t, groups, 1)
	_, ok := groups.Lookup("acc", "spotify")
	assert.True(t, ok)
}

func TestSeries_Category(t *testing.T) {
	now := time.Now()
	s := &Series{Transactions: []model.Transaction{
		{Category: "Dining", Amount: -10, Date: now},
		{Category: "Groceries", Amount: -10, Date: now},
		{Category: "Dining", Amount: -10, Date: now},
		{Category: "Income", Amount: 100, Date: now},
		{Amount: -5, Date: now},
	}}
	assert.Equal(t, "Dining", s.Category())

	tied := &Series{Transactions: []model.Transaction{
		{Category: "B", Amount: -1},
		{Category: "A", Amount: -1},
	}}
	assert.Equal(t, "A", tied.Category())
}

func ids(txns []model.Transaction) []string {
	out := make([]string, len(txns))
	for i, txn := range txns {
		out[i] = txn.ID
	}
	return out
}
