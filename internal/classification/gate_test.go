package classification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/config"
	"github.com/Veraticus/spice-sentinel/internal/llm"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	entries map[string]model.MerchantClassification
	mu      sync.Mutex
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]model.MerchantClassification)}
}

func (c *memoryCache) GetMerchantClassification(_ context.Context, merchant string) (*model.MerchantClassification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[merchant]
	if !ok {
		return nil, fmt.Errorf("merchant %s: %w", merchant, common.ErrNotFound)
	}
	return &entry, nil
}

func (c *memoryCache) SaveMerchantClassification(_ context.Context, entry *model.MerchantClassification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[entry.Merchant]; ok && existing.IsOverride() && !entry.IsOverride() {
		return nil
	}
	c.entries[entry.Merchant] = *entry
	return nil
}

func (c *memoryCache) DeleteMerchantClassification(_ context.Context, merchant string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, merchant)
	return nil
}

func (c *memoryCache) ListMerchantClassifications(_ context.Context) ([]model.MerchantClassification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.MerchantClassification, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out, nil
}

type stubOracle struct {
	answers map[string]llm.Answer
	err     error
	delay   time.Duration
	calls   int32
}

func (o *stubOracle) Classify(ctx context.Context, merchant, _ string) (llm.Answer, error) {
	atomic.AddInt32(&o.calls, 1)
	if o.delay > 0 {
		select {
		case <-ctx.Done():
			return llm.Answer{}, fmt.Errorf("%w: %w", common.ErrOracleUnavailable, ctx.Err())
		case <-time.After(o.delay):
		}
	}
	if o.err != nil {
		return llm.Answer{}, o.err
	}
	answer, ok := o.answers[merchant]
	if !ok {
		return llm.Answer{}, fmt.Errorf("%w: no answer", common.ErrOracleUnavailable)
	}
	return answer, nil
}

func TestDecide(t *testing.T) {
	cfg := config.DefaultDetection()

	tests := []struct {
		verdict       Verdict
		name          string
		wantProfile   model.Profile
		wantCandidate bool
	}{
		{name: "confident subscription", verdict: Subscription{Confidence: 0.70}, wantProfile: model.ProfileSmart, wantCandidate: true},
		{name: "unsure subscription", verdict: Subscription{Confidence: 0.69}, wantProfile: model.ProfileStrict, wantCandidate: true},
		{name: "confident retail", verdict: Retail{Confidence: 0.9}, wantProfile: model.ProfileStrict, wantCandidate: false},
		{name: "unsure retail", verdict: Retail{Confidence: 0.5}, wantProfile: model.ProfileStrict, wantCandidate: true},
		{name: "unavailable", verdict: Unavailable{Reason: common.ErrOracleUnavailable}, wantProfile: model.ProfileStrict, wantCandidate: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.verdict, model.SourceOllama, cfg)
			assert.Equal(t, tt.wantProfile, d.Profile)
			assert.Equal(t, tt.wantCandidate, d.Candidate)
		})
	}
}

func TestGate_UserOverrideSkipsOracle(t *testing.T) {
	cache := newMemoryCache()
	cache.entries["costco"] = model.MerchantClassification{
		Merchant: "costco", Classification: model.LabelRetail, Source: model.SourceUserOverride, Confidence: 1,
	}
	oracle := &stubOracle{answers: map[string]llm.Answer{"COSTCO": {Label: model.LabelSubscription, Confidence: 0.99}}}
	gate := NewGate(cache, oracle, config.DefaultDetection(), nil)

	d := gate.Classify(context.Background(), "costco", "COSTCO", "")
	assert.Equal(t, model.SourceUserOverride, d.Source)
	assert.False(t, d.Candidate)
	assert.IsType(t, Retail{}, d.Verdict)

	d = gate.Refresh(context.Background(), "costco", "COSTCO", "")
	assert.Equal(t, model.SourceUserOverride, d.Source)
	assert.Equal(t, int32(0), atomic.LoadInt32(&oracle.calls))
}

func TestGate_CacheMissCallsOracleAndStores(t *testing.T) {
	cache := newMemoryCache()
	oracle := &stubOracle{answers: map[string]llm.Answer{"NETFLIX": {Label: model.LabelSubscription, Confidence: 0.95}}}
	gate := NewGate(cache, oracle, config.DefaultDetection(), nil)

	d := gate.Classify(context.Background(), "netflix", "NETFLIX", "Entertainment")
	assert.Equal(t, model.ProfileSmart, d.Profile)
	assert.Equal(t, model.SourceOllama, d.Source)

	stored, err := cache.GetMerchantClassification(context.Background(), "netflix")
	require.NoError(t, err)
	assert.Equal(t, model.LabelSubscription, stored.Classification)
	assert.Equal(t, model.SourceOllama, stored.Source)

	// Cached now; the oracle is not asked again.
	gate.Classify(context.Background(), "netflix", "NETFLIX", "")
	assert.Equal(t, int32(1), atomic.LoadInt32(&oracle.calls))

	// Refresh re-queries.
	gate.Refresh(context.Background(), "netflix", "NETFLIX", "")
	assert.Equal(t, int32(2), atomic.LoadInt32(&oracle.calls))
}

func TestGate_OracleFailureDegradesToStrict(t *testing.T) {
	cache := newMemoryCache()
	oracle := &stubOracle{err: fmt.Errorf("%w: connection refused", common.ErrOracleUnavailable)}
	gate := NewGate(cache, oracle, config.DefaultDetection(), nil)

	d := gate.Classify(context.Background(), "hulu", "HULU", "")
	unavailable, ok := d.Verdict.(Unavailable)
	require.True(t, ok)
	assert.True(t, errors.Is(unavailable.Reason, common.ErrOracleUnavailable))
	assert.Equal(t, model.ProfileStrict, d.Profile)
	assert.True(t, d.Candidate)

	entries, err := cache.ListMerchantClassifications(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries, "failures are not cached")
}

func TestGate_NoOracle(t *testing.T) {
	gate := NewGate(newMemoryCache(), nil, config.DefaultDetection(), nil)
	d := gate.Classify(context.Background(), "hulu", "HULU", "")
	assert.IsType(t, Unavailable{}, d.Verdict)
	assert.Equal(t, "unknown", Describe(d.Verdict))
}

func TestGate_OracleTimeout(t *testing.T) {
	cfg := config.DefaultDetection()
	cfg.OracleTimeout = 20 * time.Millisecond
	oracle := &stubOracle{delay: time.Second}
	gate := NewGate(newMemoryCache(), oracle, cfg, nil)

	start := time.Now()
	d := gate.Classify(context.Background(), "slowflix", "SLOWFLIX", "")
	assert.IsType(t, Unavailable{}, d.Verdict)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestGate_ClassifyAll(t *testing.T) {
	oracle := &stubOracle{answers: map[string]llm.Answer{
		"NETFLIX": {Label: model.LabelSubscription, Confidence: 0.9},
		"SAFEWAY": {Label: model.LabelRetail, Confidence: 0.95},
	}}
	gate := NewGate(newMemoryCache(), oracle, config.DefaultDetection(), nil)

	all := []*series.Series{
		{Key: series.GroupKey{AccountID: "a", Merchant: "netflix"}, Name: "NETFLIX"},
		{Key: series.GroupKey{AccountID: "b", Merchant: "netflix"}, Name: "NETFLIX"},
		{Key: series.GroupKey{AccountID: "a", Merchant: "safeway"}, Name: "SAFEWAY"},
		{Key: series.GroupKey{AccountID: "a", Merchant: "mystery"}, Name: "MYSTERY"},
	}

	decisions := gate.ClassifyAll(context.Background(), all, 4)
	require.Len(t, decisions, 3)
	assert.Equal(t, model.ProfileSmart, decisions["netflix"].Profile)
	assert.False(t, decisions["safeway"].Candidate)
	assert.IsType(t, Unavailable{}, decisions["mystery"].Verdict)
	assert.Equal(t, int32(3), atomic.LoadInt32(&oracle.calls), "shared merchants are classified once")
}
