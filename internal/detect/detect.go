// Package detect holds the waste detectors. Detectors read an Input snapshot
// and return findings; they never write. The alert emitter and lifecycle
// tracker turn findings into stored state.
package detect

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/classification"
	"github.com/Veraticus/spice-sentinel/internal/config"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/series"
)

// Kind names a detector as requested on the command line.
type Kind string

// Kind constants.
const (
	KindAll           Kind = "all"
	KindAutoCancel    Kind = "auto_cancel"
	KindResume        Kind = "resume"
	KindZombie        Kind = "zombies"
	KindPriceIncrease Kind = "increases"
	KindDuplicate     Kind = "duplicates"
	KindAnomaly       Kind = "anomaly"
	KindTip           Kind = "tip"
)

// Kinds lists every detector kind in run order.
func Kinds() []Kind {
	return []Kind{KindAutoCancel, KindResume, KindZombie, KindPriceIncrease, KindDuplicate, KindAnomaly, KindTip}
}

// KindSet is a set of requested detector kinds.
type KindSet map[Kind]bool

// Has reports whether k was requested.
func (s KindSet) Has(k Kind) bool {
	return s[k]
}

// Sorted returns the requested kinds in run order.
func (s KindSet) Sorted() []Kind {
	var out []Kind
	for _, k := range Kinds() {
		if s[k] {
			out = append(out, k)
		}
	}
	return out
}

// ParseKinds converts names into a set. An empty list or "all" selects
// every kind.
func ParseKinds(names []string) (KindSet, error) {
	set := make(KindSet)
	valid := make(map[Kind]bool)
	for _, k := range Kinds() {
		valid[k] = true
	}

	for _, raw := range names {
		k := Kind(strings.ToLower(strings.TrimSpace(raw)))
		switch {
		case k == "":
			continue
		case k == KindAll:
			for _, each := range Kinds() {
				set[each] = true
			}
		case valid[k]:
			set[k] = true
		default:
			return nil, fmt.Errorf("unknown detector kind %q", raw)
		}
	}

	if len(set) == 0 {
		for _, each := range Kinds() {
			set[each] = true
		}
	}
	return set, nil
}

// Finding is one detected condition, not yet persisted.
type Finding struct {
	At             time.Time // Effective time of a status change: cancellation or resume
	Metadata       map[string]any
	SubscriptionID *int64
	TransactionID  *string
	Type           model.AlertType
	Subject        string // Dedup subject, e.g. "sub:12"
	Severity       model.Severity
	Message        string
	Fingerprint    string // Changes when the condition materially changes
}

// DedupKey returns the key that matches this finding to an existing alert.
func (f Finding) DedupKey() string {
	return model.DedupKey(f.Type, f.Subject)
}

// Failure is one detector evaluation that errored or panicked. Failures are
// reported alongside findings and never stop a run.
type Failure struct {
	Err     error
	Kind    Kind
	Subject string
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s detector failed on %s: %v", f.Kind, f.Subject, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// ReceiptPair is a receipt link together with the bank transaction it points
// at. Transaction is nil when the linked transaction does not exist.
type ReceiptPair struct {
	Transaction *model.Transaction
	Link        model.ReceiptLink
}

// Input is the read-only snapshot every detector works from.
type Input struct {
	AsOf          time.Time
	Series        series.Map
	Decisions     map[string]classification.Decision // Keyed by merchant key
	Buckets       *classification.BucketMatcher
	Subscriptions []model.Subscription
	Transactions  []model.Transaction
	Receipts      []ReceiptPair
	Config        config.Detection
}

// candidate reports whether a subscription's merchant is still eligible for
// subscription detectors. Confidently retail merchants are not.
func (in *Input) candidate(sub *model.Subscription) bool {
	d, ok := in.Decisions[sub.MerchantKey]
	return !ok || d.Candidate
}

func (in *Input) seriesFor(sub *model.Subscription) (*series.Series, bool) {
	return in.Series.Lookup(sub.AccountID, sub.MerchantKey)
}

// Detector produces findings of one kind.
type Detector interface {
	Kind() Kind
	Detect(ctx context.Context, in *Input) ([]Finding, []Failure)
}

// All returns one detector per kind, keyed by kind.
func All() map[Kind]Detector {
	return map[Kind]Detector{
		KindAutoCancel:    AutoCancel{},
		KindResume:        Resume{},
		KindZombie:        Zombie{},
		KindPriceIncrease: PriceIncrease{},
		KindDuplicate:     Duplicate{},
		KindAnomaly:       Anomaly{},
		KindTip:           Tip{},
	}
}

// collector isolates each subject's evaluation so one bad series cannot
// abort the rest of the detector.
type collector struct {
	kind     Kind
	findings []Finding
	failures []Failure
}

func (c *collector) evaluate(subject string, fn func() (*Finding, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.failures = append(c.failures, Failure{
				Kind:    c.kind,
				Subject: subject,
				Err:     fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
			})
		}
	}()

	f, err := fn()
	if err != nil {
		c.failures = append(c.failures, Failure{Kind: c.kind, Subject: subject, Err: err})
		return
	}
	if f != nil {
		c.findings = append(c.findings, *f)
	}
}

func (c *collector) results() ([]Finding, []Failure) {
	sort.SliceStable(c.findings, func(i, j int) bool {
		return c.findings[i].DedupKey() < c.findings[j].DedupKey()
	})
	return c.findings, c.failures
}

// subscriptionLoop runs fn for every subscription, stopping early when ctx
// is done.
func subscriptionLoop(ctx context.Context, in *Input, c *collector, fn func(sub *model.Subscription) (*Finding, error)) {
	for i := range in.Subscriptions {
		if ctx.Err() != nil {
			c.failures = append(c.failures, Failure{Kind: c.kind, Subject: "run", Err: ctx.Err()})
			return
		}
		sub := &in.Subscriptions[i]
		c.evaluate(model.SubscriptionSubject(sub.ID), func() (*Finding, error) {
			return fn(sub)
		})
	}
}

func subscriptionID(sub *model.Subscription) *int64 {
	id := sub.ID
	return &id
}

func dateString(t time.Time) string {
	return t.Format("2006-01-02")
}
