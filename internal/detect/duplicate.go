package detect

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Veraticus/spice-sentinel/internal/classification"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/money"
	"github.com/shopspring/decimal"
)

// Duplicate flags buckets served by two or more active subscriptions of the
// same account.
type Duplicate struct{}

// Kind implements Detector.
func (Duplicate) Kind() Kind { return KindDuplicate }

type bucketKey struct {
	account string
	bucket  classification.Bucket
}

func (k bucketKey) subject() string {
	return fmt.Sprintf("bucket:%s:%s", k.account, k.bucket)
}

// Detect implements Detector.
func (Duplicate) Detect(ctx context.Context, in *Input) ([]Finding, []Failure) {
	c := &collector{kind: KindDuplicate}

	buckets := in.Buckets
	if buckets == nil {
		buckets = classification.MustDefaultBucketMatcher()
	}

	groups := make(map[bucketKey][]*model.Subscription)
	for i := range in.Subscriptions {
		sub := &in.Subscriptions[i]
		if sub.Status != model.SubscriptionActive || !in.candidate(sub) {
			continue
		}
		if bucket, ok := buckets.Match(sub.Merchant); ok {
			key := bucketKey{account: sub.AccountID, bucket: bucket}
			groups[key] = append(groups[key], sub)
		}
	}

	keys := make([]bucketKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].account != keys[j].account {
			return keys[i].account < keys[j].account
		}
		return keys[i].bucket < keys[j].bucket
	})

	for _, key := range keys {
		if ctx.Err() != nil {
			c.failures = append(c.failures, Failure{Kind: KindDuplicate, Subject: "run", Err: ctx.Err()})
			break
		}
		members := groups[key]
		c.evaluate(key.subject(), func() (*Finding, error) {
			return duplicateFinding(key, members), nil
		})
	}

	return c.results()
}

func duplicateFinding(key bucketKey, members []*model.Subscription) *Finding {
	bucket := key.bucket
	if len(members) < 2 {
		return nil
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

	ids := make([]string, len(members))
	merchants := make([]string, len(members))
	detail := make([]map[string]any, len(members))
	monthly := decimal.Zero
	for i, sub := range members {
		ids[i] = strconv.FormatInt(sub.ID, 10)
		merchants[i] = sub.Merchant
		detail[i] = map[string]any{
			"subscription_id": sub.ID,
			"merchant":        sub.Merchant,
			"amount":          sub.Amount,
			"frequency":       string(sub.Frequency),
		}
		monthly = monthly.Add(monthlyCost(sub))
	}

	severity := model.SeverityLow
	if len(members) > 2 {
		severity = model.SeverityMedium
	}

	return &Finding{
		Type:           model.AlertDuplicate,
		Subject:        key.subject(),
		SubscriptionID: subscriptionID(members[0]),
		Severity:       severity,
		Message: fmt.Sprintf("%d %s subscriptions (%s) cost about %s a month",
			len(members), strings.ReplaceAll(string(bucket), "_", " "), strings.Join(merchants, ", "), money.Format(monthly)),
		Fingerprint: strings.Join(ids, ","),
		Metadata: map[string]any{
			"account_id":    key.account,
			"bucket":        string(bucket),
			"subscriptions": detail,
			"monthly_total": money.Float(monthly),
		},
	}
}

// monthlyCost normalizes a subscription's charge to a 30-day month.
func monthlyCost(sub *model.Subscription) decimal.Decimal {
	days := sub.Frequency.Days()
	if days == 0 {
		return decimal.Zero
	}
	return money.Abs(sub.Amount).Mul(decimal.NewFromInt(30)).DivRound(decimal.NewFromInt(int64(days)), 2)
}
