package classification

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Bucket is a service category used by duplicate detection. Two active
// subscriptions in the same bucket are likely redundant.
type Bucket string

// Bucket constants.
const (
	BucketStreamingVideo     Bucket = "streaming_video"
	BucketMusic              Bucket = "music"
	BucketCloudStorage       Bucket = "cloud_storage"
	BucketFitness            Bucket = "fitness"
	BucketNews               Bucket = "news"
	BucketGaming             Bucket = "gaming"
	BucketPasswordManager    Bucket = "password_manager"
	BucketVPN                Bucket = "vpn"
	BucketMealKit            Bucket = "meal_kit"
	BucketAudiobooks         Bucket = "audiobooks"
	BucketDeliveryMembership Bucket = "delivery_membership"
)

// BucketPattern maps merchants matching Regex to a Bucket.
type BucketPattern struct {
	Bucket   Bucket
	Regex    string
	Priority int // Higher priority patterns are checked first
}

type compiledBucket struct {
	regex *regexp.Regexp
	BucketPattern
}

// BucketMatcher assigns merchants to duplicate-detection buckets.
type BucketMatcher struct {
	patterns []compiledBucket
}

// NewBucketMatcher compiles patterns, case-insensitively, in priority order.
func NewBucketMatcher(patterns []BucketPattern) (*BucketMatcher, error) {
	compiled := make([]compiledBucket, 0, len(patterns))

	for _, p := range patterns {
		regexStr := p.Regex
		if !strings.HasPrefix(regexStr, "(?i)") {
			regexStr = "(?i)" + regexStr
		}

		regex, err := regexp.Compile(regexStr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile bucket pattern %s: %w", p.Bucket, err)
		}

		compiled = append(compiled, compiledBucket{BucketPattern: p, regex: regex})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})

	return &BucketMatcher{patterns: compiled}, nil
}

// MustDefaultBucketMatcher returns a matcher over DefaultBuckets.
func MustDefaultBucketMatcher() *BucketMatcher {
	m, err := NewBucketMatcher(DefaultBuckets())
	if err != nil {
		panic(err)
	}
	return m
}

// Match returns the bucket for a merchant name, if any.
func (m *BucketMatcher) Match(merchant string) (Bucket, bool) {
	for _, p := range m.patterns {
		if p.regex.MatchString(merchant) {
			return p.Bucket, true
		}
	}
	return "", false
}

// PatternCount returns the number of loaded patterns.
func (m *BucketMatcher) PatternCount() int {
	return len(m.patterns)
}
