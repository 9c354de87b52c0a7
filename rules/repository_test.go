package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for cache expiry tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func timePtr(t time.Time) *time.Time { return &t }

func repositoryFixture(t *testing.T, cache RulesCache) *Repository {
	t.Helper()
	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	dec := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)

	rules := []*Rule{
		{ID: "global-pricing", Type: RuleTypePricing, Enabled: true},
		{ID: "eu-pricing", Type: RuleTypePricing, Enabled: true, Metadata: Metadata{Region: "EU"}},
		{ID: "disabled-pricing", Type: RuleTypePricing, Enabled: false},
		{ID: "global-compliance", Type: RuleTypeCompliance, Enabled: true},
		{ID: "seasonal", Type: RuleTypePricing, Enabled: true, Metadata: Metadata{ValidFrom: &jan, ValidTo: &dec}},
		{ID: "expired", Type: RuleTypePricing, Enabled: true, Metadata: Metadata{ValidTo: timePtr(jan.AddDate(-1, 0, 0))}},
	}
	repo, err := NewRepository(rules, cache, nil)
	if err != nil {
		t.Fatalf("NewRepository() failed: %v", err)
	}
	return repo
}

func ruleIDs(rules []*Rule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestGetApplicableRulesFilters(t *testing.T) {
	repo := repositoryFixture(t, nil)
	june := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name   string
		region string
		at     time.Time
		types  []RuleType
		want   []string
	}{
		{"all types in US", "US", june, nil, []string{"global-pricing", "global-compliance", "seasonal"}},
		{"pricing in EU", "EU", june, []RuleType{RuleTypePricing}, []string{"global-pricing", "eu-pricing", "seasonal"}},
		{"compliance only", "US", june, []RuleType{RuleTypeCompliance}, []string{"global-compliance"}},
		{"outside window", "US", june.AddDate(1, 0, 0), []RuleType{RuleTypePricing}, []string{"global-pricing"}},
		{"no matching type", "US", june, []RuleType{RuleTypeRecommendation}, []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := repo.GetApplicableRules(context.Background(), ExecutionContext{Region: tc.region, Timestamp: tc.at}, tc.types...)
			if err != nil {
				t.Fatalf("GetApplicableRules() failed: %v", err)
			}
			if !equalIDs(ruleIDs(got), tc.want) {
				t.Errorf("GetApplicableRules() = %v, want %v", ruleIDs(got), tc.want)
			}
		})
	}
}

func TestGetApplicableRulesWindowBoundsInclusive(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	repo, _ := NewRepository([]*Rule{
		{ID: "january", Type: RuleTypePricing, Enabled: true, Metadata: Metadata{ValidFrom: &from, ValidTo: &to}},
	}, nil, nil)

	for _, at := range []time.Time{from, to} {
		got, err := repo.GetApplicableRules(context.Background(), ExecutionContext{Timestamp: at})
		if err != nil {
			t.Fatalf("GetApplicableRules() failed: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("rule should apply at boundary %s", at)
		}
	}
}

func TestGetApplicableRulesCacheReturnsSameSlice(t *testing.T) {
	clock := newFakeClock()
	cache := NewInMemoryRulesCache(CacheConfig{TTL: 5 * time.Minute, Now: clock.Now})
	repo := repositoryFixture(t, cache)
	ec := ExecutionContext{Region: "EU", Timestamp: clock.Now()}

	first, err := repo.GetApplicableRules(context.Background(), ec, RuleTypePricing, RuleTypeCompliance)
	if err != nil {
		t.Fatalf("GetApplicableRules() failed: %v", err)
	}
	// Argument order does not change the key
	second, err := repo.GetApplicableRules(context.Background(), ec, RuleTypeCompliance, RuleTypePricing)
	if err != nil {
		t.Fatalf("GetApplicableRules() failed: %v", err)
	}

	if len(first) == 0 || &first[0] != &second[0] {
		t.Error("second lookup within the TTL should return the cached slice")
	}
	if cache.Len() != 1 {
		t.Errorf("cache should hold 1 entry, has %d", cache.Len())
	}

	clock.Advance(6 * time.Minute)
	third, _ := repo.GetApplicableRules(context.Background(), ec, RuleTypePricing, RuleTypeCompliance)
	if &third[0] == &first[0] {
		t.Error("lookup after the TTL should recompute")
	}
}

func TestGetApplicableRulesMalformedWindow(t *testing.T) {
	from := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo, _ := NewRepository([]*Rule{
		{ID: "inverted", Type: RuleTypePricing, Enabled: true, Metadata: Metadata{ValidFrom: &from, ValidTo: &to}},
	}, nil, nil)

	_, err := repo.GetApplicableRules(context.Background(), ExecutionContext{Timestamp: from})
	if !errors.Is(err, ErrMalformedRule) {
		t.Errorf("expected ErrMalformedRule, got %v", err)
	}
}

func TestRepositoryReplaceInvalidatesCache(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())
	repo := repositoryFixture(t, cache)
	ec := ExecutionContext{Region: "US", Timestamp: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}

	before, _ := repo.GetApplicableRules(context.Background(), ec, RuleTypePricing)

	r, err := repo.Get("disabled-pricing")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	enabled := r.Clone()
	enabled.Enabled = true
	if err := repo.Replace(enabled); err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}
	if r.Enabled {
		t.Error("Replace() must not mutate the previous rule value")
	}

	after, _ := repo.GetApplicableRules(context.Background(), ec, RuleTypePricing)
	if len(after) != len(before)+1 {
		t.Errorf("expected %d rules after enabling, got %v", len(before)+1, ruleIDs(after))
	}

	if err := repo.Replace(&Rule{ID: "nope"}); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Replace() of unknown rule should return ErrRuleNotFound, got %v", err)
	}
}

// A lookup computed before a toggle must not be cached after the toggle's
// invalidation, or the toggled rule stays stale for a full TTL.
func TestRepositoryDropsLookupComputedBeforeReplace(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())
	repo := repositoryFixture(t, cache)
	ec := ExecutionContext{Region: "US", Timestamp: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	types := []RuleType{RuleTypePricing}

	stale, generation, err := repo.applicable(ec, types)
	if err != nil {
		t.Fatalf("applicable() failed: %v", err)
	}

	r, _ := repo.Get("disabled-pricing")
	enabled := r.Clone()
	enabled.Enabled = true
	if err := repo.Replace(enabled); err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}

	repo.remember(cacheKey(ec.Region, types), stale, generation)
	if cache.Len() != 0 {
		t.Fatalf("stale lookup was cached; cache holds %d entries", cache.Len())
	}

	fresh, _ := repo.GetApplicableRules(context.Background(), ec, types...)
	if len(fresh) != len(stale)+1 {
		t.Errorf("expected the enabled rule to apply, got %v", ruleIDs(fresh))
	}
	if cache.Len() != 1 {
		t.Errorf("current lookup should be cached; cache holds %d entries", cache.Len())
	}
}

func TestNewRepositoryRejectsDuplicates(t *testing.T) {
	_, err := NewRepository([]*Rule{{ID: "a"}, {ID: "a"}}, nil, nil)
	if !errors.Is(err, ErrDuplicateRule) {
		t.Errorf("expected ErrDuplicateRule, got %v", err)
	}
}

func TestInMemoryRulesCacheSweep(t *testing.T) {
	clock := newFakeClock()
	cache := NewInMemoryRulesCache(CacheConfig{TTL: time.Minute, Now: clock.Now})

	cache.Set("old", []*Rule{})
	clock.Advance(2 * time.Minute)
	cache.Set("fresh", []*Rule{})

	if _, ok := cache.Get("old"); ok {
		t.Error("expired entry should miss")
	}
	if removed := cache.Sweep(); removed != 1 {
		t.Errorf("Sweep() removed %d entries, want 1", removed)
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
	if _, ok := cache.Get("fresh"); !ok {
		t.Error("fresh entry should hit")
	}

	cache.Invalidate()
	if cache.Len() != 0 {
		t.Errorf("Len() after Invalidate = %d, want 0", cache.Len())
	}
}

func TestInMemoryRulesCacheNoTTL(t *testing.T) {
	clock := newFakeClock()
	cache := NewInMemoryRulesCache(CacheConfig{Now: clock.Now})
	cache.Set("k", []*Rule{{ID: "a"}})
	clock.Advance(24 * time.Hour)

	if _, ok := cache.Get("k"); !ok {
		t.Error("entry without TTL should never expire")
	}
}

func TestInMemoryRulesCacheConcurrentAccess(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := cacheKey("US", []RuleType{AllRuleTypes[i%len(AllRuleTypes)]})
			cache.Set(key, []*Rule{})
			cache.Get(key)
			if i%10 == 0 {
				cache.Sweep()
			}
		}(i)
	}
	wg.Wait()
}
