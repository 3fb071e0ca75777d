package provider

import (
	"context"
	"errors"
	"testing"
)

// fakePlanner backs Classify with a fixed record set and the shared
// validation and divergence rules.
type fakePlanner struct {
	cache *Cache
}

func (f *fakePlanner) Validate(desired *RecordConfig) error {
	return ValidateRecord(desired, Constraints{MinTTL: 60})
}

func (f *fakePlanner) FindCached(rtype, name string) (Record, bool) {
	return f.cache.Find(rtype, name)
}

func (f *fakePlanner) NeedsUpdate(existing Record, desired RecordConfig) bool {
	return NeedsUpdate(existing, desired)
}

type fakeResolver struct {
	v4, v6 string
	err    error
}

func (f *fakeResolver) PublicIPv4(ctx context.Context) (string, error) { return f.v4, f.err }
func (f *fakeResolver) PublicIPv6(ctx context.Context) (string, error) { return f.v6, f.err }

func TestClassifyBuckets(t *testing.T) {
	cache := NewCache(0)
	cache.ReplaceAll([]Record{
		{ID: "1", Type: "A", Name: "same.example.com", Content: "203.0.113.5", TTL: 300},
		{ID: "2", Type: "A", Name: "stale.example.com", Content: "203.0.113.6", TTL: 300},
	})
	p := &fakePlanner{cache: cache}

	desired := []RecordConfig{
		{Type: "A", Name: "same.example.com", Content: "203.0.113.5", TTL: 300},
		{Type: "A", Name: "stale.example.com", Content: "203.0.113.99", TTL: 300},
		{Type: "A", Name: "new.example.com", Content: "203.0.113.7", TTL: 300},
		{Type: "A", Name: "bad.example.com", Content: "not-an-ip", TTL: 300},
	}

	plan := Classify(context.Background(), desired, p, nil, nil)

	if len(plan.Creates) != 1 || plan.Creates[0].Name != "new.example.com" {
		t.Errorf("Creates = %+v, want new.example.com only", plan.Creates)
	}
	if len(plan.Updates) != 1 || plan.Updates[0].Existing.ID != "2" {
		t.Errorf("Updates = %+v, want stale.example.com only", plan.Updates)
	}
	if len(plan.Unchanged) != 1 || plan.Unchanged[0].ID != "1" {
		t.Errorf("Unchanged = %+v, want same.example.com only", plan.Unchanged)
	}
	if plan.Errors != 1 {
		t.Errorf("Errors = %d, want 1 for the invalid record", plan.Errors)
	}
}

func TestClassifyResolvesPendingContent(t *testing.T) {
	p := &fakePlanner{cache: NewCache(0)}
	resolver := &fakeResolver{v4: "198.51.100.4", v6: "2001:db8::4"}

	desired := []RecordConfig{
		{Type: "A", Name: "example.com", Content: PendingContent, TTL: 300, NeedsIPLookup: true},
		{Type: "AAAA", Name: "example.com", Content: PendingContent, TTL: 300, NeedsIPLookup: true},
	}

	plan := Classify(context.Background(), desired, p, resolver, nil)

	if len(plan.Creates) != 2 {
		t.Fatalf("Creates = %d, want 2", len(plan.Creates))
	}
	if plan.Creates[0].Content != "198.51.100.4" {
		t.Errorf("A content = %q, want resolved IPv4", plan.Creates[0].Content)
	}
	if plan.Creates[1].Content != "2001:db8::4" {
		t.Errorf("AAAA content = %q, want resolved IPv6", plan.Creates[1].Content)
	}
}

func TestClassifyPendingResolutionFailureSkipsOnlyThatRecord(t *testing.T) {
	p := &fakePlanner{cache: NewCache(0)}
	resolver := &fakeResolver{err: errors.New("lookup failed")}

	desired := []RecordConfig{
		{Type: "A", Name: "example.com", Content: PendingContent, TTL: 300, NeedsIPLookup: true},
		{Type: "CNAME", Name: "www.example.com", Content: "example.com", TTL: 300},
	}

	plan := Classify(context.Background(), desired, p, resolver, nil)

	if plan.Errors != 1 {
		t.Errorf("Errors = %d, want 1", plan.Errors)
	}
	if len(plan.Creates) != 1 || plan.Creates[0].Name != "www.example.com" {
		t.Errorf("Creates = %+v, want the CNAME to survive", plan.Creates)
	}
}

func TestClassifyPendingWithoutResolver(t *testing.T) {
	p := &fakePlanner{cache: NewCache(0)}

	desired := []RecordConfig{
		{Type: "A", Name: "example.com", Content: PendingContent, TTL: 300, NeedsIPLookup: true},
	}

	plan := Classify(context.Background(), desired, p, nil, nil)
	if plan.Errors != 1 || len(plan.Creates) != 0 {
		t.Errorf("plan = %+v, want the pending record counted as error", plan)
	}
}

// fakeApplier records the writes ApplySequential issues and can fail
// specific names.
type fakeApplier struct {
	created []string
	updated []string
	failOn  map[string]bool
	nextID  int
}

func (f *fakeApplier) CreateRecord(ctx context.Context, desired RecordConfig) (*Record, error) {
	if f.failOn[desired.Name] {
		return nil, errors.New("backend rejected create")
	}
	f.nextID++
	f.created = append(f.created, desired.Name)
	return &Record{ID: "new", Type: desired.Type, Name: desired.Name, Content: desired.Content, TTL: desired.TTL}, nil
}

func (f *fakeApplier) UpdateRecord(ctx context.Context, existing Record, desired RecordConfig) (*Record, error) {
	if f.failOn[desired.Name] {
		return nil, errors.New("backend rejected update")
	}
	f.updated = append(f.updated, desired.Name)
	rec := existing
	rec.Content = desired.Content
	return &rec, nil
}

func TestApplySequentialCountersSumToInput(t *testing.T) {
	plan := Plan{
		Creates: []RecordConfig{
			{Type: "A", Name: "a.example.com", Content: "203.0.113.1", TTL: 300},
			{Type: "A", Name: "fail-create.example.com", Content: "203.0.113.2", TTL: 300},
		},
		Updates: []Update{
			{
				Existing: Record{ID: "1", Type: "A", Name: "b.example.com", Content: "203.0.113.3", TTL: 300},
				Desired:  RecordConfig{Type: "A", Name: "b.example.com", Content: "203.0.113.4", TTL: 300},
			},
		},
		Unchanged: []Record{{ID: "2", Type: "A", Name: "c.example.com", Content: "203.0.113.5", TTL: 300}},
		Errors:    1,
	}
	applier := &fakeApplier{failOn: map[string]bool{"fail-create.example.com": true}}

	result := ApplySequential(context.Background(), plan, applier, nil)

	want := BatchCounters{Created: 1, Updated: 1, UpToDate: 1, Errors: 2}
	if result.Counters != want {
		t.Errorf("Counters = %+v, want %+v", result.Counters, want)
	}
	if result.Counters.Total() != 5 {
		t.Errorf("Total = %d, want 5 (the full desired set)", result.Counters.Total())
	}
}

func TestApplySequentialWrittenRecordsComeFirst(t *testing.T) {
	plan := Plan{
		Creates:   []RecordConfig{{Type: "A", Name: "new.example.com", Content: "203.0.113.1", TTL: 300}},
		Unchanged: []Record{{ID: "1", Type: "A", Name: "old.example.com", Content: "203.0.113.2", TTL: 300}},
	}

	result := ApplySequential(context.Background(), plan, &fakeApplier{}, nil)

	if len(result.Records) != 2 {
		t.Fatalf("Records = %d, want 2", len(result.Records))
	}
	written := result.Counters.Created + result.Counters.Updated
	if result.Records[0].Name != "new.example.com" {
		t.Errorf("first record = %q, want the written one", result.Records[0].Name)
	}
	if result.Records[written].Name != "old.example.com" {
		t.Errorf("record after written prefix = %q, want the unchanged one", result.Records[written].Name)
	}
}

func TestBatchCountersAdd(t *testing.T) {
	a := BatchCounters{Created: 1, Updated: 2, UpToDate: 3, Errors: 4}
	a.Add(BatchCounters{Created: 10, Updated: 20, UpToDate: 30, Errors: 40})
	want := BatchCounters{Created: 11, Updated: 22, UpToDate: 33, Errors: 44}
	if a != want {
		t.Errorf("Add = %+v, want %+v", a, want)
	}
}
