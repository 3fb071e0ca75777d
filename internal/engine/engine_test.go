package engine

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"gitlab.bluewillows.net/root/dnssync/internal/docker"
	"gitlab.bluewillows.net/root/dnssync/internal/tracker"
	"gitlab.bluewillows.net/root/dnssync/internal/traefik"
	"gitlab.bluewillows.net/root/dnssync/pkg/provider"
)

// fakeProvider is an in-memory backend built on the shared classify and
// apply passes, so it behaves like a real adapter.
type fakeProvider struct {
	name    string
	domain  string
	records map[string]provider.Record

	// staleCache, when non-nil, is served for non-forced reads instead
	// of the live store.
	staleCache []provider.Record

	deleted   []string
	failBatch error
}

func newFakeProvider(name, domain string) *fakeProvider {
	return &fakeProvider{
		name:    name,
		domain:  domain,
		records: make(map[string]provider.Record),
	}
}

func key(rtype, name string) string {
	return rtype + ":" + provider.NormalizeName(name)
}

func (f *fakeProvider) seed(rec provider.Record) {
	f.records[key(rec.Type, rec.Name)] = rec
}

func (f *fakeProvider) Name() string   { return f.name }
func (f *fakeProvider) Type() string   { return "fake" }
func (f *fakeProvider) Domain() string { return f.domain }

func (f *fakeProvider) Init(ctx context.Context) error         { return nil }
func (f *fakeProvider) Ping(ctx context.Context) error         { return nil }
func (f *fakeProvider) RefreshCache(ctx context.Context) error { return nil }

func (f *fakeProvider) Records(ctx context.Context, force bool) ([]provider.Record, error) {
	if !force && f.staleCache != nil {
		return f.staleCache, nil
	}
	out := make([]provider.Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeProvider) ListRecords(ctx context.Context) ([]provider.Record, error) {
	return f.Records(ctx, false)
}

func (f *fakeProvider) FindCached(rtype, name string) (provider.Record, bool) {
	rec, ok := f.records[key(rtype, name)]
	return rec, ok
}

func (f *fakeProvider) Validate(desired *provider.RecordConfig) error {
	return provider.ValidateRecord(desired, provider.Constraints{MinTTL: 1})
}

func (f *fakeProvider) NeedsUpdate(existing provider.Record, desired provider.RecordConfig) bool {
	return provider.NeedsUpdate(existing, desired)
}

func (f *fakeProvider) CreateRecord(ctx context.Context, desired provider.RecordConfig) (*provider.Record, error) {
	rec := provider.Record{
		ID:      "fake-" + f.name + "-" + provider.NormalizeName(desired.Name),
		Type:    desired.Type,
		Name:    provider.NormalizeName(desired.Name),
		Content: desired.Content,
		TTL:     desired.TTL,
		Proxied: desired.Proxied,
	}
	f.records[key(rec.Type, rec.Name)] = rec
	return &rec, nil
}

func (f *fakeProvider) UpdateRecord(ctx context.Context, existing provider.Record, desired provider.RecordConfig) (*provider.Record, error) {
	rec := existing
	rec.Content = desired.Content
	rec.TTL = desired.TTL
	rec.Proxied = desired.Proxied
	f.records[key(rec.Type, rec.Name)] = rec
	return &rec, nil
}

func (f *fakeProvider) DeleteRecord(ctx context.Context, rec provider.Record) error {
	delete(f.records, key(rec.Type, rec.Name))
	f.deleted = append(f.deleted, provider.NormalizeName(rec.Name))
	return nil
}

func (f *fakeProvider) EnsureRecords(ctx context.Context, desired []provider.RecordConfig) (*provider.BatchResult, error) {
	if f.failBatch != nil {
		return nil, f.failBatch
	}
	plan := provider.Classify(ctx, desired, f, nil, discard())
	return provider.ApplySequential(ctx, plan, f, discard()), nil
}

var _ provider.Provider = (*fakeProvider)(nil)

type fakeWorkloads struct {
	workloads docker.Workloads
	err       error
}

func (f *fakeWorkloads) ListWorkloads(ctx context.Context) (docker.Workloads, error) {
	return f.workloads, f.err
}

type fakeRouters struct {
	routers []traefik.Router
	err     error
}

func (f *fakeRouters) GetRouters(ctx context.Context) ([]traefik.Router, error) {
	return f.routers, f.err
}

type fakeFileRouters struct {
	rules map[string]string
}

func (f *fakeFileRouters) Routers(ctx context.Context) (map[string]string, error) {
	return f.rules, nil
}

type fakeIP struct{ v4 string }

func (f *fakeIP) PublicIPv4(ctx context.Context) (string, error) { return f.v4, nil }
func (f *fakeIP) PublicIPv6(ctx context.Context) (string, error) { return "", errors.New("no ipv6") }
func (f *fakeIP) CachedIPv4() string                             { return f.v4 }

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func webWorkload(hostname string, extra map[string]string) docker.Workload {
	labels := map[string]string{
		"traefik.http.routers.web.rule": "Host(`" + hostname + "`)",
	}
	for k, v := range extra {
		labels[k] = v
	}
	return docker.Workload{ID: "c1", Name: "web", Labels: labels, Type: docker.WorkloadTypeContainer}
}

func newTestEngine(t *testing.T, fp *fakeProvider, opts ...Option) (*Engine, *tracker.Tracker) {
	t.Helper()

	registry := provider.NewRegistry()
	if err := registry.Register(fp); err != nil {
		t.Fatal(err)
	}
	tracked, err := tracker.New(filepath.Join(t.TempDir(), "records.json"))
	if err != nil {
		t.Fatal(err)
	}

	opts = append([]Option{WithLogger(discard())}, opts...)
	e := New(registry, tracked, tracker.NewPreservedList(nil), &fakeIP{v4: "203.0.113.5"}, opts...)
	return e, tracked
}

func TestSyncCreatesAndTracksRecords(t *testing.T) {
	fp := newFakeProvider("cf", "example.com")
	e, tracked := newTestEngine(t, fp, WithWorkloads(&fakeWorkloads{
		workloads: docker.Workloads{webWorkload("app.example.com", nil)},
	}))

	result, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if result.WorkloadsScanned != 1 || result.HostnamesActive != 1 {
		t.Errorf("scanned=%d active=%d, want 1 and 1", result.WorkloadsScanned, result.HostnamesActive)
	}
	c := result.Counters()
	if c.Created != 1 {
		t.Errorf("Created = %d, want 1", c.Created)
	}

	rec, ok := fp.FindCached("CNAME", "app.example.com")
	if !ok {
		t.Fatal("record not created at the provider")
	}
	if rec.Content != "example.com" {
		t.Errorf("Content = %q, want the zone root", rec.Content)
	}
	if !tracked.IsTracked("cf", "example.com", "app.example.com", "CNAME") {
		t.Error("created record not registered in the tracker")
	}
	if result.Status() != "success" {
		t.Errorf("Status = %q, want success", result.Status())
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	fp := newFakeProvider("cf", "example.com")
	e, _ := newTestEngine(t, fp, WithWorkloads(&fakeWorkloads{
		workloads: docker.Workloads{webWorkload("app.example.com", nil)},
	}))

	if _, err := e.Sync(context.Background()); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	result, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}

	c := result.Counters()
	if c.Created != 0 || c.Updated != 0 || c.UpToDate != 1 {
		t.Errorf("second cycle Counters = %+v, want everything up to date", c)
	}
}

func TestSyncSkipLabel(t *testing.T) {
	fp := newFakeProvider("cf", "example.com")
	e, _ := newTestEngine(t, fp, WithWorkloads(&fakeWorkloads{
		workloads: docker.Workloads{webWorkload("app.example.com", map[string]string{"dns.skip": "true"})},
	}))

	result, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.HostnamesActive != 0 {
		t.Errorf("HostnamesActive = %d, opted-out workload must contribute nothing", result.HostnamesActive)
	}
	if len(fp.records) != 0 {
		t.Error("record created despite the skip label")
	}
}

func TestSkipLabelVetoesOtherSources(t *testing.T) {
	// A docker-provider router for a skipped workload still shows up in
	// the admin API routing table (and possibly in dynamic config
	// files); none of them may resurrect the hostname.
	fp := newFakeProvider("cf", "example.com")
	e, _ := newTestEngine(t, fp,
		WithWorkloads(&fakeWorkloads{
			workloads: docker.Workloads{webWorkload("app.example.com", map[string]string{"dns.skip": "true"})},
		}),
		WithRouters(&fakeRouters{routers: []traefik.Router{
			{Name: "web@docker", Rule: "Host(`app.example.com`)"},
			{Name: "files@file", Rule: "Host(`files.example.com`)"},
		}}),
		WithFileRouters(&fakeFileRouters{rules: map[string]string{
			"web": "Host(`APP.example.com.`)",
		}}),
	)

	result, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if result.HostnamesActive != 1 {
		t.Errorf("HostnamesActive = %d, want only the unrelated router hostname", result.HostnamesActive)
	}
	if _, ok := fp.FindCached("CNAME", "app.example.com"); ok {
		t.Error("record created for skipped hostname via another source")
	}
	if _, ok := fp.FindCached("CNAME", "files.example.com"); !ok {
		t.Error("unrelated router hostname not reconciled")
	}
}

func TestSyncHostnameOutsideZoneIgnored(t *testing.T) {
	fp := newFakeProvider("cf", "example.com")
	e, _ := newTestEngine(t, fp, WithWorkloads(&fakeWorkloads{
		workloads: docker.Workloads{webWorkload("app.other.org", nil)},
	}))

	result, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.HostnamesActive != 1 {
		t.Errorf("HostnamesActive = %d, want 1", result.HostnamesActive)
	}
	if len(fp.records) != 0 {
		t.Error("record created for hostname outside the provider zone")
	}
}

func TestOrphanCleanupDeletesTrackedInactive(t *testing.T) {
	fp := newFakeProvider("cf", "example.com")
	src := &fakeWorkloads{workloads: docker.Workloads{webWorkload("app.example.com", nil)}}
	e, tracked := newTestEngine(t, fp, WithWorkloads(src))

	if _, err := e.Sync(context.Background()); err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	// The workload goes away; its record should be cleaned up.
	src.workloads = nil
	result, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}

	if result.Deleted() != 1 {
		t.Errorf("Deleted = %d, want 1", result.Deleted())
	}
	if len(fp.deleted) != 1 || fp.deleted[0] != "app.example.com" {
		t.Errorf("provider deletions = %v", fp.deleted)
	}
	if tracked.IsTracked("cf", "example.com", "app.example.com", "CNAME") {
		t.Error("deleted record still tracked")
	}
}

func TestOrphanCleanupScansFreshRecords(t *testing.T) {
	fp := newFakeProvider("cf", "example.com")
	e, tracked := newTestEngine(t, fp, WithWorkloads(&fakeWorkloads{}))

	old := provider.Record{ID: "r1", Type: "CNAME", Name: "old.example.com", Content: "example.com", TTL: 300}
	fp.seed(old)
	if err := tracked.Track("cf", "example.com", old); err != nil {
		t.Fatal(err)
	}

	// The cached view predates the record; cleanup must fetch the
	// current list instead of trusting it.
	fp.staleCache = []provider.Record{}

	result, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if result.Deleted() != 1 {
		t.Errorf("Deleted = %d, want 1", result.Deleted())
	}
	if len(fp.deleted) != 1 || fp.deleted[0] != "old.example.com" {
		t.Errorf("provider deletions = %v, want the tracked orphan", fp.deleted)
	}
}

func TestOrphanCleanupNeverTouchesUntracked(t *testing.T) {
	fp := newFakeProvider("cf", "example.com")
	// A record someone created by hand, with no active hostname.
	fp.seed(provider.Record{ID: "manual", Type: "A", Name: "manual.example.com", Content: "203.0.113.9", TTL: 300})

	e, _ := newTestEngine(t, fp, WithWorkloads(&fakeWorkloads{}))

	if _, err := e.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(fp.deleted) != 0 {
		t.Errorf("untracked record deleted: %v", fp.deleted)
	}
	if _, ok := fp.FindCached("A", "manual.example.com"); !ok {
		t.Error("untracked record vanished")
	}
}

func TestOrphanCleanupHonorsPreservedList(t *testing.T) {
	fp := newFakeProvider("cf", "example.com")
	src := &fakeWorkloads{workloads: docker.Workloads{webWorkload("keep.example.com", nil)}}

	registry := provider.NewRegistry()
	if err := registry.Register(fp); err != nil {
		t.Fatal(err)
	}
	tracked, err := tracker.New(filepath.Join(t.TempDir(), "records.json"))
	if err != nil {
		t.Fatal(err)
	}
	preserved := tracker.NewPreservedList([]string{"keep.example.com"})
	e := New(registry, tracked, preserved, &fakeIP{v4: "203.0.113.5"},
		WithLogger(discard()), WithWorkloads(src))

	if _, err := e.Sync(context.Background()); err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	src.workloads = nil
	result, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if result.Deleted() != 0 || len(fp.deleted) != 0 {
		t.Error("preserved hostname was deleted")
	}
	if !tracked.IsTracked("cf", "example.com", "keep.example.com", "CNAME") {
		t.Error("preserved record was untracked")
	}
}

func TestOrphanCleanupDisabled(t *testing.T) {
	fp := newFakeProvider("cf", "example.com")
	src := &fakeWorkloads{workloads: docker.Workloads{webWorkload("app.example.com", nil)}}

	cfg := DefaultConfig()
	cfg.CleanupOrphans = false
	e, _ := newTestEngine(t, fp, WithWorkloads(src), WithConfig(cfg))

	if _, err := e.Sync(context.Background()); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	src.workloads = nil
	if _, err := e.Sync(context.Background()); err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if len(fp.deleted) != 0 {
		t.Error("cleanup ran despite being disabled")
	}
}

func TestSourceErrorAbortsCycle(t *testing.T) {
	fp := newFakeProvider("cf", "example.com")
	src := &fakeWorkloads{workloads: docker.Workloads{webWorkload("app.example.com", nil)}}
	routers := &fakeRouters{}
	e, _ := newTestEngine(t, fp, WithWorkloads(src), WithRouters(routers))

	if _, err := e.Sync(context.Background()); err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	// The admin API goes down. An empty active set would look like every
	// hostname went away; the cycle must abort instead of mass-deleting.
	routers.err = errors.New("connection refused")
	if _, err := e.Sync(context.Background()); err == nil {
		t.Fatal("Sync should fail when a hostname source errors")
	}
	if len(fp.deleted) != 0 {
		t.Errorf("records deleted during an aborted cycle: %v", fp.deleted)
	}
}

func TestProviderFailureSkipsItsCleanup(t *testing.T) {
	fp := newFakeProvider("cf", "example.com")
	src := &fakeWorkloads{workloads: docker.Workloads{webWorkload("app.example.com", nil)}}
	e, _ := newTestEngine(t, fp, WithWorkloads(src))

	if _, err := e.Sync(context.Background()); err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	fp.failBatch = errors.New("backend down")
	src.workloads = docker.Workloads{webWorkload("other.example.com", nil)}
	result, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}

	if result.Status() != "error" {
		t.Errorf("Status = %q, want error with the single provider down", result.Status())
	}
	if len(fp.deleted) != 0 {
		t.Error("cleanup ran for a provider whose batch failed")
	}
}

func TestRoutersContributeHostnames(t *testing.T) {
	fp := newFakeProvider("cf", "example.com")
	e, _ := newTestEngine(t, fp, WithRouters(&fakeRouters{
		routers: []traefik.Router{
			{Name: "web@file", Rule: "Host(`files.example.com`)"},
			{Name: "dash@internal", Rule: "PathPrefix(`/dash`)"},
		},
	}))

	result, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.HostnamesActive != 1 {
		t.Errorf("HostnamesActive = %d, want 1", result.HostnamesActive)
	}
	if _, ok := fp.FindCached("CNAME", "files.example.com"); !ok {
		t.Error("router-sourced hostname not reconciled")
	}
}

func TestTrySyncSwallowsInFlight(t *testing.T) {
	fp := newFakeProvider("cf", "example.com")
	e, _ := newTestEngine(t, fp, WithWorkloads(&fakeWorkloads{}))

	e.inFlight.Store(true)
	result, err := e.TrySync(context.Background())
	if err != nil || result != nil {
		t.Errorf("TrySync during a running cycle = %v, %v; want nil, nil", result, err)
	}
	e.inFlight.Store(false)

	if _, err := e.Sync(context.Background()); err != nil {
		t.Errorf("Sync after release: %v", err)
	}
}
