package route53

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	awsroute53 "github.com/aws/aws-sdk-go/service/route53"

	"gitlab.bluewillows.net/root/dnssync/pkg/provider"
)

// api is the slice of the Route53 SDK surface the adapter uses. Tests
// substitute a fake.
type api interface {
	GetHostedZoneWithContext(aws.Context, *awsroute53.GetHostedZoneInput, ...request.Option) (*awsroute53.GetHostedZoneOutput, error)
	ListHostedZonesByNameWithContext(aws.Context, *awsroute53.ListHostedZonesByNameInput, ...request.Option) (*awsroute53.ListHostedZonesByNameOutput, error)
	ListResourceRecordSetsPagesWithContext(aws.Context, *awsroute53.ListResourceRecordSetsInput, func(*awsroute53.ListResourceRecordSetsOutput, bool) bool, ...request.Option) error
	ChangeResourceRecordSetsWithContext(aws.Context, *awsroute53.ChangeResourceRecordSetsInput, ...request.Option) (*awsroute53.ChangeResourceRecordSetsOutput, error)
}

// Provider implements provider.Provider on top of the Route53 API.
//
// Route53 has no persistent record id and no update primitive: identity
// is synthesized from name+type, and every update is a delete+create pair
// submitted inside one change batch.
type Provider struct {
	name     string
	zone     string
	zoneID   string
	api      api
	cache    *provider.Cache
	resolver provider.IPResolver
	logger   *slog.Logger

	initMu      sync.Mutex
	initialized bool
}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithResolver sets the public-IP resolver used for deferred apex records.
func WithResolver(resolver provider.IPResolver) Option {
	return func(p *Provider) {
		p.resolver = resolver
	}
}

// WithAPI sets a custom Route53 API client (useful for testing).
func WithAPI(client api) Option {
	return func(p *Provider) {
		p.api = client
	}
}

// New creates a new Route53 provider instance.
func New(name string, cfg *Config, opts ...Option) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		name:   name,
		zone:   provider.NormalizeName(cfg.Zone),
		zoneID: cfg.ZoneID,
		cache:  provider.NewCache(cfg.CacheMaxAge),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.api == nil {
		sess, err := session.NewSession(&aws.Config{
			Region:      aws.String(cfg.Region),
			Credentials: credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		})
		if err != nil {
			return nil, fmt.Errorf("creating aws session: %w", err)
		}
		p.api = awsroute53.New(sess)
	}
	return p, nil
}

// Name returns the provider instance name.
func (p *Provider) Name() string { return p.name }

// Type returns "route53".
func (p *Provider) Type() string { return "route53" }

// Domain returns the managed zone name.
func (p *Provider) Domain() string { return p.zone }

// Init resolves and verifies the hosted zone id. Idempotent.
func (p *Provider) Init(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	if p.initialized {
		return nil
	}

	if p.zoneID != "" {
		out, err := p.api.GetHostedZoneWithContext(ctx, &awsroute53.GetHostedZoneInput{
			Id: aws.String(p.zoneID),
		})
		if err != nil {
			return provider.WrapError(p.name, "init", mapAWSError(err))
		}
		if p.zone == "" && out.HostedZone != nil {
			p.zone = provider.NormalizeName(aws.StringValue(out.HostedZone.Name))
		}
	} else {
		out, err := p.api.ListHostedZonesByNameWithContext(ctx, &awsroute53.ListHostedZonesByNameInput{
			DNSName: aws.String(p.zone + "."),
		})
		if err != nil {
			return provider.WrapError(p.name, "init", mapAWSError(err))
		}
		for _, hz := range out.HostedZones {
			if provider.NormalizeName(aws.StringValue(hz.Name)) == p.zone {
				p.zoneID = aws.StringValue(hz.Id)
				break
			}
		}
		if p.zoneID == "" {
			return provider.WrapError(p.name, "init",
				fmt.Errorf("hosted zone %s: %w", p.zone, provider.ErrZoneNotFound))
		}
	}
	p.initialized = true

	p.logger.Info("route53 hosted zone resolved",
		slog.String("provider", p.name),
		slog.String("zone", p.zone),
		slog.String("zone_id", p.zoneID),
	)
	return nil
}

func (p *Provider) ensureInit(ctx context.Context) error {
	return p.Init(ctx)
}

// Ping checks connectivity and credentials against the hosted zone.
func (p *Provider) Ping(ctx context.Context) error {
	if err := p.ensureInit(ctx); err != nil {
		return err
	}
	_, err := p.api.GetHostedZoneWithContext(ctx, &awsroute53.GetHostedZoneInput{
		Id: aws.String(p.zoneID),
	})
	if err != nil {
		return provider.WrapError(p.name, "ping", mapAWSError(err))
	}
	return nil
}

// ListRecords fetches all record sets in the hosted zone.
func (p *Provider) ListRecords(ctx context.Context) ([]provider.Record, error) {
	if err := p.ensureInit(ctx); err != nil {
		return nil, err
	}

	var records []provider.Record
	input := &awsroute53.ListResourceRecordSetsInput{
		HostedZoneId: aws.String(p.zoneID),
	}
	err := p.api.ListResourceRecordSetsPagesWithContext(ctx, input,
		func(out *awsroute53.ListResourceRecordSetsOutput, _ bool) bool {
			for _, rrset := range out.ResourceRecordSets {
				if rec, ok := fromRecordSet(rrset); ok {
					records = append(records, rec)
				}
			}
			return true
		})
	if err != nil {
		return nil, provider.WrapError(p.name, "list", mapAWSError(err))
	}
	return records, nil
}

// RefreshCache replaces the cache with a fresh full fetch.
func (p *Provider) RefreshCache(ctx context.Context) error {
	records, err := p.ListRecords(ctx)
	if err != nil {
		return err
	}
	p.cache.ReplaceAll(records)
	p.logger.Debug("record cache refreshed",
		slog.String("provider", p.name),
		slog.Int("records", len(records)),
	)
	return nil
}

// Records returns the cached record set, refreshing when forced or stale.
func (p *Provider) Records(ctx context.Context, force bool) ([]provider.Record, error) {
	if force || p.cache.Stale() {
		if err := p.RefreshCache(ctx); err != nil {
			return nil, err
		}
	}
	return p.cache.Snapshot(), nil
}

// FindCached looks up a cached record by type and name.
func (p *Provider) FindCached(rtype, name string) (provider.Record, bool) {
	return p.cache.Find(rtype, name)
}

// Validate fills defaults and enforces Route53 constraints. The proxied
// flag has no Route53 equivalent and is cleared; a zero TTL gets the
// backend default since Route53 has no "automatic" value.
func (p *Provider) Validate(desired *provider.RecordConfig) error {
	desired.Proxied = nil
	if desired.TTL <= 0 {
		desired.TTL = DefaultTTL
	}
	return provider.ValidateRecord(desired, provider.Constraints{MinTTL: MinTTL})
}

// NeedsUpdate applies the shared divergence policy.
func (p *Provider) NeedsUpdate(existing provider.Record, desired provider.RecordConfig) bool {
	return provider.NeedsUpdate(existing, desired)
}

// CreateRecord submits a single-change CREATE batch.
func (p *Provider) CreateRecord(ctx context.Context, desired provider.RecordConfig) (*provider.Record, error) {
	if err := p.ensureInit(ctx); err != nil {
		return nil, err
	}
	if err := p.submitChanges(ctx, []*awsroute53.Change{createChange(desired)}); err != nil {
		return nil, provider.WrapError(p.name, "create", err)
	}

	rec := synthesizeRecord(desired)
	p.cache.Upsert(rec)

	p.logger.Info("created record",
		slog.String("provider", p.name),
		slog.String("name", rec.Name),
		slog.String("type", rec.Type),
		slog.String("content", rec.Content),
	)
	return &rec, nil
}

// UpdateRecord submits the delete+create pair as one change batch.
func (p *Provider) UpdateRecord(ctx context.Context, existing provider.Record, desired provider.RecordConfig) (*provider.Record, error) {
	if err := p.ensureInit(ctx); err != nil {
		return nil, err
	}
	changes := []*awsroute53.Change{deleteChange(existing), createChange(desired)}
	if err := p.submitChanges(ctx, changes); err != nil {
		return nil, provider.WrapError(p.name, "update", err)
	}

	rec := synthesizeRecord(desired)
	p.cache.Upsert(rec)

	p.logger.Info("updated record",
		slog.String("provider", p.name),
		slog.String("name", rec.Name),
		slog.String("type", rec.Type),
		slog.String("content", rec.Content),
	)
	return &rec, nil
}

// DeleteRecord submits a single-change DELETE batch.
func (p *Provider) DeleteRecord(ctx context.Context, rec provider.Record) error {
	if err := p.ensureInit(ctx); err != nil {
		return err
	}
	if err := p.submitChanges(ctx, []*awsroute53.Change{deleteChange(rec)}); err != nil {
		return provider.WrapError(p.name, "delete", err)
	}
	p.cache.Remove(rec.Type, rec.Name)

	p.logger.Info("deleted record",
		slog.String("provider", p.name),
		slog.String("name", rec.Name),
		slog.String("type", rec.Type),
	)
	return nil
}

// changeUnit is one reconciliation action: a create is one CREATE change,
// an update is a DELETE+CREATE pair that must never be split across
// batches.
type changeUnit struct {
	desired  provider.RecordConfig
	existing *provider.Record
}

func (u changeUnit) changes() []*awsroute53.Change {
	if u.existing != nil {
		return []*awsroute53.Change{deleteChange(*u.existing), createChange(u.desired)}
	}
	return []*awsroute53.Change{createChange(u.desired)}
}

func (u changeUnit) size() int {
	if u.existing != nil {
		return 2
	}
	return 1
}

// EnsureRecords reconciles the desired set. Creates and updates are
// submitted together as chunked change batches; a failed chunk falls back
// to per-record apply after a cache refresh, skipping records the refresh
// shows already applied.
func (p *Provider) EnsureRecords(ctx context.Context, desired []provider.RecordConfig) (*provider.BatchResult, error) {
	if err := p.ensureInit(ctx); err != nil {
		return nil, err
	}
	if _, err := p.Records(ctx, false); err != nil {
		return nil, err
	}

	plan := provider.Classify(ctx, desired, p, p.resolver, p.logger)

	result := &provider.BatchResult{}
	result.Counters.Errors = plan.Errors

	var units []changeUnit
	for _, cfg := range plan.Creates {
		units = append(units, changeUnit{desired: cfg})
	}
	for _, upd := range plan.Updates {
		existing := upd.Existing
		units = append(units, changeUnit{desired: upd.Desired, existing: &existing})
	}

	for _, chunk := range chunkUnits(units, maxChangesPerBatch) {
		p.applyChunk(ctx, chunk, result)
	}

	result.Records = append(result.Records, plan.Unchanged...)
	result.Counters.UpToDate = len(plan.Unchanged)
	return result, nil
}

// applyChunk submits one change batch; on failure it refreshes the cache
// and retries each unit individually, skipping units already applied by
// the partially-committed batch.
func (p *Provider) applyChunk(ctx context.Context, chunk []changeUnit, result *provider.BatchResult) {
	var changes []*awsroute53.Change
	for _, u := range chunk {
		changes = append(changes, u.changes()...)
	}

	if err := p.submitChanges(ctx, changes); err == nil {
		for _, u := range chunk {
			p.commitUnit(u, result)
		}
		return
	} else {
		p.logger.Warn("change batch failed, falling back to sequential apply",
			slog.String("provider", p.name),
			slog.Int("changes", len(changes)),
			slog.String("error", err.Error()),
		)
	}

	// A failed batch may still have been partially committed remotely.
	// Refresh the cache so the per-unit pass can tell applied from
	// missing instead of double-creating.
	if err := p.RefreshCache(ctx); err != nil {
		p.logger.Error("cache refresh after batch failure failed",
			slog.String("provider", p.name),
			slog.String("error", err.Error()),
		)
	}

	for _, u := range chunk {
		if cached, ok := p.cache.Find(u.desired.Type, u.desired.Name); ok && !p.NeedsUpdate(cached, u.desired) {
			p.commitUnit(u, result)
			continue
		}
		if err := p.submitChanges(ctx, u.changes()); err != nil {
			if !isAlreadyApplied(err) {
				p.logger.Error("sequential apply failed",
					slog.String("provider", p.name),
					slog.String("name", u.desired.Name),
					slog.String("type", u.desired.Type),
					slog.String("error", err.Error()),
				)
				result.Counters.Errors++
				continue
			}
		}
		p.commitUnit(u, result)
	}
}

func (p *Provider) commitUnit(u changeUnit, result *provider.BatchResult) {
	rec := synthesizeRecord(u.desired)
	p.cache.Upsert(rec)
	result.Records = append(result.Records, rec)
	if u.existing != nil {
		result.Counters.Updated++
	} else {
		result.Counters.Created++
	}
}

// chunkUnits splits units into batches of at most maxChanges changes,
// keeping each delete+create pair inside a single batch.
func chunkUnits(units []changeUnit, maxChanges int) [][]changeUnit {
	var chunks [][]changeUnit
	var current []changeUnit
	size := 0
	for _, u := range units {
		if size+u.size() > maxChanges && len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
			size = 0
		}
		current = append(current, u)
		size += u.size()
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func (p *Provider) submitChanges(ctx context.Context, changes []*awsroute53.Change) error {
	if len(changes) == 0 {
		return nil
	}
	_, err := p.api.ChangeResourceRecordSetsWithContext(ctx, &awsroute53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.zoneID),
		ChangeBatch: &awsroute53.ChangeBatch{
			Changes: changes,
			Comment: aws.String(provider.OwnershipMarker),
		},
	})
	if err != nil {
		return mapAWSError(err)
	}
	return nil
}

// recordID synthesizes the identity Route53 does not provide.
func recordID(rtype, name string) string {
	return rtype + ":" + provider.NormalizeName(name)
}

// synthesizeRecord builds the canonical record for a committed change.
// Route53 returns no record body, so it is derived from the desired state.
func synthesizeRecord(cfg provider.RecordConfig) provider.Record {
	return provider.Record{
		ID:       recordID(cfg.Type, cfg.Name),
		Type:     cfg.Type,
		Name:     provider.NormalizeName(cfg.Name),
		Content:  cfg.Content,
		TTL:      cfg.TTL,
		Priority: cfg.Priority,
		Weight:   cfg.Weight,
		Port:     cfg.Port,
		Flags:    cfg.Flags,
		Tag:      cfg.Tag,
		Comment:  provider.OwnershipMarker,
	}
}

// fromRecordSet maps one Route53 record set to the canonical shape.
// Unmanaged types, alias records, and empty sets are skipped.
func fromRecordSet(rrset *awsroute53.ResourceRecordSet) (provider.Record, bool) {
	rtype := aws.StringValue(rrset.Type)
	switch rtype {
	case provider.TypeA, provider.TypeAAAA, provider.TypeCNAME, provider.TypeTXT,
		provider.TypeMX, provider.TypeSRV, provider.TypeCAA:
	default:
		return provider.Record{}, false
	}
	if rrset.AliasTarget != nil || len(rrset.ResourceRecords) == 0 {
		return provider.Record{}, false
	}

	name := unescapeName(aws.StringValue(rrset.Name))
	value := aws.StringValue(rrset.ResourceRecords[0].Value)
	content, priority, weight, port, flags, tag := decomposeValue(rtype, value)

	return provider.Record{
		ID:       recordID(rtype, name),
		Type:     rtype,
		Name:     name,
		Content:  strings.TrimSuffix(content, "."),
		TTL:      int(aws.Int64Value(rrset.TTL)),
		Priority: priority,
		Weight:   weight,
		Port:     port,
		Flags:    flags,
		Tag:      tag,
	}, true
}

func createChange(cfg provider.RecordConfig) *awsroute53.Change {
	return changeFor(awsroute53.ChangeActionCreate, cfg.Type, cfg.Name, composeValue(cfg), cfg.TTL)
}

func deleteChange(rec provider.Record) *awsroute53.Change {
	cfg := provider.RecordConfig{
		Type:     rec.Type,
		Name:     rec.Name,
		Content:  rec.Content,
		TTL:      rec.TTL,
		Priority: rec.Priority,
		Weight:   rec.Weight,
		Port:     rec.Port,
		Flags:    rec.Flags,
		Tag:      rec.Tag,
	}
	return changeFor(awsroute53.ChangeActionDelete, rec.Type, rec.Name, composeValue(cfg), rec.TTL)
}

func changeFor(action, rtype, name, value string, ttl int) *awsroute53.Change {
	return &awsroute53.Change{
		Action: aws.String(action),
		ResourceRecordSet: &awsroute53.ResourceRecordSet{
			Name: aws.String(provider.NormalizeName(name) + "."),
			Type: aws.String(rtype),
			TTL:  aws.Int64(int64(ttl)),
			ResourceRecords: []*awsroute53.ResourceRecord{
				{Value: aws.String(value)},
			},
		},
	}
}

// unescapeName normalizes a Route53 record set name: trailing dot removed
// and the octal wildcard escape restored.
func unescapeName(name string) string {
	return strings.ReplaceAll(provider.NormalizeName(name), `\052`, "*")
}

// mapAWSError translates SDK error codes to the shared sentinels.
func mapAWSError(err error) error {
	var aerr awserr.Error
	if !asAWSError(err, &aerr) {
		return err
	}
	switch aerr.Code() {
	case "InvalidClientTokenId", "SignatureDoesNotMatch", "AccessDenied", "UnrecognizedClientException":
		return fmt.Errorf("%s: %w", aerr.Message(), provider.ErrAuth)
	case awsroute53.ErrCodeNoSuchHostedZone:
		return fmt.Errorf("%s: %w", aerr.Message(), provider.ErrZoneNotFound)
	case awsroute53.ErrCodeInvalidChangeBatch:
		return fmt.Errorf("%s: %w", aerr.Message(), provider.ErrConflict)
	}
	return err
}

func asAWSError(err error, target *awserr.Error) bool {
	for err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			*target = aerr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// isAlreadyApplied reports whether a change failed because a prior
// partially-committed batch already performed it.
func isAlreadyApplied(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "it was not found")
}

// Factory returns a provider.Factory for the registry.
func Factory(resolver provider.IPResolver, logger *slog.Logger) provider.Factory {
	return func(name string, settings map[string]string) (provider.Provider, error) {
		cfg, err := ConfigFromMap(name, settings)
		if err != nil {
			return nil, err
		}
		return New(name, cfg, WithResolver(resolver), WithLogger(logger))
	}
}

// Ensure Provider implements provider.Provider at compile time.
var _ provider.Provider = (*Provider)(nil)
