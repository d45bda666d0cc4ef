package artisan

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultPlaceholderImage is shown when an item's image cannot be resolved.
const DefaultPlaceholderImage = "https://via.placeholder.com/400?text=Artisan+NFT"

// DefaultFetchConcurrency bounds concurrent per-item fetches.
const DefaultFetchConcurrency = 8

const (
	defaultDescription = "No description"
	defaultUnknown     = "Unknown"
)

// PlaceholderName is the display name of an item whose metadata is unresolvable.
func PlaceholderName(id uint64) string {
	return fmt.Sprintf("Artisan NFT #%d", id)
}

// LedgerSource provides ledger readers and session transitions. *Session
// implements it.
type LedgerSource interface {
	Reader(ctx context.Context) (LedgerReader, error)
	Subscribe(listener func(SessionEvent)) func()
}

// Aggregator merges on-ledger item state with resolved off-ledger metadata.
type Aggregator struct {
	source      LedgerSource
	resolver    *Resolver
	logger      *slog.Logger
	concurrency int
	placeholder string

	mu          sync.Mutex
	last        []ItemRecord
	generation  uint64
	unsubscribe func()
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

// WithResolver sets the content resolver used for off-ledger metadata
func WithResolver(r *Resolver) AggregatorOption {
	return func(a *Aggregator) {
		a.resolver = r
	}
}

// WithConcurrency bounds the number of concurrent per-item fetches
func WithConcurrency(n int) AggregatorOption {
	return func(a *Aggregator) {
		a.concurrency = n
	}
}

// WithPlaceholderImage sets the image substituted for unresolvable items
func WithPlaceholderImage(url string) AggregatorOption {
	return func(a *Aggregator) {
		a.placeholder = url
	}
}

// WithAggregatorLogger sets the aggregator logger
func WithAggregatorLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// NewAggregator creates an Aggregator reading through source. The last-fetch
// list is dropped whenever the source tears its binding down.
func NewAggregator(source LedgerSource, opts ...AggregatorOption) (*Aggregator, error) {
	if source == nil {
		return nil, fmt.Errorf("ledger source is required")
	}
	a := &Aggregator{
		source:      source,
		logger:      slog.Default(),
		concurrency: DefaultFetchConcurrency,
		placeholder: DefaultPlaceholderImage,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.resolver == nil {
		a.resolver = NewResolver(DefaultGateway, WithResolverLogger(a.logger))
	}
	if a.concurrency <= 0 {
		a.concurrency = DefaultFetchConcurrency
	}
	a.unsubscribe = source.Subscribe(func(ev SessionEvent) {
		if ev.Kind == SessionTornDown {
			a.InvalidateAll()
		}
	})
	return a, nil
}

// Close detaches the aggregator from its source.
func (a *Aggregator) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

// ListAll fetches every issued item in parallel and returns them in ascending
// id order. Items whose fetch fails are dropped and logged.
func (a *Aggregator) ListAll(ctx context.Context) ([]ItemRecord, error) {
	gen := a.currentGeneration()

	r, err := a.source.Reader(ctx)
	if err != nil {
		return nil, err
	}
	total, err := r.TotalIssued(ctx)
	if err != nil {
		return nil, fmt.Errorf("read total issued: %w", err)
	}

	records, err := a.fetchAll(ctx, r, total)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.generation == gen {
		a.last = records
	}
	a.mu.Unlock()

	return cloneRecords(records), nil
}

// ListOwnedBy returns the items whose owner matches identity, ignoring case.
func (a *Aggregator) ListOwnedBy(ctx context.Context, identity string) ([]ItemRecord, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, fmt.Errorf("%w: owner identity is required", ErrInvalidArgument)
	}
	all, err := a.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	owned := make([]ItemRecord, 0, len(all))
	for _, rec := range all {
		if SameIdentity(rec.Owner, identity) {
			owned = append(owned, rec)
		}
	}
	return owned, nil
}

// Get fetches one item. It fails with ErrNotFound when the ledger reports no
// owner for id.
func (a *Aggregator) Get(ctx context.Context, id uint64) (*ItemRecord, error) {
	if id == 0 {
		return nil, &ItemError{ItemID: id, Op: "get", Err: ErrNotFound}
	}
	gen := a.currentGeneration()

	r, err := a.source.Reader(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := a.fetch(ctx, r, id)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.generation == gen {
		for i := range a.last {
			if a.last[i].ID == id {
				a.last[i] = rec
				break
			}
		}
	}
	a.mu.Unlock()

	return &rec, nil
}

// Provenance returns the ownership history of an item, oldest first.
func (a *Aggregator) Provenance(ctx context.Context, id uint64) ([]ProvenanceEntry, error) {
	r, err := a.source.Reader(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := r.OwnerOf(ctx, id); err != nil {
		return nil, &ItemError{ItemID: id, Op: "provenance", Err: err}
	}
	entries, err := r.Provenance(ctx, id)
	if err != nil {
		return nil, &ItemError{ItemID: id, Op: "provenance", Err: err}
	}
	return entries, nil
}

// ListCreators returns each registered creator that still holds the creator
// role, ordered by registration block.
func (a *Aggregator) ListCreators(ctx context.Context) ([]CreatorRegistration, error) {
	r, err := a.source.Reader(ctx)
	if err != nil {
		return nil, err
	}
	regs, err := r.CreatorRegistrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("read creator registrations: %w", err)
	}

	sort.SliceStable(regs, func(i, j int) bool { return regs[i].BlockNumber < regs[j].BlockNumber })
	seen := make(map[string]bool, len(regs))
	unique := regs[:0:0]
	for _, reg := range regs {
		key := strings.ToLower(reg.Identity)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, reg)
	}

	active := make([]bool, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, reg := range unique {
		g.Go(func() error {
			ok, err := r.HasRole(gctx, RoleCreator, reg.Identity)
			if err != nil {
				a.logger.Warn("dropping creator, role check failed", "identity", reg.Identity, "err", err)
				return nil
			}
			active[i] = ok
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]CreatorRegistration, 0, len(unique))
	for i, reg := range unique {
		if active[i] {
			out = append(out, reg)
		}
	}
	return out, nil
}

// Last returns the records of the most recent ListAll, minus invalidated ids.
func (a *Aggregator) Last() []ItemRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneRecords(a.last)
}

// Cached returns the last fetched record for id, if still valid.
func (a *Aggregator) Cached(id uint64) (ItemRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range a.last {
		if rec.ID == id {
			return cloneRecord(rec), true
		}
	}
	return ItemRecord{}, false
}

// Invalidate drops id from the last-fetch list so it is re-read on the next pass.
func (a *Aggregator) Invalidate(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.last {
		if a.last[i].ID == id {
			a.last = append(a.last[:i:i], a.last[i+1:]...)
			return
		}
	}
}

// InvalidateAll drops the last-fetch list. Fetches already in flight will not
// repopulate it.
func (a *Aggregator) InvalidateAll() {
	a.mu.Lock()
	a.last = nil
	a.generation++
	a.mu.Unlock()
}

func (a *Aggregator) currentGeneration() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}

func (a *Aggregator) fetchAll(ctx context.Context, r LedgerReader, total uint64) ([]ItemRecord, error) {
	if total == 0 {
		return []ItemRecord{}, nil
	}

	results := make([]*ItemRecord, total)
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for id := uint64(1); id <= total; id++ {
		g.Go(func() error {
			rec, err := a.fetch(ctx, r, id)
			if err != nil {
				a.logger.Warn("dropping item from listing", "item_id", id, "err", err)
				return nil
			}
			results[id-1] = &rec
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := make([]ItemRecord, 0, total)
	for _, rec := range results {
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// fetch reads the on-ledger fields of id concurrently, then resolves its
// off-ledger metadata. Only ledger read failures fail the item.
func (a *Aggregator) fetch(ctx context.Context, r LedgerReader, id uint64) (ItemRecord, error) {
	var (
		owner   string
		locator string
		sale    SaleState
		meta    OnLedgerMetadata
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o, err := r.OwnerOf(gctx, id)
		if err != nil {
			return fmt.Errorf("owner: %w", err)
		}
		owner = o
		return nil
	})
	g.Go(func() error {
		l, err := r.ContentLocatorOf(gctx, id)
		if err != nil {
			a.logger.Debug("content locator unreadable", "item_id", id, "err", err)
			return nil
		}
		locator = l
		return nil
	})
	g.Go(func() error {
		s, err := r.SaleState(gctx, id)
		if err != nil {
			return fmt.Errorf("sale state: %w", err)
		}
		sale = s
		return nil
	})
	g.Go(func() error {
		m, err := r.OnLedgerMetadata(gctx, id)
		if err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
		meta = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return ItemRecord{}, &ItemError{ItemID: id, Op: "fetch", Err: err}
	}

	var desc *MetadataDescriptor
	if strings.TrimSpace(locator) != "" {
		d, err := a.resolver.FetchMetadata(ctx, locator)
		if err != nil {
			a.logger.Warn("metadata resolution failed, using placeholders", "item_id", id, "locator", locator, "err", err)
		} else {
			desc = d
		}
	}

	return a.merge(id, owner, locator, sale, meta, desc), nil
}

// merge applies the field precedence: on-ledger descriptive fields first,
// then off-ledger values, then defaults. Name and image come only from
// resolved metadata or placeholders.
func (a *Aggregator) merge(id uint64, owner, locator string, sale SaleState, meta OnLedgerMetadata, desc *MetadataDescriptor) ItemRecord {
	rec := ItemRecord{
		ID:        id,
		Owner:     owner,
		Locator:   locator,
		CreatedAt: meta.CreatedAt,
		Name:      PlaceholderName(id),
		Image:     a.placeholder,
		Resolved:  desc != nil,
	}

	var offDescription, offMaterials, offCreator string
	if desc != nil {
		offDescription = desc.Description
		offMaterials, _ = desc.Attribute(TraitMaterials)
		offCreator, _ = desc.Attribute(TraitArtisan)

		if name := strings.TrimSpace(desc.Name); name != "" {
			rec.Name = name
		}
		if img, ok := a.resolver.Resolve(desc.Image); ok {
			rec.Image = img
		}
		if len(desc.Attributes) > 0 {
			rec.Attributes = append([]Attribute(nil), desc.Attributes...)
		}
		if rec.CreatedAt.IsZero() {
			if ts, ok := desc.Attribute(TraitCreationDate); ok {
				if t, err := time.Parse(time.RFC3339, ts); err == nil {
					rec.CreatedAt = t.UTC()
				}
			}
		}
	}

	rec.Description = firstNonEmpty(meta.Description, offDescription, defaultDescription)
	rec.Materials = firstNonEmpty(meta.Materials, offMaterials, defaultUnknown)
	rec.CreatorDetails = firstNonEmpty(meta.CreatorDetails, offCreator, defaultUnknown)

	rec.ForSale = sale.ForSale
	if sale.ForSale && sale.Price != nil {
		rec.PriceBase = new(big.Int).Set(sale.Price)
	} else {
		rec.PriceBase = new(big.Int)
	}
	rec.Price = FormatAmount(rec.PriceBase)

	return rec
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func cloneRecord(rec ItemRecord) ItemRecord {
	if rec.PriceBase != nil {
		rec.PriceBase = new(big.Int).Set(rec.PriceBase)
	}
	if rec.Attributes != nil {
		rec.Attributes = append([]Attribute(nil), rec.Attributes...)
	}
	return rec
}

func cloneRecords(records []ItemRecord) []ItemRecord {
	if records == nil {
		return nil
	}
	out := make([]ItemRecord, len(records))
	for i, rec := range records {
		out[i] = cloneRecord(rec)
	}
	return out
}
