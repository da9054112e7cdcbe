package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"washpoint/backend/internal/cache"
	"washpoint/backend/internal/domain"
	"washpoint/backend/internal/metrics"
)

const DefaultTTL = 8 * time.Hour

// Source is the backing store the loader reads from.
type Source interface {
	ListServices(ctx context.Context) ([]domain.CatalogService, error)
	ListProducts(ctx context.Context, branchID string) ([]domain.CatalogProduct, error)
	ListMachines(ctx context.Context, branchID string) ([]domain.MachineStatus, error)
}

// Snapshot is everything a transaction form needs before its first step.
type Snapshot struct {
	BranchID string                     `json:"id_cabang"`
	Services []domain.CatalogService    `json:"services"`
	Products []domain.CatalogProduct    `json:"products"`
	Machines domain.MachineAvailability `json:"machines"`
	LoadedAt time.Time                  `json:"loaded_at"`
}

func (s Snapshot) ServiceByID(id string) (domain.CatalogService, bool) {
	for _, svc := range s.Services {
		if svc.ID == id {
			return svc, true
		}
	}
	return domain.CatalogService{}, false
}

func (s Snapshot) ProductByID(id string) (domain.CatalogProduct, bool) {
	for _, product := range s.Products {
		if product.ID == id {
			return product, true
		}
	}
	return domain.CatalogProduct{}, false
}

type Loader struct {
	source Source
	cache  cache.CatalogCache
	ttl    time.Duration
	roles  RoleIDs
	group  singleflight.Group
	now    func() time.Time
}

func NewLoader(source Source, catalogCache cache.CatalogCache, ttl time.Duration, roles RoleIDs) *Loader {
	if catalogCache == nil {
		catalogCache = cache.NoopCatalogCache{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Loader{
		source: source,
		cache:  catalogCache,
		ttl:    ttl,
		roles:  roles,
		now:    time.Now,
	}
}

// Load fetches services, products and machine availability concurrently.
// Concurrent loads for the same branch share one fetch.
func (l *Loader) Load(ctx context.Context, branchID string) (Snapshot, error) {
	v, err, _ := l.group.Do(branchID, func() (any, error) {
		return l.load(ctx, branchID)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func (l *Loader) load(ctx context.Context, branchID string) (Snapshot, error) {
	snapshot := Snapshot{BranchID: branchID}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		services, err := l.services(gctx)
		if err != nil {
			return fmt.Errorf("load services: %w", err)
		}
		snapshot.Services = services
		return nil
	})
	g.Go(func() error {
		started := time.Now()
		products, err := l.source.ListProducts(gctx, branchID)
		metrics.POS().ObserveCatalogFetch("products", time.Since(started).Seconds())
		if err != nil {
			return fmt.Errorf("load products: %w", err)
		}
		snapshot.Products = ClassifyProducts(products, l.roles)
		return nil
	})
	g.Go(func() error {
		machines, err := l.machines(gctx, branchID)
		if err != nil {
			return fmt.Errorf("load machines: %w", err)
		}
		snapshot.Machines = ReduceMachines(machines)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snapshot.LoadedAt = l.now()
	return snapshot, nil
}

func (l *Loader) services(ctx context.Context) ([]domain.CatalogService, error) {
	var services []domain.CatalogService
	if l.cached(ctx, "services", cache.ServicesKey, &services) {
		return ClassifyServices(services), nil
	}

	started := time.Now()
	services, err := l.source.ListServices(ctx)
	metrics.POS().ObserveCatalogFetch("services", time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}
	services = ClassifyServices(services)
	l.store(ctx, cache.ServicesKey, services)
	return services, nil
}

func (l *Loader) machines(ctx context.Context, branchID string) ([]domain.MachineStatus, error) {
	var machines []domain.MachineStatus
	if l.cached(ctx, "machines", cache.MachinesKey(branchID), &machines) {
		return machines, nil
	}

	started := time.Now()
	machines, err := l.source.ListMachines(ctx, branchID)
	metrics.POS().ObserveCatalogFetch("machines", time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}
	l.store(ctx, cache.MachinesKey(branchID), machines)
	return machines, nil
}

// Refresh bypasses the cache for machine availability and stores the fresh
// statuses for the next load.
func (l *Loader) Refresh(ctx context.Context, branchID string) (domain.MachineAvailability, error) {
	machines, err := l.source.ListMachines(ctx, branchID)
	if err != nil {
		return domain.MachineAvailability{}, fmt.Errorf("load machines: %w", err)
	}
	l.store(ctx, cache.MachinesKey(branchID), machines)
	return ReduceMachines(machines), nil
}

func (l *Loader) cached(ctx context.Context, kind, key string, dst any) bool {
	entry, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "catalog cache read failed", "key", key, "error", err)
		metrics.POS().CacheLookup(kind, false)
		return false
	}
	if !ok || entry == nil || l.now().Sub(entry.StoredAt) >= l.ttl {
		metrics.POS().CacheLookup(kind, false)
		return false
	}
	if err := json.Unmarshal(entry.Data, dst); err != nil {
		slog.WarnContext(ctx, "catalog cache entry unreadable", "key", key, "error", err)
		metrics.POS().CacheLookup(kind, false)
		return false
	}
	metrics.POS().CacheLookup(kind, true)
	return true
}

func (l *Loader) store(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		slog.WarnContext(ctx, "catalog cache encode failed", "key", key, "error", err)
		return
	}
	if err := l.cache.Set(ctx, key, payload, l.ttl); err != nil {
		slog.WarnContext(ctx, "catalog cache write failed", "key", key, "error", err)
	}
}
