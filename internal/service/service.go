package service

import (
	"context"
	"log"
	"strings"
	"time"

	"washpoint/backend/internal/catalog"
	"washpoint/backend/internal/domain"
	"washpoint/backend/internal/ids"
	"washpoint/backend/internal/store"
)

const defaultWashesPerFree = 10

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DefaultBranchID string
	// WashesPerFree is how many paid plain washes earn one free wash.
	WashesPerFree int
	Flags         domain.FeatureFlags
	Roles         catalog.RoleIDs
}

type Service struct {
	repo            store.Repository
	defaultBranchID string
	washesPerFree   int
	flags           domain.FeatureFlags
	roles           catalog.RoleIDs
	now             func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.DefaultBranchID == "" {
		opts.DefaultBranchID = "cabang-1"
	}
	if opts.WashesPerFree < 1 {
		opts.WashesPerFree = defaultWashesPerFree
	}

	return &Service{
		repo:            repo,
		defaultBranchID: opts.DefaultBranchID,
		washesPerFree:   opts.WashesPerFree,
		flags:           opts.Flags,
		roles:           opts.Roles,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Flags() domain.FeatureFlags {
	return s.flags
}

func (s *Service) DefaultBranchID() string {
	return s.defaultBranchID
}

func (s *Service) branch(branchID string) string {
	if branchID = strings.TrimSpace(branchID); branchID == "" {
		return s.defaultBranchID
	}
	return branchID
}

// ListServices returns the service catalog with every category resolved.
func (s *Service) ListServices(ctx context.Context) ([]domain.CatalogService, error) {
	services, err := s.repo.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.ClassifyServices(services), nil
}

// ListProducts returns the branch inventory with the complimentary product
// roles resolved.
func (s *Service) ListProducts(ctx context.Context, branchID string) ([]domain.CatalogProduct, error) {
	products, err := s.repo.ListProducts(ctx, s.branch(branchID))
	if err != nil {
		return nil, err
	}
	return catalog.ClassifyProducts(products, s.roles), nil
}

func (s *Service) ListMachines(ctx context.Context, branchID string) ([]domain.MachineStatus, error) {
	return s.repo.ListMachines(ctx, s.branch(branchID))
}

func (s *Service) MachineAvailability(ctx context.Context, branchID string) (domain.MachineAvailability, error) {
	machines, err := s.ListMachines(ctx, branchID)
	if err != nil {
		return domain.MachineAvailability{}, err
	}
	return catalog.ReduceMachines(machines), nil
}

func (s *Service) serviceIndex(ctx context.Context) (map[string]domain.CatalogService, error) {
	services, err := s.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.ServiceIndex(services), nil
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            ids.New("audit"),
		BranchID:      s.branch(branchID),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
