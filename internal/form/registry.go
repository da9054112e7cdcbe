package form

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"washpoint/backend/internal/domain"
	"washpoint/backend/internal/ids"
)

const DefaultFormTTL = 2 * time.Hour

var ErrFormNotFound = errors.New("form not found")

type entry struct {
	controller *Controller
	owner      string
	lastUsed   time.Time
}

// Registry keeps the open forms of all cashiers keyed by form id. A form is
// visible only to the user who opened it. Forms idle longer than the TTL are
// dropped by Sweep.
type Registry struct {
	deps Deps
	ttl  time.Duration
	now  func() time.Time

	mu    sync.Mutex
	forms map[string]*entry
}

func NewRegistry(deps Deps, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultFormTTL
	}
	return &Registry{
		deps:  deps,
		ttl:   ttl,
		now:   time.Now,
		forms: map[string]*entry{},
	}
}

// Open creates a form and loads its catalog. With a transaction id the form
// opens in edit mode. An unknown transaction registers nothing; a failed row
// fetch still registers the form and the error is returned next to it.
func (r *Registry) Open(ctx context.Context, owner string, req domain.FormOpenRequest) (*Controller, error) {
	controller := New(ids.New("form"), r.deps)
	if err := controller.Load(ctx, strings.TrimSpace(req.BranchID), req.ShiftID); err != nil {
		return nil, err
	}

	var editErr error
	if id := strings.TrimSpace(req.TransactionID); id != "" {
		editErr = controller.OpenForEdit(ctx, domain.Transaction{
			ID:         id,
			CustomerID: strings.TrimSpace(req.CustomerID),
			BranchID:   strings.TrimSpace(req.BranchID),
			Services:   req.Services,
			Products:   req.Products,
		})
		var collaborator *CollaboratorError
		if editErr != nil && !errors.As(editErr, &collaborator) {
			return nil, editErr
		}
	}

	r.mu.Lock()
	r.forms[controller.ID()] = &entry{controller: controller, owner: owner, lastUsed: r.now()}
	r.mu.Unlock()
	return controller, editErr
}

// Get returns the form when owner opened it. Another user's form reads as
// missing.
func (r *Registry) Get(id, owner string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.forms[id]
	if !ok || e.owner != owner {
		return nil, ErrFormNotFound
	}
	if r.now().Sub(e.lastUsed) > r.ttl {
		delete(r.forms, id)
		return nil, ErrFormNotFound
	}
	e.lastUsed = r.now()
	return e.controller, nil
}

// Close forgets a form. Closing an unknown id is a no-op; closing another
// user's form fails with ErrFormNotFound.
func (r *Registry) Close(id, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.forms[id]
	if !ok {
		return nil
	}
	if e.owner != owner {
		return ErrFormNotFound
	}
	delete(r.forms, id)
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.forms)
}

// Sweep drops expired forms and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	now := r.now()
	for id, e := range r.forms {
		if now.Sub(e.lastUsed) > r.ttl {
			delete(r.forms, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				slog.Info("expired transaction forms removed", "count", n)
			}
		}
	}
}
