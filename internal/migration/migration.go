package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"pkgkeeper/internal/logger"
)

var (
	ErrUnknownMigration = errors.New("unknown migration")
	ErrNotApplied       = errors.New("migration not applied")
)

// Step is one named, reversible migration of a package.
type Step struct {
	ID   string
	Up   func(ctx context.Context) error
	Down func(ctx context.Context) error
}

/**
 * Explicit dispatch table of migrations keyed by package alias
 * @description
 * - Packages register their steps at startup, nothing is resolved by name synthesis
 */
type Registry struct {
	mu    sync.RWMutex
	steps map[string]map[string]Step
}

func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]map[string]Step)}
}

func (r *Registry) Register(alias string, steps ...Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.steps[alias] == nil {
		r.steps[alias] = make(map[string]Step)
	}
	for _, s := range steps {
		r.steps[alias][s.ID] = s
	}
}

func (r *Registry) Lookup(alias, id string) (Step, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.steps[alias][id]
	return s, ok
}

// IDs lists the registered step ids of alias, sorted.
func (r *Registry) IDs(alias string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id := range r.steps[alias] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Ledger persists which migrations are applied, in application order.
type Ledger interface {
	MarkMigrationApplied(alias, id string) error
	MarkMigrationRemoved(alias, id string) error
	AppliedMigrations(alias string) ([]string, error)
}

// Engine runs registered steps and keeps the ledger current.
type Engine struct {
	registry *Registry
	ledger   Ledger
}

func NewEngine(registry *Registry, ledger Ledger) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{registry: registry, ledger: ledger}
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

/**
 * Apply the up-step of a migration
 * @param {string} alias - Package alias
 * @param {string} id - Migration identifier
 * @returns {error} ErrUnknownMigration when no step is registered; already applied ids are skipped
 */
func (e *Engine) ApplyMigration(ctx context.Context, alias, id string) error {
	step, ok := e.registry.Lookup(alias, id)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownMigration, alias, id)
	}
	applied, err := e.ledger.AppliedMigrations(alias)
	if err != nil {
		return err
	}
	for _, a := range applied {
		if a == id {
			logger.Debugf("Migration %s/%s already applied", alias, id)
			return nil
		}
	}
	if step.Up != nil {
		if err := step.Up(ctx); err != nil {
			return fmt.Errorf("migration %s/%s up: %w", alias, id, err)
		}
	}
	if err := e.ledger.MarkMigrationApplied(alias, id); err != nil {
		return fmt.Errorf("record migration %s/%s: %w", alias, id, err)
	}
	logger.Infof("Applied migration %s/%s", alias, id)
	return nil
}

/**
 * Apply the down-step of a previously applied migration
 * @param {string} alias - Package alias
 * @param {string} id - Migration identifier
 * @returns {error} ErrUnknownMigration, ErrNotApplied or the down-step failure
 */
func (e *Engine) RemoveMigration(ctx context.Context, alias, id string) error {
	step, ok := e.registry.Lookup(alias, id)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownMigration, alias, id)
	}
	applied, err := e.ledger.AppliedMigrations(alias)
	if err != nil {
		return err
	}
	found := false
	for _, a := range applied {
		if a == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s/%s", ErrNotApplied, alias, id)
	}
	if step.Down != nil {
		if err := step.Down(ctx); err != nil {
			return fmt.Errorf("migration %s/%s down: %w", alias, id, err)
		}
	}
	if err := e.ledger.MarkMigrationRemoved(alias, id); err != nil {
		return fmt.Errorf("record removal of %s/%s: %w", alias, id, err)
	}
	logger.Infof("Removed migration %s/%s", alias, id)
	return nil
}

// Applied returns the ledger of alias in application order.
func (e *Engine) Applied(alias string) ([]string, error) {
	return e.ledger.AppliedMigrations(alias)
}
