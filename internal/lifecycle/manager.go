// Package lifecycle drives resource status through its state machine.
// Transient states settle asynchronously after a provider-dependent delay;
// delete always wins a race with a pending settle.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skyporthq/skyport/internal/store"
	"github.com/skyporthq/skyport/pkg/types"
)

// ErrInvalidTransition rejects an action not allowed from the resource's
// current state. The resource is left unchanged.
var ErrInvalidTransition = errors.New("invalid transition")

// Action is a user-requested lifecycle operation.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionDelete  Action = "delete"
)

// step pairs the synchronous transient state entered on an accepted action
// with the state it settles into.
type step struct {
	transient types.ResourceStatus
	settled   types.ResourceStatus
}

// transitions is the allowed (state, action) table. Delete is handled
// separately: it is accepted from any non-terminal state.
var transitions = map[types.ResourceStatus]map[Action]step{
	types.ResourceStopped: {
		ActionStart: {types.ResourceProvisioning, types.ResourceRunning},
	},
	types.ResourceError: {
		ActionStart: {types.ResourceProvisioning, types.ResourceRunning},
	},
	types.ResourceRunning: {
		ActionStop:    {types.ResourceStopping, types.ResourceStopped},
		ActionRestart: {types.ResourceRestarting, types.ResourceRunning},
	},
}

// DeleteConfirmer asks the provider to confirm a resource deletion.
// ErrUnavailable-class failures degrade to a local-only delete.
type DeleteConfirmer func(ctx context.Context, r *types.Resource) error

// Result reports an applied action. Degraded marks a delete that removed
// the local record without provider confirmation.
type Result struct {
	Resource *types.Resource `json:"resource"`
	Degraded bool            `json:"degraded,omitempty"`
}

// Manager owns resource status. One settle timer may be pending per
// resource id; scheduling a new one replaces it.
type Manager struct {
	store       store.Store
	logger      *zap.Logger
	settleDelay time.Duration
	confirm     DeleteConfirmer
	notify      func(types.Event)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// Option tweaks Manager construction.
type Option func(*Manager)

// WithDeleteConfirmer installs the provider-side delete confirmation hook.
func WithDeleteConfirmer(c DeleteConfirmer) Option {
	return func(m *Manager) { m.confirm = c }
}

// WithNotifier installs an event sink for lifecycle transitions.
func WithNotifier(fn func(types.Event)) Option {
	return func(m *Manager) { m.notify = fn }
}

func NewManager(st store.Store, logger *zap.Logger, settleDelay time.Duration, opts ...Option) *Manager {
	if settleDelay <= 0 {
		settleDelay = 3 * time.Second
	}
	m := &Manager{
		store:       st,
		logger:      logger,
		settleDelay: settleDelay,
		timers:      map[string]*time.Timer{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Close cancels every pending settle timer.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

// BeginProvision records a newly provisioned resource in the provisioning
// state and schedules its settle into running.
func (m *Manager) BeginProvision(ctx context.Context, r *types.Resource) error {
	r.Status = types.ResourceProvisioning
	if err := m.store.CreateResource(ctx, r); err != nil {
		return err
	}
	m.publish("resource.provisioning", r)
	m.schedule(r.ID, types.ResourceProvisioning, types.ResourceRunning)
	return nil
}

// Apply runs one lifecycle action. Actions outside the transition table
// fail with ErrInvalidTransition and leave the resource unchanged.
func (m *Manager) Apply(ctx context.Context, resourceID string, action Action) (Result, error) {
	r, err := m.store.GetResource(ctx, resourceID)
	if err != nil {
		return Result{}, err
	}
	if action == ActionDelete {
		return m.applyDelete(ctx, r)
	}

	st, ok := transitions[r.Status][action]
	if !ok {
		return Result{}, ErrInvalidTransition
	}
	r.Status = st.transient
	if err := m.store.UpdateResource(ctx, r); err != nil {
		return Result{}, err
	}
	m.publish("resource."+string(st.transient), r)
	m.schedule(r.ID, st.transient, st.settled)
	return Result{Resource: r}, nil
}

func (m *Manager) applyDelete(ctx context.Context, r *types.Resource) (Result, error) {
	if r.Status == types.ResourceDeleted {
		return Result{}, ErrInvalidTransition
	}
	m.cancel(r.ID)

	degraded := false
	if m.confirm != nil {
		if err := m.confirm(ctx, r); err != nil {
			// No safe way to verify remote state; the local record goes
			// away but the caller is told the delete is non-authoritative.
			m.logger.Warn("provider delete unconfirmed, removing locally",
				zap.String("resource_id", r.ID),
				zap.Error(err),
			)
			degraded = true
		}
	}
	if err := m.store.DeleteResource(ctx, r.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return Result{}, err
	}
	r.Status = types.ResourceDeleted
	m.publish("resource.deleted", r)
	return Result{Resource: r, Degraded: degraded}, nil
}

// schedule arms the settle timer for a resource, replacing any pending one.
func (m *Manager) schedule(id string, from, to types.ResourceStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[id]; ok {
		t.Stop()
	}
	m.timers[id] = time.AfterFunc(m.settleDelay, func() {
		m.settle(id, from, to)
	})
}

func (m *Manager) cancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
}

// settle applies the delayed half of a transition. The resource is
// re-fetched first: a missing record means delete won the race and the
// settle is a no-op; a state other than the expected transient means a
// newer action superseded this timer.
func (m *Manager) settle(id string, from, to types.ResourceStatus) {
	m.mu.Lock()
	delete(m.timers, id)
	m.mu.Unlock()

	ctx := context.Background()
	r, err := m.store.GetResource(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("settle fetch failed", zap.String("resource_id", id), zap.Error(err))
		}
		return
	}
	if r.Status != from {
		return
	}
	r.Status = to
	if err := m.store.UpdateResource(ctx, r); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("settle write failed", zap.String("resource_id", id), zap.Error(err))
		return
	}
	m.publish("resource."+string(to), r)
}

func (m *Manager) publish(eventType string, r *types.Resource) {
	if m.notify == nil {
		return
	}
	m.notify(types.Event{
		Type:      eventType,
		AccountID: r.AccountID,
		Resource:  r.ID,
		Payload:   map[string]any{"status": r.Status, "name": r.Name},
		TS:        time.Now().UTC(),
	})
}
