package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/skyporthq/skyport/internal/store"
	"github.com/skyporthq/skyport/pkg/types"
)

const testSettle = 20 * time.Millisecond

func newTestManager(t *testing.T, opts ...Option) (*Manager, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	m := NewManager(st, zap.NewNop(), testSettle, opts...)
	t.Cleanup(m.Close)
	return m, st
}

func seedResource(t *testing.T, st *store.Memory, status types.ResourceStatus) *types.Resource {
	t.Helper()
	r := &types.Resource{
		ID:        types.NewID(),
		AccountID: types.NewID(),
		Name:      "vm-1",
		Type:      "EC2",
		Region:    "us-east-1",
		Status:    status,
	}
	if err := st.CreateResource(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	return r
}

// waitForStatus polls until the resource reaches want or the deadline passes.
func waitForStatus(t *testing.T, st *store.Memory, id string, want types.ResourceStatus) {
	t.Helper()
	deadline := time.Now().Add(50 * testSettle)
	for time.Now().Before(deadline) {
		r, err := st.GetResource(context.Background(), id)
		if err != nil {
			t.Fatalf("fetch during wait: %v", err)
		}
		if r.Status == want {
			return
		}
		time.Sleep(testSettle / 4)
	}
	r, _ := st.GetResource(context.Background(), id)
	t.Fatalf("resource never reached %s, stuck at %s", want, r.Status)
}

func TestStartFromStoppedSettlesToRunning(t *testing.T) {
	m, st := newTestManager(t)
	r := seedResource(t, st, types.ResourceStopped)

	res, err := m.Apply(context.Background(), r.ID, ActionStart)
	if err != nil {
		t.Fatalf("Apply(start): %v", err)
	}
	if res.Resource.Status != types.ResourceProvisioning {
		t.Fatalf("synchronous state = %s, want provisioning", res.Resource.Status)
	}
	waitForStatus(t, st, r.ID, types.ResourceRunning)
}

func TestStopFromStoppedRejected(t *testing.T) {
	m, st := newTestManager(t)
	r := seedResource(t, st, types.ResourceStopped)

	_, err := m.Apply(context.Background(), r.ID, ActionStop)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	got, _ := st.GetResource(context.Background(), r.ID)
	if got.Status != types.ResourceStopped {
		t.Fatalf("rejected action changed state to %s", got.Status)
	}
}

func TestRestartCycle(t *testing.T) {
	m, st := newTestManager(t)
	r := seedResource(t, st, types.ResourceRunning)

	res, err := m.Apply(context.Background(), r.ID, ActionRestart)
	if err != nil {
		t.Fatalf("Apply(restart): %v", err)
	}
	if res.Resource.Status != types.ResourceRestarting {
		t.Fatalf("synchronous state = %s, want restarting", res.Resource.Status)
	}
	waitForStatus(t, st, r.ID, types.ResourceRunning)
}

func TestDeleteWinsRaceWithPendingSettle(t *testing.T) {
	m, st := newTestManager(t)
	r := seedResource(t, st, types.ResourceStopped)

	if _, err := m.Apply(context.Background(), r.ID, ActionStart); err != nil {
		t.Fatal(err)
	}
	// Delete before the provisioning settle fires.
	res, err := m.Apply(context.Background(), r.ID, ActionDelete)
	if err != nil {
		t.Fatalf("Apply(delete): %v", err)
	}
	if res.Resource.Status != types.ResourceDeleted {
		t.Fatalf("delete result status = %s", res.Resource.Status)
	}

	// The pending settle must not resurrect the record.
	time.Sleep(3 * testSettle)
	if _, err := st.GetResource(context.Background(), r.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("deleted resource reappeared: %v", err)
	}
}

func TestDeleteFromAnyNonTerminalState(t *testing.T) {
	for _, status := range []types.ResourceStatus{
		types.ResourceProvisioning,
		types.ResourceRunning,
		types.ResourceStopping,
		types.ResourceStopped,
		types.ResourceRestarting,
		types.ResourceError,
	} {
		m, st := newTestManager(t)
		r := seedResource(t, st, status)
		if _, err := m.Apply(context.Background(), r.ID, ActionDelete); err != nil {
			t.Fatalf("delete from %s: %v", status, err)
		}
	}
}

func TestDeleteUnknownResource(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Apply(context.Background(), types.NewID(), ActionDelete)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteDegradedWithoutProviderConfirmation(t *testing.T) {
	confirmErr := errors.New("backend unreachable")
	m, st := newTestManager(t, WithDeleteConfirmer(func(ctx context.Context, r *types.Resource) error {
		return confirmErr
	}))
	r := seedResource(t, st, types.ResourceRunning)

	res, err := m.Apply(context.Background(), r.ID, ActionDelete)
	if err != nil {
		t.Fatalf("Apply(delete): %v", err)
	}
	if !res.Degraded {
		t.Fatal("unconfirmed delete must be marked degraded")
	}
	if _, err := st.GetResource(context.Background(), r.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("local record survived degraded delete: %v", err)
	}
}

func TestSupersededSettleIsIgnored(t *testing.T) {
	m, st := newTestManager(t)
	r := seedResource(t, st, types.ResourceRunning)

	// stop, then immediately restart once stopped: the stale stop settle
	// must not clobber the newer transition.
	if _, err := m.Apply(context.Background(), r.ID, ActionStop); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, st, r.ID, types.ResourceStopped)
	if _, err := m.Apply(context.Background(), r.ID, ActionStart); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, st, r.ID, types.ResourceRunning)
}

func TestBeginProvisionSettles(t *testing.T) {
	events := make(chan types.Event, 16)
	m, st := newTestManager(t, WithNotifier(func(e types.Event) {
		select {
		case events <- e:
		default:
		}
	}))
	r := &types.Resource{ID: types.NewID(), AccountID: types.NewID(), Name: "db-1", Type: "RDS", Region: "us-east-1"}
	if err := m.BeginProvision(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if r.Status != types.ResourceProvisioning {
		t.Fatalf("status after BeginProvision = %s", r.Status)
	}
	waitForStatus(t, st, r.ID, types.ResourceRunning)

	first := <-events
	if first.Type != "resource.provisioning" {
		t.Fatalf("first event = %s", first.Type)
	}
}
