package monitor

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"villaops/internal/database"
	"villaops/internal/domain"
	"villaops/internal/events"
	"villaops/internal/lifecycle"
	"villaops/internal/models"
	"villaops/internal/timeline"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	checkIn  = time.Date(2025, 8, 15, 14, 0, 0, 0, time.UTC)
	checkOut = time.Date(2025, 8, 22, 11, 0, 0, 0, time.UTC)
)

type nopNotifier struct{}

func (nopNotifier) Dispatch(context.Context, *models.Notification) error { return nil }

type directory struct {
	mu     sync.Mutex
	byType map[models.TaskType]*models.Staff
}

func (d *directory) Match(_ context.Context, task *models.Task) (*models.Staff, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byType[task.Type], nil
}

func (d *directory) set(typ models.TaskType, s *models.Staff) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byType[typ] = s
}

type fixture struct {
	db      *database.DB
	bus     *events.EventBus
	staff   *directory
	engine  *lifecycle.Engine
	monitor *Monitor
	tasks   map[models.TaskType]*models.Task
}

func newFixture(t *testing.T, bookingIDs ...string) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := func() time.Time { return checkOut.Add(time.Minute) }
	f := &fixture{
		db:    db,
		bus:   events.NewEventBus(),
		staff: &directory{byType: map[models.TaskType]*models.Staff{}},
		tasks: map[models.TaskType]*models.Task{},
	}
	f.engine = lifecycle.NewEngine(db, f.staff, nopNotifier{}, f.bus, &logger, lifecycle.WithClock(clock))
	f.monitor = New(db, f.engine, f.bus, clock, &logger)
	t.Cleanup(f.monitor.Close)

	if len(bookingIDs) == 0 {
		bookingIDs = []string{"b1"}
	}
	gen := timeline.NewGenerator(func() time.Time { return checkIn.Add(-72 * time.Hour) })
	for _, id := range bookingIDs {
		ev := models.BookingConfirmed{
			BookingID: id, PropertyID: "villa-" + id, PropertyName: "Villa Azure",
			CheckInDate: checkIn, CheckOutDate: checkOut,
		}
		tl, tasks, err := gen.Generate(ev)
		require.NoError(t, err)
		booking, property := timeline.Booking(ev)
		require.NoError(t, db.CreateTimeline(context.Background(), booking, property, tl, tasks))
		if id == bookingIDs[0] {
			for _, task := range tasks {
				f.tasks[task.Type] = task
			}
		}
	}
	return f
}

func (f *fixture) task(t *testing.T, typ models.TaskType) *models.Task {
	t.Helper()
	task, err := f.db.GetTask(context.Background(), f.tasks[typ].ID)
	require.NoError(t, err)
	return task
}

func TestReconcile_AssignsRootTaskAndDerivesPhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.staff.set(models.TaskPreArrivalPrep, &models.Staff{ID: "s-prep", Name: "Nyoman"})

	_, err := f.monitor.Watch(ctx, "b1")
	require.NoError(t, err)
	require.NoError(t, f.monitor.Reconcile(ctx, "b1"))

	prep := f.task(t, models.TaskPreArrivalPrep)
	assert.Equal(t, models.StatusAssigned, prep.Status)
	assert.Equal(t, "s-prep", prep.AssignedStaffID)

	// The checkout is left to the sweep even though it is due.
	assert.Equal(t, models.StatusPending, f.task(t, models.TaskCheckout).Status)

	tl, err := f.db.GetTimeline(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCheckout, tl.Phase)
	assert.Equal(t, 0, tl.CompletionPercent)
}

func TestReconcile_FillsMissingAssignee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No cleaner is available when the checkout fires.
	_, err := f.engine.CompleteCheckout(ctx, f.tasks[models.TaskCheckout].ID)
	require.NoError(t, err)
	cleaning := f.task(t, models.TaskCleaning)
	require.Equal(t, models.StatusAssigned, cleaning.Status)
	require.Empty(t, cleaning.AssignedStaffID)

	f.staff.set(models.TaskCleaning, &models.Staff{ID: "s-clean", Name: "Made"})
	require.NoError(t, f.monitor.Reconcile(ctx, "b1"))

	cleaning = f.task(t, models.TaskCleaning)
	assert.Equal(t, models.StatusAssigned, cleaning.Status)
	assert.Equal(t, "s-clean", cleaning.AssignedStaffID)

	tl, err := f.db.GetTimeline(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCleaning, tl.Phase)
	assert.Equal(t, 20, tl.CompletionPercent)
}

func TestReconcile_InProgressCleaningWithoutAssignee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CompleteCheckout(ctx, f.tasks[models.TaskCheckout].ID)
	require.NoError(t, err)
	_, err = f.engine.Transition(ctx, lifecycle.TransitionRequest{
		TaskID: f.tasks[models.TaskCleaning].ID, NewStatus: models.StatusInProgress, ActorID: "walk-in",
	})
	require.NoError(t, err)

	f.staff.set(models.TaskCleaning, &models.Staff{ID: "s-clean", Name: "Made"})
	require.NoError(t, f.monitor.Reconcile(ctx, "b1"))

	cleaning := f.task(t, models.TaskCleaning)
	assert.Equal(t, models.StatusInProgress, cleaning.Status)
	assert.Equal(t, "s-clean", cleaning.AssignedStaffID)
}

func TestMonitor_EventDrivenUntilReady(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.monitor.Start(ctx)

	f.staff.set(models.TaskCleaning, &models.Staff{ID: "s-clean", Name: "Made"})
	f.staff.set(models.TaskInspection, &models.Staff{ID: "s-insp", Name: "Ketut"})

	sub, err := f.monitor.Watch(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, f.monitor.Watching("b1"))

	_, err = f.engine.CompleteCheckout(ctx, f.tasks[models.TaskCheckout].ID)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		tl, err := f.db.GetTimeline(ctx, "b1")
		return err == nil && tl.Phase == models.PhaseCleaning
	}, 2*time.Second, 10*time.Millisecond)

	evidence := &models.Evidence{PhotoRefs: []string{"p1"}, ChecklistCompleted: true}
	for _, to := range []models.TaskStatus{models.StatusInProgress, models.StatusCompleted} {
		_, err = f.engine.Transition(ctx, lifecycle.TransitionRequest{
			TaskID: f.tasks[models.TaskCleaning].ID, NewStatus: to, Evidence: evidence, ActorID: "s-clean",
		})
		require.NoError(t, err)
	}
	_, err = f.engine.SubmitInspection(ctx, lifecycle.InspectionRequest{
		TaskID: f.tasks[models.TaskInspection].ID, Passed: true, ActorID: "s-insp",
	})
	require.NoError(t, err)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watch was not torn down after the timeline became ready")
	}
	assert.False(t, f.monitor.Watching("b1"))

	tl, err := f.db.GetTimeline(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseReady, tl.Phase)
	assert.Equal(t, 100, tl.CompletionPercent)
}

func TestMonitor_WatchLifecycle(t *testing.T) {
	f := newFixture(t, "b1", "b2")
	ctx := context.Background()

	_, err := f.monitor.Watch(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	first, err := f.monitor.Watch(ctx, "b1")
	require.NoError(t, err)
	again, err := f.monitor.Watch(ctx, "b1")
	require.NoError(t, err)
	assert.Same(t, first, again)

	first.Cancel()
	first.Cancel()
	assert.False(t, f.monitor.Watching("b1"))
	select {
	case <-first.Done():
	default:
		t.Fatal("cancelled subscription not done")
	}

	n, err := f.monitor.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, f.monitor.Watching("b1"))
	assert.True(t, f.monitor.Watching("b2"))

	second, err := f.monitor.Watch(ctx, "b2")
	require.NoError(t, err)
	f.monitor.Close()
	<-second.Done()
	assert.False(t, f.monitor.Watching("b2"))

	_, err = f.monitor.Watch(ctx, "b1")
	assert.Error(t, err)
}

func TestNeedsAssignee(t *testing.T) {
	status := map[string]models.TaskStatus{"dep": models.StatusCompleted, "open": models.StatusAssigned}
	tests := []struct {
		name string
		task models.Task
		want bool
	}{
		{"RootPending", models.Task{Type: models.TaskPreArrivalPrep, Status: models.StatusPending}, true},
		{"DepsDone", models.Task{Type: models.TaskCleaning, Status: models.StatusPending, DependsOn: []string{"dep"}}, true},
		{"DepsOpen", models.Task{Type: models.TaskCleaning, Status: models.StatusPending, DependsOn: []string{"dep", "open"}}, false},
		{"DepUnknown", models.Task{Type: models.TaskCleaning, Status: models.StatusPending, DependsOn: []string{"x"}}, false},
		{"Checkout", models.Task{Type: models.TaskCheckout, Status: models.StatusPending}, false},
		{"AssignedNobody", models.Task{Type: models.TaskCleaning, Status: models.StatusAssigned}, true},
		{"AssignedSomebody", models.Task{Type: models.TaskCleaning, Status: models.StatusAssigned, AssignedStaffID: "s"}, false},
		{"InProgressNobody", models.Task{Type: models.TaskCleaning, Status: models.StatusInProgress}, true},
		{"Completed", models.Task{Type: models.TaskCleaning, Status: models.StatusCompleted}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := tt.task
			assert.Equal(t, tt.want, needsAssignee(&task, status))
		})
	}
}
