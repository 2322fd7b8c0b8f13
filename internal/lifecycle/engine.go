package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"villaops/internal/domain"
	"villaops/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TransitionRequest is one staff action on a task.
type TransitionRequest struct {
	TaskID    string            `json:"taskId"`
	NewStatus models.TaskStatus `json:"newStatus"`
	Evidence  *models.Evidence  `json:"completionEvidence,omitempty"`
	ActorID   string            `json:"actorId,omitempty"`
}

type Engine struct {
	store    domain.TaskStore
	staff    domain.StaffDirectory
	notifier domain.NotificationGateway
	events   domain.EventPublisher
	channels []models.Channel
	now      domain.Clock
	newID    func() string
	logger   zerolog.Logger
}

type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now domain.Clock) Option {
	return func(e *Engine) { e.now = now }
}

// WithChannels sets the channels of task activation notifications.
func WithChannels(channels ...models.Channel) Option {
	return func(e *Engine) { e.channels = channels }
}

func NewEngine(
	store domain.TaskStore,
	staff domain.StaffDirectory,
	notifier domain.NotificationGateway,
	publisher domain.EventPublisher,
	logger *zerolog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:    store,
		staff:    staff,
		notifier: notifier,
		events:   publisher,
		channels: []models.Channel{models.ChannelInApp, models.ChannelPush},
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger.With().Str("component", "lifecycle").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// committed is what a successful batch leaves for the post-commit effects.
type committed struct {
	task      *models.Task
	from      models.TaskStatus
	actor     string
	activated []domain.Activation
	spawned   []*models.Task
	alerts    []*models.Alert

	// assigned marks a direct assignment whose assignee is notified.
	assigned bool
}

// Assign matches a staff member to a pending task whose dependencies are met, or fills
// the assignee of a task that was activated without one. When nobody matches the task is
// left unchanged and no alert is raised.
func (e *Engine) Assign(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch {
	case task.Status == models.StatusPending:
	case task.Status == models.StatusAssigned && task.AssignedStaffID == "":
	case task.Status == models.StatusInProgress && task.AssignedStaffID == "":
	default:
		return nil, domain.Invalid("status", fmt.Sprintf("task is %s and already assigned", task.Status))
	}

	if task.Status == models.StatusPending {
		if err := e.checkDependencies(ctx, task); err != nil {
			return nil, err
		}
	}

	staff := e.match(ctx, task)
	if staff == nil {
		e.logger.Debug().Str("task_id", task.ID).Str("type", string(task.Type)).Msg("no staff available")
		return task, nil
	}

	if task.Status != models.StatusPending {
		if err := e.store.AssignTask(ctx, task.ID, task.Status, staff.ID, staff.Name); err != nil {
			return nil, err
		}
		task.AssignedStaffID, task.AssignedStaffName = staff.ID, staff.Name
		e.afterCommit(ctx, &committed{task: task, from: task.Status, actor: "system", assigned: true})
		return task, nil
	}

	next := *task
	next.Status = models.StatusAssigned
	next.AssignedStaffID = staff.ID
	next.AssignedStaffName = staff.Name
	next.UpdatedAt = e.now()

	if _, err := e.store.ApplyTransition(ctx, &domain.TransitionBatch{
		Task:           &next,
		ExpectedStatus: models.StatusPending,
		RequireSuccess: task.DependsOn,
	}); err != nil {
		return nil, err
	}
	e.afterCommit(ctx, &committed{task: &next, from: models.StatusPending, actor: "system", assigned: true})
	return &next, nil
}

// Transition applies one validated staff action and its cascades.
func (e *Engine) Transition(ctx context.Context, req TransitionRequest) (*models.Task, error) {
	if req.TaskID == "" {
		return nil, domain.Invalid("taskId", "is required")
	}
	if !validStatus(req.NewStatus) {
		return nil, domain.Invalid("newStatus", fmt.Sprintf("unknown status %q", req.NewStatus))
	}

	task, err := e.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}

	if task.Type == models.TaskCheckout && req.NewStatus == models.StatusCompleted {
		return idempotent(e.completeCheckout(ctx, task, req.ActorID))
	}
	if task.Type == models.TaskInspection && isOutcome(req.NewStatus) {
		return nil, domain.Invalid("newStatus", "inspection outcomes are submitted with an inspection report")
	}
	if !CanTransition(task.Type, task.Status, req.NewStatus) {
		return nil, domain.Invalid("newStatus", fmt.Sprintf("cannot move %s task from %s to %s", task.Type, task.Status, req.NewStatus))
	}

	var required []string
	if gated(task.Status, req.NewStatus) {
		if err := e.checkDependencies(ctx, task); err != nil {
			return nil, err
		}
		required = task.DependsOn
	}

	now := e.now()
	next := *task
	next.Status = req.NewStatus
	next.UpdatedAt = now
	if req.Evidence != nil {
		next.Evidence = *req.Evidence
	}
	if task.Type == models.TaskCleaning && req.NewStatus == models.StatusCompleted {
		if err := checkEvidence(next.Evidence); err != nil {
			return nil, err
		}
	}
	if req.NewStatus.IsSuccess() && next.CompletedAt == nil {
		next.CompletedAt = &now
	}

	batch := &domain.TransitionBatch{
		Task:           &next,
		ExpectedStatus: task.Status,
		RequireSuccess: required,
	}
	if req.NewStatus.IsSuccess() {
		if batch.Activations, err = e.activations(ctx, &next); err != nil {
			return nil, err
		}
	}

	res, err := e.store.ApplyTransition(ctx, batch)
	if err != nil {
		return nil, err
	}
	e.afterCommit(ctx, &committed{task: &next, from: task.Status, actor: req.ActorID, activated: res.Activated})
	return &next, nil
}

// CompleteCheckout completes a checkout task and marks its booking checked out. Completing
// an already completed checkout is a no-op with no second cascade.
func (e *Engine) CompleteCheckout(ctx context.Context, taskID string) (*models.Task, error) {
	return idempotent(e.FireCheckout(ctx, taskID))
}

// FireCheckout is CompleteCheckout for the scheduler: it returns domain.ErrAlreadyCompleted,
// along with the stored task, when the checkout had already been completed by someone else.
func (e *Engine) FireCheckout(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return e.completeCheckout(ctx, task, "system")
}

func idempotent(task *models.Task, err error) (*models.Task, error) {
	if errors.Is(err, domain.ErrAlreadyCompleted) {
		return task, nil
	}
	return task, err
}

func (e *Engine) completeCheckout(ctx context.Context, task *models.Task, actor string) (*models.Task, error) {
	if task.Type != models.TaskCheckout {
		return nil, domain.Invalid("type", fmt.Sprintf("task %s is %s, not a checkout", task.ID, task.Type))
	}
	if task.Status.IsSuccess() {
		return task, domain.ErrAlreadyCompleted
	}
	if task.Status.IsTerminal() {
		return nil, domain.Invalid("status", fmt.Sprintf("checkout %s is %s", task.ID, task.Status))
	}

	now := e.now()
	next := *task
	next.Status = models.StatusCompleted
	next.CompletedAt = &now
	next.UpdatedAt = now

	activations, err := e.activations(ctx, &next)
	if err != nil {
		return nil, err
	}
	res, err := e.store.ApplyTransition(ctx, &domain.TransitionBatch{
		Task:           &next,
		ExpectedStatus: task.Status,
		RequireSuccess: task.DependsOn,
		Activations:    activations,
		BookingID:      task.BookingID,
		BookingStatus:  models.BookingStatusCheckedOut,
	})
	if errors.Is(err, domain.ErrConcurrentModification) {
		// Someone else may have completed it first.
		current, getErr := e.store.GetTask(ctx, task.ID)
		if getErr == nil && current.Status.IsSuccess() {
			return current, domain.ErrAlreadyCompleted
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	e.afterCommit(ctx, &committed{task: &next, from: task.Status, actor: actor, activated: res.Activated})
	return &next, nil
}

// activations lists every pending downstream task of a task that is about to succeed,
// with a matched assignee. The store activates only the candidates whose dependencies have
// all succeeded inside the committing transaction; the others stay pending.
func (e *Engine) activations(ctx context.Context, task *models.Task) ([]domain.Activation, error) {
	if len(task.Triggers) == 0 {
		return nil, nil
	}
	downstream, err := e.store.GetTasks(ctx, task.Triggers)
	if err != nil {
		return nil, err
	}

	var out []domain.Activation
	for _, next := range downstream {
		if next.Status != models.StatusPending {
			continue
		}
		act := domain.Activation{TaskID: next.ID}
		if staff := e.match(ctx, next); staff != nil {
			act.StaffID, act.StaffName = staff.ID, staff.Name
		}
		out = append(out, act)
	}
	return out, nil
}

func (e *Engine) checkDependencies(ctx context.Context, task *models.Task) error {
	ok, err := e.dependenciesMet(ctx, task)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.ValidationError{
			Field:  "dependsOn",
			Reason: fmt.Sprintf("task %s has dependencies that are not completed", task.ID),
			Err:    domain.ErrDependenciesUnmet,
		}
	}
	return nil
}

// dependenciesMet reports whether every dependency of task succeeded.
func (e *Engine) dependenciesMet(ctx context.Context, task *models.Task) (bool, error) {
	ids := task.DependsOn
	if len(ids) == 0 {
		return true, nil
	}
	deps, err := e.store.GetTasks(ctx, ids)
	if err != nil {
		return false, err
	}
	done := make(map[string]bool, len(deps))
	for _, dep := range deps {
		done[dep.ID] = dep.Status.IsSuccess()
	}
	for _, id := range ids {
		if !done[id] {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) match(ctx context.Context, task *models.Task) *models.Staff {
	if e.staff == nil {
		return nil
	}
	staff, err := e.staff.Match(ctx, task)
	if err != nil {
		e.logger.Warn().Err(err).Str("task_id", task.ID).Msg("staff directory lookup failed")
		return nil
	}
	return staff
}

func checkEvidence(ev models.Evidence) error {
	if len(ev.PhotoRefs) == 0 {
		return domain.Invalid("completionEvidence.photoRefs", "cleaning requires at least one photo")
	}
	if !ev.ChecklistCompleted {
		return domain.Invalid("completionEvidence.checklistCompleted", "cleaning checklist must be completed")
	}
	return nil
}

func isOutcome(s models.TaskStatus) bool {
	return s == models.StatusCompleted || s == models.StatusApproved || s == models.StatusFailed
}
