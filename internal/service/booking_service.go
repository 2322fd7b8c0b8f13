package service

import (
	"context"
	"errors"
	"fmt"

	"villaops/internal/domain"
	"villaops/internal/events"
	"villaops/internal/models"
	"villaops/internal/monitor"
	"villaops/internal/timeline"

	"github.com/rs/zerolog"
)

// Watcher starts timeline monitoring for a booking.
type Watcher interface {
	Watch(ctx context.Context, bookingID string) (*monitor.Subscription, error)
}

// TimelineView is a timeline together with its tasks in schedule order.
type TimelineView struct {
	Timeline *models.Timeline `json:"timeline"`
	Tasks    []*models.Task   `json:"tasks"`
	// Created is false when the booking had already been turned into a timeline.
	Created bool `json:"created"`
}

// BookingService turns confirmed bookings into turnover timelines and serves reads.
type BookingService struct {
	store     domain.TaskStore
	generator *timeline.Generator
	watcher   Watcher
	eventBus  domain.EventPublisher
	logger    *zerolog.Logger
}

func NewBookingService(store domain.TaskStore, generator *timeline.Generator, watcher Watcher, eventBus domain.EventPublisher, logger *zerolog.Logger) *BookingService {
	return &BookingService{
		store:     store,
		generator: generator,
		watcher:   watcher,
		eventBus:  eventBus,
		logger:    logger,
	}
}

// ConfirmBooking generates and stores the timeline of a confirmed booking in one
// transaction. A redelivered event returns the timeline generated the first time.
func (s *BookingService) ConfirmBooking(ctx context.Context, ev models.BookingConfirmed) (*TimelineView, error) {
	tl, tasks, err := s.generator.Generate(ev)
	if err != nil {
		return nil, err
	}
	booking, property := timeline.Booking(ev)

	err = s.store.CreateTimeline(ctx, booking, property, tl, tasks)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyExists):
		view, err := s.GetTimeline(ctx, ev.BookingID)
		if err != nil {
			return nil, err
		}
		s.logger.Info().Str("booking_id", ev.BookingID).Msg("timeline already generated")
		s.watch(ctx, ev.BookingID)
		return view, nil
	default:
		return nil, fmt.Errorf("store timeline for %s: %w", ev.BookingID, err)
	}

	s.logger.Info().
		Str("booking_id", tl.BookingID).
		Str("property_id", tl.PropertyID).
		Int("tasks", len(tasks)).
		Time("estimated_ready_at", tl.EstimatedReadyAt).
		Msg("timeline generated")

	if s.eventBus != nil {
		if err := s.eventBus.PublishJSON(events.EventTimelineCreated, events.TimelinePayload{
			BookingID:  tl.BookingID,
			PropertyID: tl.PropertyID,
			TaskIDs:    tl.TaskIDs,
			CreatedAt:  tl.CreatedAt,
		}); err != nil {
			s.logger.Warn().Err(err).Str("booking_id", tl.BookingID).Msg("failed to publish timeline event")
		}
	}
	s.watch(ctx, tl.BookingID)

	return &TimelineView{Timeline: tl, Tasks: tasks, Created: true}, nil
}

func (s *BookingService) watch(ctx context.Context, bookingID string) {
	if s.watcher == nil {
		return
	}
	if _, err := s.watcher.Watch(ctx, bookingID); err != nil {
		s.logger.Error().Err(err).Str("booking_id", bookingID).Msg("failed to watch timeline")
	}
}

func (s *BookingService) GetTimeline(ctx context.Context, bookingID string) (*TimelineView, error) {
	tl, err := s.store.GetTimeline(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.GetTasks(ctx, tl.TaskIDs)
	if err != nil {
		return nil, err
	}
	return &TimelineView{Timeline: tl, Tasks: tasks}, nil
}

func (s *BookingService) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return s.store.GetTask(ctx, id)
}

func (s *BookingService) ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error) {
	if !filter.ScheduledFrom.IsZero() && !filter.ScheduledTo.IsZero() && filter.ScheduledTo.Before(filter.ScheduledFrom) {
		return nil, domain.Invalid("to", "must not be before from")
	}
	return s.store.ListTasks(ctx, filter)
}
