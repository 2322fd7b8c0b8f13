package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"villaops/internal/domain"
	"villaops/internal/events"
	"villaops/internal/metrics"
	"villaops/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const timeoutSweepName = "timeouts"

// Thresholds are the ages past which offers and jobs count as stale.
type Thresholds struct {
	OfferTimeout       time.Duration
	JobAcceptedTimeout time.Duration
	JobStartedTimeout  time.Duration
}

// DefaultThresholds returns 15 minutes, 2 hours and 8 hours.
func DefaultThresholds() Thresholds {
	return Thresholds{
		OfferTimeout:       models.DefaultOfferTimeout,
		JobAcceptedTimeout: models.DefaultJobAcceptedTimeout,
		JobStartedTimeout:  models.DefaultJobStartedTimeout,
	}
}

// TimeoutResult is also the response of a manual sweep trigger.
type TimeoutResult struct {
	ExpiredOffers     int `json:"expiredOffers"`
	StuckAcceptedJobs int `json:"stuckAcceptedJobs"`
	StuckStartedJobs  int `json:"stuckStartedJobs"`
}

// TimeoutSweep expires stale offers and escalates stalled jobs.
type TimeoutSweep struct {
	offers     domain.OfferStore
	alerts     domain.AlertStore
	events     domain.EventPublisher
	thresholds Thresholds
	now        domain.Clock
	logger     zerolog.Logger
}

func NewTimeoutSweep(offers domain.OfferStore, alerts domain.AlertStore, publisher domain.EventPublisher, thresholds Thresholds, now domain.Clock, logger *zerolog.Logger) *TimeoutSweep {
	if now == nil {
		now = time.Now
	}
	defaults := DefaultThresholds()
	if thresholds.OfferTimeout <= 0 {
		thresholds.OfferTimeout = defaults.OfferTimeout
	}
	if thresholds.JobAcceptedTimeout <= 0 {
		thresholds.JobAcceptedTimeout = defaults.JobAcceptedTimeout
	}
	if thresholds.JobStartedTimeout <= 0 {
		thresholds.JobStartedTimeout = defaults.JobStartedTimeout
	}
	return &TimeoutSweep{
		offers:     offers,
		alerts:     alerts,
		events:     publisher,
		thresholds: thresholds,
		now:        now,
		logger:     logger.With().Str("component", "timeout_sweep").Logger(),
	}
}

// Run executes the three scans independently. Each scan commits atomically; alerts for
// affected jobs are written afterwards and may be lost without undoing the scan. If any
// scan fails the run raises one critical monitor-failure alert and returns the partial
// result with a *domain.MonitorFailure.
func (s *TimeoutSweep) Run(ctx context.Context) (TimeoutResult, error) {
	started := time.Now()
	now := s.now()
	var res TimeoutResult
	var errs []error

	if err := guarded("expire offers", func() error {
		expired, err := s.offers.ExpireStaleOffers(ctx, now.Add(-s.thresholds.OfferTimeout), now)
		if err != nil {
			return err
		}
		res.ExpiredOffers = len(expired)
		for _, offer := range expired {
			s.logger.Info().Str("offer_id", offer.ID).Str("job_id", offer.JobID).Msg("offer expired, job needs escalation")
		}
		return nil
	}); err != nil {
		errs = append(errs, fmt.Errorf("expire offers: %w", err))
	}

	if err := guarded("stuck accepted jobs", func() error {
		jobs, err := s.offers.MarkStuckJobs(ctx, models.JobAccepted, models.JobStuckAccepted,
			now.Add(-s.thresholds.JobAcceptedTimeout), now)
		if err != nil {
			return err
		}
		res.StuckAcceptedJobs = len(jobs)
		for _, job := range jobs {
			s.raise(ctx, job, models.SeverityHigh,
				fmt.Sprintf("Job %q accepted but not started for over %s", job.Title, s.thresholds.JobAcceptedTimeout), now)
		}
		return nil
	}); err != nil {
		errs = append(errs, fmt.Errorf("stuck accepted jobs: %w", err))
	}

	if err := guarded("stuck started jobs", func() error {
		jobs, err := s.offers.MarkStuckJobs(ctx, models.JobStarted, models.JobStuckStarted,
			now.Add(-s.thresholds.JobStartedTimeout), now)
		if err != nil {
			return err
		}
		res.StuckStartedJobs = len(jobs)
		for _, job := range jobs {
			s.raise(ctx, job, models.SeverityCritical,
				fmt.Sprintf("Job %q running for over %s, immediate action required", job.Title, s.thresholds.JobStartedTimeout), now)
		}
		return nil
	}); err != nil {
		errs = append(errs, fmt.Errorf("stuck started jobs: %w", err))
	}

	err := errors.Join(errs...)
	metrics.ObserveSweep(timeoutSweepName, started, err)
	metrics.AddSweepMutations(timeoutSweepName, "expired_offers", res.ExpiredOffers)
	metrics.AddSweepMutations(timeoutSweepName, "stuck_accepted_jobs", res.StuckAcceptedJobs)
	metrics.AddSweepMutations(timeoutSweepName, "stuck_started_jobs", res.StuckStartedJobs)

	if err != nil {
		failure := &domain.MonitorFailure{Sweep: timeoutSweepName, Err: err}
		raiseFailure(ctx, s.alerts, &s.logger, failure, now)
		return res, failure
	}

	s.logger.Info().
		Int("expired_offers", res.ExpiredOffers).
		Int("stuck_accepted_jobs", res.StuckAcceptedJobs).
		Int("stuck_started_jobs", res.StuckStartedJobs).
		Msg("timeout sweep finished")
	return res, nil
}

// raise writes one stuck-job alert. Errors are logged only.
func (s *TimeoutSweep) raise(ctx context.Context, job *models.Job, severity, message string, now time.Time) {
	alert := &models.Alert{
		ID:       uuid.NewString(),
		Type:     models.AlertStuckJob,
		Severity: severity,
		Message:  message,
		Context: map[string]string{
			"jobId":      job.ID,
			"propertyId": job.PropertyID,
			"staffId":    job.StaffID,
			"status":     job.Status,
		},
		CreatedAt: now,
	}
	if err := s.alerts.CreateAlert(ctx, alert); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to raise stuck job alert")
		return
	}
	metrics.IncAlert(alert.Type, alert.Severity)
	if s.events != nil {
		_ = s.events.PublishJSON(events.EventAlertRaised, events.AlertPayload{
			AlertID:  alert.ID,
			Type:     alert.Type,
			Severity: alert.Severity,
			Message:  alert.Message,
		})
	}
}
