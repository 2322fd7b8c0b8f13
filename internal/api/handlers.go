package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"villaops/internal/domain"
	"villaops/internal/lifecycle"
	"villaops/internal/models"
)

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.PingContext(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleBookingConfirmed(w http.ResponseWriter, r *http.Request) {
	var ev models.BookingConfirmed
	if err := decodeBody(w, r, &ev, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	view, err := s.deps.Bookings.ConfirmBooking(r.Context(), ev)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	code := http.StatusOK
	if view.Created {
		code = http.StatusCreated
	}
	writeJSON(w, code, view)
}

func (s *HTTPServer) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Bookings.GetTimeline(r.Context(), r.PathValue("bookingId"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := taskFilter(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	tasks, err := s.deps.Bookings.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func taskFilter(r *http.Request) (models.TaskFilter, error) {
	q := r.URL.Query()
	filter := models.TaskFilter{
		BookingID:  strings.TrimSpace(q.Get("booking_id")),
		PropertyID: strings.TrimSpace(q.Get("property_id")),
		Type:       models.TaskType(strings.TrimSpace(q.Get("type"))),
		Status:     models.TaskStatus(strings.TrimSpace(q.Get("status"))),
	}

	for name, dst := range map[string]*time.Time{"from": &filter.ScheduledFrom, "to": &filter.ScheduledTo} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, domain.Invalid(name, "expected RFC3339 time")
		}
		*dst = t
	}

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, domain.Invalid("limit", "must be a non-negative integer")
		}
		filter.Limit = n
	}
	return filter, nil
}

func (s *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Bookings.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.TransitionRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	req.TaskID = r.PathValue("id")

	task, err := s.deps.Lifecycle.Transition(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleTaskAssign(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Lifecycle.Assign(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleInspection(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.InspectionRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	req.TaskID = r.PathValue("id")

	res, err := s.deps.Lifecycle.SubmitInspection(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Offers.AcceptOffer(r.Context(), r.PathValue("id"), s.deps.Now())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *HTTPServer) handleStartJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Offers.StartJob(r.Context(), id, s.deps.Now()); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	job, err := s.deps.Offers.GetJob(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *HTTPServer) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	var resolved *bool
	if raw := strings.TrimSpace(r.URL.Query().Get("resolved")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeDomainError(w, r, domain.Invalid("resolved", "must be true or false"))
			return
		}
		resolved = &v
	}

	alerts, err := s.deps.Alerts.ListAlerts(r.Context(), resolved)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *HTTPServer) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Alerts.ResolveAlert(r.Context(), id, s.deps.Now()); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
}

// A failed sweep still reports what it managed to do before failing.
func (s *HTTPServer) handleSweepTimeouts(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Timeouts.Run(r.Context())
	if err != nil {
		s.writeSweepFailure(w, r, err, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleSweepCheckout(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Checkout.Run(r.Context())
	if err != nil {
		s.writeSweepFailure(w, r, err, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) writeSweepFailure(w http.ResponseWriter, r *http.Request, err error, partial any) {
	code := http.StatusInternalServerError
	var failure *domain.MonitorFailure
	if !errors.As(err, &failure) {
		code = statusFor(err)
	}
	s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("manual sweep failed")
	writeJSON(w, code, map[string]any{"error": err.Error(), "result": partial})
}
