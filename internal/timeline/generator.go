package timeline

import (
	"strings"
	"time"

	"villaops/internal/domain"
	"villaops/internal/models"

	"github.com/google/uuid"
)

// Generator turns a confirmed booking into its turnover task graph. It performs no I/O.
type Generator struct {
	now   domain.Clock
	newID func() string
}

func NewGenerator(now domain.Clock) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now, newID: uuid.NewString}
}

// Validate rejects a booking event that cannot produce a timeline.
func Validate(ev models.BookingConfirmed) error {
	switch {
	case strings.TrimSpace(ev.BookingID) == "":
		return domain.Invalid("bookingId", "is required")
	case strings.TrimSpace(ev.PropertyID) == "":
		return domain.Invalid("propertyId", "is required")
	case strings.TrimSpace(ev.PropertyName) == "":
		return domain.Invalid("propertyName", "is required")
	case ev.CheckInDate.IsZero():
		return domain.Invalid("checkInDate", "is required")
	case ev.CheckOutDate.IsZero():
		return domain.Invalid("checkOutDate", "is required")
	case !ev.CheckOutDate.After(ev.CheckInDate):
		return domain.Invalid("checkOutDate", "must be after checkInDate")
	}
	return nil
}

// Generate builds the five canonical tasks and the timeline of a booking. Edges are
// instantiated from the blueprint with freshly generated ids.
func (g *Generator) Generate(ev models.BookingConfirmed) (*models.Timeline, []*models.Task, error) {
	if err := Validate(ev); err != nil {
		return nil, nil, err
	}

	now := g.now().UTC()
	checkIn := ev.CheckInDate.UTC()
	checkOut := ev.CheckOutDate.UTC()

	ids := make(map[models.TaskType]string, len(blueprint))
	for _, s := range blueprint {
		ids[s.Type] = g.newID()
	}

	tasks := make([]*models.Task, 0, len(blueprint))
	var readyAt time.Time
	for _, s := range blueprint {
		task := &models.Task{
			ID:               ids[s.Type],
			BookingID:        ev.BookingID,
			PropertyID:       ev.PropertyID,
			PropertyName:     ev.PropertyName,
			Type:             s.Type,
			Title:            s.Title + " - " + ev.PropertyName,
			Priority:         s.Priority,
			Status:           models.StatusPending,
			ScheduledAt:      s.scheduledAt(checkIn, checkOut),
			EstimatedMinutes: s.Minutes,
			DependsOn:        []string{},
			Triggers:         []string{},
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		for _, dep := range s.DependsOn {
			task.DependsOn = append(task.DependsOn, ids[dep])
		}
		for _, trig := range triggersOf(s.Type) {
			task.Triggers = append(task.Triggers, ids[trig])
		}
		if end := task.ScheduledAt.Add(time.Duration(s.Minutes) * time.Minute); end.After(readyAt) {
			readyAt = end
		}
		tasks = append(tasks, task)
	}

	tl := &models.Timeline{
		BookingID:        ev.BookingID,
		PropertyID:       ev.PropertyID,
		TaskIDs:          make([]string, 0, len(tasks)),
		EstimatedReadyAt: readyAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, task := range tasks {
		tl.TaskIDs = append(tl.TaskIDs, task.ID)
	}
	Aggregate(tl, tasks, now)

	return tl, tasks, nil
}

// Booking returns the booking and property rows written with a new timeline.
func Booking(ev models.BookingConfirmed) (*models.Booking, *models.Property) {
	booking := &models.Booking{
		ID:           ev.BookingID,
		PropertyID:   ev.PropertyID,
		PropertyName: ev.PropertyName,
		GuestName:    ev.GuestName,
		CheckIn:      ev.CheckInDate.UTC(),
		CheckOut:     ev.CheckOutDate.UTC(),
		Status:       models.BookingStatusConfirmed,
	}
	property := &models.Property{
		ID:      ev.PropertyID,
		Name:    ev.PropertyName,
		Address: ev.PropertyAddress,
	}
	return booking, property
}
