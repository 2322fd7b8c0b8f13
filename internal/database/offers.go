package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"villaops/internal/domain"
	"villaops/internal/models"
)

const (
	offerColumns = `id, job_id, staff_id, status, sent_at, responded_at`
	jobColumns   = `id, property_id, title, status, staff_id, escalation_required, accepted_at,
	started_at, created_at, updated_at`
)

// jobClockColumn is the timestamp each stuck-job scan measures from.
var jobClockColumn = map[string]string{
	models.JobAccepted: "accepted_at",
	models.JobStarted:  "started_at",
}

func scanOffer(row rowScanner) (*models.Offer, error) {
	var o models.Offer
	var sentAt string
	var respondedAt sql.NullString
	if err := row.Scan(&o.ID, &o.JobID, &o.StaffID, &o.Status, &sentAt, &respondedAt); err != nil {
		return nil, err
	}
	var err error
	if o.SentAt, err = parseTime(sentAt); err != nil {
		return nil, err
	}
	if o.RespondedAt, err = parseNullTime(respondedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	var escalation int
	var acceptedAt, startedAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&j.ID, &j.PropertyID, &j.Title, &j.Status, &j.StaffID, &escalation,
		&acceptedAt, &startedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	j.EscalationRequired = escalation == 1

	var err error
	if j.AcceptedAt, err = parseNullTime(acceptedAt); err != nil {
		return nil, err
	}
	if j.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	if job.Status == "" {
		job.Status = models.JobOffered
	}

	_, err := db.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.PropertyID, job.Title, job.Status, job.StaffID, boolToInt(job.EscalationRequired),
		formatNullTime(job.AcceptedAt), formatNullTime(job.StartedAt),
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt))
	if err != nil {
		return storeErr("create job", err)
	}
	return nil
}

func (db *DB) CreateOffer(ctx context.Context, offer *models.Offer) error {
	if offer.Status == "" {
		offer.Status = models.OfferSent
	}
	if offer.SentAt.IsZero() {
		offer.SentAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `INSERT INTO offers (`+offerColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		offer.ID, offer.JobID, offer.StaffID, offer.Status, formatTime(offer.SentAt),
		formatNullTime(offer.RespondedAt))
	if err != nil {
		return storeErr("create offer", err)
	}
	return nil
}

func (db *DB) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	offer, err := scanOffer(db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = ?`, id))
	if err != nil {
		return nil, storeErr("get offer", err)
	}
	return offer, nil
}

func (db *DB) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := scanJob(db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, storeErr("get job", err)
	}
	return job, nil
}

// AcceptOffer is the staff acceptance path. It succeeds only while the offer is still
// sent and its job still offered; sibling offers of the job are expired in the same
// transaction so acceptance stays exclusive.
func (db *DB) AcceptOffer(ctx context.Context, offerID string, now time.Time) (*models.Job, error) {
	var job *models.Job
	err := db.withTx(ctx, "accept offer", func(tx *sql.Tx) error {
		offer, err := scanOffer(tx.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = ?`, offerID))
		if err != nil {
			return storeErr("accept offer", err)
		}

		res, err := tx.ExecContext(ctx, `UPDATE offers SET status = ?, responded_at = ? WHERE id = ? AND status = ?`,
			models.OfferAccepted, formatTime(now), offerID, models.OfferSent)
		if err != nil {
			return storeErr("accept offer", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("offer %s is %s: %w", offerID, offer.Status, domain.ErrConcurrentModification)
		}

		res, err = tx.ExecContext(ctx, `UPDATE jobs
			SET status = ?, staff_id = ?, accepted_at = ?, escalation_required = 0, updated_at = ?
			WHERE id = ? AND status = ?`,
			models.JobAccepted, offer.StaffID, formatTime(now), formatTime(now), offer.JobID, models.JobOffered)
		if err != nil {
			return storeErr("accept offer", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("job %s is no longer offered: %w", offer.JobID, domain.ErrConcurrentModification)
		}

		_, err = tx.ExecContext(ctx, `UPDATE offers SET status = ?, responded_at = ?
			WHERE job_id = ? AND id <> ? AND status = ?`,
			models.OfferExpired, formatTime(now), offer.JobID, offerID, models.OfferSent)
		if err != nil {
			return storeErr("accept offer", err)
		}

		job, err = scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, offer.JobID))
		if err != nil {
			return storeErr("accept offer", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// StartJob moves an accepted (or stuck accepted) job to started.
func (db *DB) StartJob(ctx context.Context, jobID string, now time.Time) error {
	res, err := db.ExecContext(ctx, `UPDATE jobs SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		models.JobStarted, formatTime(now), formatTime(now), jobID, models.JobAccepted, models.JobStuckAccepted)
	if err != nil {
		return storeErr("start job", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := db.GetJob(ctx, jobID); err != nil {
		return err
	}
	return fmt.Errorf("job %s cannot start: %w", jobID, domain.ErrConcurrentModification)
}

// ExpireStaleOffers expires every offer still sent before cutoff and flags its job for
// escalation. Status is re-checked per row, so an offer accepted meanwhile is never touched.
func (db *DB) ExpireStaleOffers(ctx context.Context, cutoff, now time.Time) ([]*models.Offer, error) {
	var expired []*models.Offer
	err := db.withTx(ctx, "expire offers", func(tx *sql.Tx) error {
		candidates, err := queryOffers(ctx, tx, `SELECT `+offerColumns+` FROM offers
			WHERE status = ? AND sent_at < ? ORDER BY sent_at ASC`, models.OfferSent, formatTime(cutoff))
		if err != nil {
			return err
		}

		for _, offer := range candidates {
			res, err := tx.ExecContext(ctx, `UPDATE offers SET status = ?, responded_at = ? WHERE id = ? AND status = ?`,
				models.OfferExpired, formatTime(now), offer.ID, models.OfferSent)
			if err != nil {
				return storeErr("expire offer", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			_, err = tx.ExecContext(ctx, `UPDATE jobs SET escalation_required = 1, updated_at = ?
				WHERE id = ? AND status = ?`, formatTime(now), offer.JobID, models.JobOffered)
			if err != nil {
				return storeErr("flag job escalation", err)
			}
			offer.Status = models.OfferExpired
			respondedAt := now
			offer.RespondedAt = &respondedAt
			expired = append(expired, offer)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// MarkStuckJobs moves jobs that have sat in status from since before cutoff to status to.
func (db *DB) MarkStuckJobs(ctx context.Context, from, to string, cutoff, now time.Time) ([]*models.Job, error) {
	column, ok := jobClockColumn[from]
	if !ok {
		return nil, domain.Invalid("status", fmt.Sprintf("no stuck-job clock for %q", from))
	}

	var stuck []*models.Job
	err := db.withTx(ctx, "mark stuck jobs", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs
			WHERE status = ? AND `+column+` IS NOT NULL AND `+column+` < ?
			ORDER BY `+column+` ASC`, from, formatTime(cutoff))
		if err != nil {
			return storeErr("mark stuck jobs", err)
		}
		var candidates []*models.Job
		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				rows.Close()
				return storeErr("mark stuck jobs", err)
			}
			candidates = append(candidates, job)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return storeErr("mark stuck jobs", err)
		}

		for _, job := range candidates {
			res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
				to, formatTime(now), job.ID, from)
			if err != nil {
				return storeErr("mark stuck job", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			job.Status = to
			job.UpdatedAt = now
			stuck = append(stuck, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stuck, nil
}

func queryOffers(ctx context.Context, q queryer, query string, args ...interface{}) ([]*models.Offer, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query offers", err)
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, storeErr("query offers", err)
		}
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query offers", err)
	}
	return offers, nil
}
