package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"villaops/internal/domain"
	"villaops/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedJob(t *testing.T, db *DB, jobID string, offers map[string]time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.CreateJob(ctx, &models.Job{ID: jobID, PropertyID: "villa-1", Title: "Pool clean", CreatedAt: testBase}))
	for id, sent := range offers {
		require.NoError(t, db.CreateOffer(ctx, &models.Offer{ID: id, JobID: jobID, StaffID: "staff-" + id, SentAt: sent}))
	}
}

func TestAcceptOffer(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedJob(t, db, "job-1", map[string]time.Time{"o1": testBase, "o2": testBase})

	job, err := db.AcceptOffer(ctx, "o1", testBase.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.JobAccepted, job.Status)
	assert.Equal(t, "staff-o1", job.StaffID)
	require.NotNil(t, job.AcceptedAt)

	sibling, err := db.GetOffer(ctx, "o2")
	require.NoError(t, err)
	assert.Equal(t, models.OfferExpired, sibling.Status)

	_, err = db.AcceptOffer(ctx, "o2", testBase.Add(6*time.Minute))
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	_, err = db.AcceptOffer(ctx, "missing", testBase)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAcceptOffer_Concurrent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	offers := map[string]time.Time{}
	ids := []string{"o1", "o2", "o3", "o4", "o5"}
	for _, id := range ids {
		offers[id] = testBase
	}
	seedJob(t, db, "job-1", offers)

	var wg sync.WaitGroup
	results := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := db.AcceptOffer(ctx, id, testBase.Add(time.Minute))
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	accepted := 0
	for err := range results {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	}
	assert.Equal(t, 1, accepted)
}

func TestExpireStaleOffers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := testBase
	cutoff := now.Add(-models.DefaultOfferTimeout)

	seedJob(t, db, "job-stale", map[string]time.Time{"stale": now.Add(-16 * time.Minute)})
	seedJob(t, db, "job-fresh", map[string]time.Time{"fresh": now.Add(-14 * time.Minute)})
	seedJob(t, db, "job-taken", map[string]time.Time{"taken": now.Add(-20 * time.Minute)})
	_, err := db.AcceptOffer(ctx, "taken", now.Add(-19*time.Minute))
	require.NoError(t, err)

	expired, err := db.ExpireStaleOffers(ctx, cutoff, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "stale", expired[0].ID)
	assert.Equal(t, models.OfferExpired, expired[0].Status)

	job, err := db.GetJob(ctx, "job-stale")
	require.NoError(t, err)
	assert.True(t, job.EscalationRequired)

	fresh, err := db.GetOffer(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.OfferSent, fresh.Status)

	taken, err := db.GetOffer(ctx, "taken")
	require.NoError(t, err)
	assert.Equal(t, models.OfferAccepted, taken.Status)

	job, err = db.GetJob(ctx, "job-taken")
	require.NoError(t, err)
	assert.False(t, job.EscalationRequired)

	again, err := db.ExpireStaleOffers(ctx, cutoff, now)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestMarkStuckJobs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := testBase

	accept := func(jobID, offerID string, at time.Time) {
		seedJob(t, db, jobID, map[string]time.Time{offerID: at.Add(-time.Minute)})
		_, err := db.AcceptOffer(ctx, offerID, at)
		require.NoError(t, err)
	}
	accept("late", "o-late", now.Add(-2*time.Hour-time.Minute))
	accept("ontime", "o-ontime", now.Add(-time.Hour-59*time.Minute))
	accept("running", "o-running", now.Add(-10*time.Hour))
	require.NoError(t, db.StartJob(ctx, "running", now.Add(-8*time.Hour-time.Minute)))

	stuck, err := db.MarkStuckJobs(ctx, models.JobAccepted, models.JobStuckAccepted, now.Add(-models.DefaultJobAcceptedTimeout), now)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "late", stuck[0].ID)
	assert.Equal(t, models.JobStuckAccepted, stuck[0].Status)

	ontime, err := db.GetJob(ctx, "ontime")
	require.NoError(t, err)
	assert.Equal(t, models.JobAccepted, ontime.Status)

	stuck, err = db.MarkStuckJobs(ctx, models.JobStarted, models.JobStuckStarted, now.Add(-models.DefaultJobStartedTimeout), now)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "running", stuck[0].ID)

	_, err = db.MarkStuckJobs(ctx, models.JobOffered, models.JobStuckAccepted, now, now)
	assert.True(t, domain.IsValidation(err))
}

func TestStartJob(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedJob(t, db, "job-1", map[string]time.Time{"o1": testBase})

	err := db.StartJob(ctx, "job-1", testBase)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	_, err = db.AcceptOffer(ctx, "o1", testBase)
	require.NoError(t, err)
	require.NoError(t, db.StartJob(ctx, "job-1", testBase.Add(time.Minute)))

	job, err := db.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStarted, job.Status)
	require.NotNil(t, job.StartedAt)

	assert.ErrorIs(t, db.StartJob(ctx, "missing", testBase), domain.ErrNotFound)
}
