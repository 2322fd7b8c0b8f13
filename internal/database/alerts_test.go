package database

import (
	"context"
	"testing"
	"time"

	"villaops/internal/domain"
	"villaops/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlerts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	older := &models.Alert{Type: models.AlertStuckJob, Severity: models.SeverityHigh, Message: "job stuck", CreatedAt: testBase}
	newer := &models.Alert{Type: models.AlertMonitorFailure, Severity: models.SeverityCritical, Message: "sweep failed",
		Context: map[string]string{"sweep": "timeouts"}, CreatedAt: testBase.Add(time.Minute)}
	require.NoError(t, db.CreateAlert(ctx, older))
	require.NoError(t, db.CreateAlert(ctx, newer))
	assert.NotEmpty(t, older.ID)

	all, err := db.ListAlerts(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID)
	assert.Equal(t, "timeouts", all[0].Context["sweep"])

	require.NoError(t, db.ResolveAlert(ctx, older.ID, testBase.Add(time.Hour)))
	// Resolving twice is a no-op.
	require.NoError(t, db.ResolveAlert(ctx, older.ID, testBase.Add(2*time.Hour)))

	open := false
	unresolved, err := db.ListAlerts(ctx, &open)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, newer.ID, unresolved[0].ID)

	done := true
	resolved, err := db.ListAlerts(ctx, &done)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.NotNil(t, resolved[0].ResolvedAt)
	assert.True(t, resolved[0].ResolvedAt.Equal(testBase.Add(time.Hour)))

	assert.ErrorIs(t, db.ResolveAlert(ctx, "missing", testBase), domain.ErrNotFound)
}
