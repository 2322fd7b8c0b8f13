package database

import (
	"context"
	"testing"

	"villaops/internal/domain"
	"villaops/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaffRoster(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedTurnover(t, db)

	roster := []*models.Staff{
		{ID: "s1", Name: "Made", Skills: []string{"cleaning", "inspection"}, Available: true, TelegramChatID: 42},
		{ID: "s2", Name: "Ketut", Skills: []string{"cleaning"}, Available: true, Email: "ketut@example.com"},
		{ID: "s3", Name: "Ayu", Skills: []string{"cleaning"}, Available: false},
	}
	for _, s := range roster {
		require.NoError(t, db.UpsertStaff(ctx, s))
	}

	got, err := db.GetStaff(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"cleaning", "inspection"}, got.Skills)
	assert.Equal(t, int64(42), got.TelegramChatID)

	t.Run("LeastLoadedFirst", func(t *testing.T) {
		staff, err := db.ListAvailableStaff(ctx, "cleaning")
		require.NoError(t, err)
		require.Len(t, staff, 2)
		assert.Equal(t, "s2", staff[0].ID)
		assert.Equal(t, "s1", staff[1].ID)

		require.NoError(t, db.AssignTask(ctx, "checkout", models.StatusPending, "s2", "Ketut"))

		staff, err = db.ListAvailableStaff(ctx, "cleaning")
		require.NoError(t, err)
		require.Len(t, staff, 2)
		assert.Equal(t, "s1", staff[0].ID)
		assert.Equal(t, 1, staff[1].ActiveTasks)
	})

	t.Run("UpsertReplacesSkills", func(t *testing.T) {
		require.NoError(t, db.UpsertStaff(ctx, &models.Staff{ID: "s1", Name: "Made", Skills: []string{"maintenance"}, Available: true}))

		staff, err := db.ListAvailableStaff(ctx, "inspection")
		require.NoError(t, err)
		assert.Empty(t, staff)

		staff, err = db.ListAvailableStaff(ctx, "maintenance")
		require.NoError(t, err)
		require.Len(t, staff, 1)
		assert.Equal(t, []string{"maintenance"}, staff[0].Skills)
	})

	_, err = db.GetStaff(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
