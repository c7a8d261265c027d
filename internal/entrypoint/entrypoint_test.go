package entrypoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/librarian/internal/config"
	"github.com/mrlokans/librarian/internal/database"
	"github.com/mrlokans/librarian/internal/database/runs"
	"github.com/mrlokans/librarian/internal/entities"
)

func TestCloseInterruptedRuns_KeepsRecentRuns(t *testing.T) {
	db, err := database.NewDatabase(config.Database{
		Driver:         config.DatabaseDriverSQLite,
		Path:           filepath.Join(t.TempDir(), "entrypoint.db"),
		ConnectTimeout: 5 * time.Second,
		LogLevel:       "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	repo := runs.NewRepository(db.DB)

	abandoned := time.Now().UTC().Add(-8 * time.Hour)
	require.NoError(t, repo.StartRun(ctx, "abandoned", entities.RunTriggerSchedule, abandoned))
	require.NoError(t, db.DB.Model(&entities.ReconciliationRun{}).Where("run_id = ?", "abandoned").Update("updated_at", abandoned).Error)

	// In flight on another process sharing the database.
	require.NoError(t, repo.StartRun(ctx, "in-flight", entities.RunTriggerSchedule, time.Now().UTC().Add(-time.Minute)))

	assert.Equal(t, int64(1), closeInterruptedRuns(ctx, repo, 6*time.Hour))

	run, err := repo.GetRun(ctx, "abandoned")
	require.NoError(t, err)
	assert.Equal(t, entities.RunStatusFailed, run.Status)

	run, err = repo.GetRun(ctx, "in-flight")
	require.NoError(t, err)
	assert.Equal(t, entities.RunStatusRunning, run.Status)
}
