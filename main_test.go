package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"scaleprep/internal/scaleprep"
)

func seedSQLite(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "apm.db")
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	for _, stmt := range []string{
		`CREATE TABLE event_instances (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_instance_id INTEGER NOT NULL UNIQUE,
			entity_id TEXT NOT NULL,
			entity_type INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			comment TEXT,
			event_time DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE hive_queries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			query_id TEXT NOT NULL,
			annotation TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`INSERT INTO event_instances (event_instance_id, entity_id, entity_type, event_type, comment)
			VALUES (10, 'application_1_0001', 1, 'SU', 'real')`,
		`INSERT INTO hive_queries (query_id, annotation) VALUES ('application_1_0001', '{"numMRJobs": 2}')`,
	} {
		require.NoError(t, conn.Exec(stmt).Error)
	}

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_Seed(t *testing.T) {
	dbPath := seedSQLite(t)
	metricsPath := filepath.Join(t.TempDir(), "scaleprep.prom")

	out, err := execute(t,
		"--url", "sqlite://"+dbPath,
		"--username", "apm",
		"--password", "apm",
		"--app-type", "hive",
		"--num-apps", "1000",
		"--metrics-file", metricsPath,
	)
	require.NoError(t, err)

	assert.Contains(t, out, "Found 1 hive apps with recommendations\n")
	assert.Contains(t, out, "1000 hive event_instances records created\n")
	assert.Contains(t, out, "1000 hive_queries records created\n")
	assert.Contains(t, out, "Found 1001 hive apps with recommendations\n")

	prom, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `scaleprep_rows_inserted_total{app_type="hive",table="hive_queries"} 1000`)
	assert.Contains(t, string(prom), `scaleprep_existing_apps{app_type="hive"} 1001`)
	assert.Contains(t, string(prom), `scaleprep_runs_total{app_type="hive",result="success"} 1`)
}

func TestRun_FailureStillWritesMetrics(t *testing.T) {
	dbPath := seedSQLite(t)
	metricsPath := filepath.Join(t.TempDir(), "scaleprep.prom")

	_, err := execute(t,
		"--url", "sqlite://"+dbPath,
		"--username", "apm",
		"--password", "apm",
		"--app-type", "hive",
		"--num-apps", "1500",
		"--metrics-file", metricsPath,
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, scaleprep.ErrInvalidCount))

	prom, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `scaleprep_runs_total{app_type="hive",result="failure"} 1`)
	assert.Contains(t, string(prom), `scaleprep_existing_apps{app_type="hive"} 1`)
	assert.NotContains(t, string(prom), "scaleprep_rows_inserted_total")
}

func TestRun_ReportOnly(t *testing.T) {
	dbPath := seedSQLite(t)

	out, err := execute(t,
		"--url", "sqlite://"+dbPath,
		"--username", "apm",
		"--password", "apm",
		"--app-type", "hive",
		"--num-apps", "0",
		"--metrics-file", "",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 hive apps with recommendations\n")
	assert.Contains(t, out, "To add new entries, set --num-apps to a positive number\n")
}

func TestRun_UnsupportedAppType(t *testing.T) {
	dbPath := seedSQLite(t)

	_, err := execute(t,
		"--url", "sqlite://"+dbPath,
		"--username", "apm",
		"--password", "apm",
		"--app-type", "flink",
		"--num-apps", "0",
		"--metrics-file", "",
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, scaleprep.ErrUnsupportedAppType))
}
