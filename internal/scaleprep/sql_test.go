package scaleprep

import (
	"context"
	"io"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newMockPrep wires a Prep to sqlmock through the mysql dialector, pinning
// the exact SQL sent to the server.
func newMockPrep(t *testing.T) (*Prep, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	conn, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	p, err := New(conn, "hive", WithOutput(io.Discard), WithProgressOutput(io.Discard))
	require.NoError(t, err)
	return p, mock
}

func TestStat_SQL(t *testing.T) {
	p, mock := newMockPrep(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM event_instances WHERE event_type = ? AND entity_type = ?")).
		WithArgs("SU", 1).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(42))

	n, err := p.Stat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStat_DatabaseError(t *testing.T) {
	p, mock := newMockPrep(t)

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("connection reset"))

	_, err := p.Stat(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_SQL(t *testing.T) {
	p, mock := newMockPrep(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT entity_id FROM event_instances WHERE entity_type = ?")).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id"}).
			AddRow("application_2_0001").
			AddRow("application_2_0002"))

	rows, err := p.Execute(context.Background(), "SELECT entity_id FROM event_instances WHERE entity_type = ?", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.EqualValues(t, "application_2_0001", rows[0]["entity_id"])
	assert.EqualValues(t, "application_2_0002", rows[1]["entity_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPopulateEventInstances_TemplateQueryFailureRollsBack(t *testing.T) {
	p, mock := newMockPrep(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(event_instance_id), 0) FROM event_instances")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(500))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM event_instances WHERE event_type = ? AND entity_type = ? LIMIT 1")).
		WithArgs("SU", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_instance_id"}))
	mock.ExpectRollback()

	_, err := p.PopulateEventInstances(context.Background(), 1000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingTemplate))
	assert.NoError(t, mock.ExpectationsWereMet())
}
