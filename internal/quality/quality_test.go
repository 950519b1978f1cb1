package quality

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkify/internal/testutil"
	"sparkify/pkg/errors"
)

var schemaColumns = []string{"table_name", "column_name", "character_maximum_length", "remarks"}

func newChecker(t *testing.T) (*Checker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := testutil.MockDB(t)
	return NewChecker(db, nil), mock
}

func schemaRows() *sqlmock.Rows {
	return sqlmock.NewRows(schemaColumns).
		AddRow("staging_songs", "title", 256, nil).
		AddRow("staging_songs", "year", nil, nil).
		AddRow("songs", "song_id", 18, "PRIMARY KEY").
		AddRow("songs", "title", 256, nil).
		AddRow("users", "user_id", nil, "PRIMARY KEY")
}

func TestSchema(t *testing.T) {
	checker, mock := newChecker(t)

	mock.ExpectQuery("FROM SVV_COLUMNS").WithArgs("dwh").WillReturnRows(schemaRows())

	schema, err := checker.Schema(context.Background(), "dwh")
	require.NoError(t, err)
	assert.Len(t, schema.Staging, 2)
	assert.Len(t, schema.Main, 3)
	assert.True(t, schema.Main[0].IsPrimaryKey())
	assert.False(t, schema.Main[1].IsPrimaryKey())
}

func TestSchemaMissingPrimaryKey(t *testing.T) {
	checker, mock := newChecker(t)

	mock.ExpectQuery("FROM SVV_COLUMNS").WithArgs("dwh").WillReturnRows(
		sqlmock.NewRows(schemaColumns).
			AddRow("songs", "song_id", 18, "PRIMARY KEY").
			AddRow("time", "start_time", nil, nil).
			AddRow("artists", "artist_id", 18, nil))

	_, err := checker.Schema(context.Background(), "dwh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artists, time")
}

func TestTruncationQuery(t *testing.T) {
	staging := []Column{
		{Table: "staging_songs", Name: "title", MaxLength: sql.NullInt64{Int64: 256, Valid: true}},
		{Table: "staging_songs", Name: "year"},
		{Table: "staging_events", Name: "gender", MaxLength: sql.NullInt64{Int64: 1, Valid: true}},
	}

	query := TruncationQuery(staging)
	assert.Contains(t, query, "LEN(title) = 256")
	assert.Contains(t, query, "LEN(gender) = 1")
	assert.NotContains(t, query, "LEN(year)")
	assert.Equal(t, 1, strings.Count(query, "UNION ALL"))

	assert.Equal(t, "", TruncationQuery([]Column{{Table: "staging_songs", Name: "year"}}))
}

func TestPrimaryKeys(t *testing.T) {
	main := []Column{
		{Table: "songs", Name: "song_id", Remarks: sql.NullString{String: "PRIMARY KEY", Valid: true}},
		{Table: "songs", Name: "title"},
		{Table: "users", Name: "user_id", Remarks: sql.NullString{String: "PRIMARY KEY", Valid: true}},
	}
	countColumns := []string{"table_name", "pk_column", "pks_duplicated", "length"}

	tests := []struct {
		name       string
		rows       *sqlmock.Rows
		wantError  bool
		wantTables []string
	}{
		{
			name: "unique keys",
			rows: sqlmock.NewRows(countColumns).
				AddRow("users", "user_id", 0, 96).
				AddRow("songs", "song_id", 0, 14896),
			wantTables: []string{"songs", "users"},
		},
		{
			name: "duplicated keys",
			rows: sqlmock.NewRows(countColumns).
				AddRow("songs", "song_id", 0, 14896).
				AddRow("users", "user_id", 9, 105),
			wantError:  true,
			wantTables: []string{"songs", "users"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker, mock := newChecker(t)
			mock.ExpectQuery(regexp.QuoteMeta(PrimaryKeyQuery(main))).WillReturnRows(tt.rows)

			counts, err := checker.PrimaryKeys(context.Background(), main)
			var tables []string
			for _, c := range counts {
				tables = append(tables, c.Table)
			}
			assert.Equal(t, tt.wantTables, tables)

			if tt.wantError {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeDuplicateKey, errors.GetErrorCode(err))
				assert.Contains(t, err.Error(), "users")
				assert.NotContains(t, err.Error(), "songs")
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRun(t *testing.T) {
	checker, mock := newChecker(t)

	mock.ExpectQuery("FROM SVV_COLUMNS").WithArgs("dwh").WillReturnRows(schemaRows())
	mock.ExpectQuery("LEN\\(title\\) = 256").WillReturnRows(
		sqlmock.NewRows([]string{"table_name", "column_name", "col_percent"}).
			AddRow("staging_songs", "title", 0.05))
	mock.ExpectQuery("COUNT\\(DISTINCT song_id\\)").WillReturnRows(
		sqlmock.NewRows([]string{"table_name", "pk_column", "pks_duplicated", "length"}).
			AddRow("songs", "song_id", 0, 14896).
			AddRow("users", "user_id", 0, 96))

	report, err := checker.Run(context.Background(), "dwh")
	require.NoError(t, err)
	require.Len(t, report.Truncations, 1)
	assert.Equal(t, Truncation{Table: "staging_songs", Column: "title", Percent: 0.05}, report.Truncations[0])
	assert.Len(t, report.Counts, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
