package warehouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkify/internal/statements"
	"sparkify/internal/testutil"
	"sparkify/pkg/errors"
)

var settings = statements.CopySettings{
	IAMRoleARN:  "arn:aws:iam::123456789012:role/dwhRole",
	LogData:     "s3://udacity-dend/log_data",
	LogJSONPath: "s3://udacity-dend/log_json_path.json",
	SongData:    "s3://udacity-dend/song_data",
}

func newWarehouse(t *testing.T) (*Warehouse, sqlmock.Sqlmock, string) {
	t.Helper()
	svc, mock := testutil.MockDB(t)
	dir := t.TempDir()
	return New(svc, dir, nil), mock, dir
}

func TestResetTables(t *testing.T) {
	w, mock, _ := newWarehouse(t)

	for _, stmt := range statements.RedshiftDrop() {
		mock.ExpectExec(regexp.QuoteMeta(stmt.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	for _, stmt := range statements.RedshiftCreate() {
		mock.ExpectExec(regexp.QuoteMeta(stmt.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, w.ResetTables(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTablesStopsOnError(t *testing.T) {
	w, mock, _ := newWarehouse(t)

	mock.ExpectExec("CREATE TABLE staging_events").
		WillReturnError(fmt.Errorf(`syntax error at or near "SORTKEY"`))

	err := w.CreateTables(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSQLSyntax, errors.GetErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadStaging(t *testing.T) {
	copies := statements.RedshiftCopy(settings)
	previous := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		setupMock  func(mock sqlmock.Sqlmock)
		wantErrors map[string]int
		wantFiles  []string
		wantError  bool
		wantCode   errors.ErrorCode
	}{
		{
			name: "no previous errors and a clean load",
			setupMock: func(mock sqlmock.Sqlmock) {
				for _, cp := range copies {
					pattern := statements.LoadErrorsPattern(cp.Source)
					mock.ExpectQuery(regexp.QuoteMeta(statements.LoadErrorsStartTime)).
						WithArgs(pattern).
						WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
					mock.ExpectExec(regexp.QuoteMeta(cp.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
					mock.ExpectQuery(regexp.QuoteMeta(statements.LoadErrorsAll)).
						WithArgs(pattern).
						WillReturnRows(sqlmock.NewRows([]string{"filename", "colname", "err_reason"}))
				}
			},
			wantErrors: map[string]int{"staging_events": 0, "staging_songs": 0},
		},
		{
			name: "new errors since previous load are reported",
			setupMock: func(mock sqlmock.Sqlmock) {
				events, songs := copies[0], copies[1]

				mock.ExpectQuery(regexp.QuoteMeta(statements.LoadErrorsStartTime)).
					WithArgs("s3://udacity-dend/log_data%").
					WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(previous))
				mock.ExpectExec(regexp.QuoteMeta(events.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(regexp.QuoteMeta(statements.LoadErrorsSince)).
					WithArgs("s3://udacity-dend/log_data%", previous).
					WillReturnRows(sqlmock.NewRows([]string{"filename", "colname", "err_reason"}))

				mock.ExpectQuery(regexp.QuoteMeta(statements.LoadErrorsStartTime)).
					WithArgs("s3://udacity-dend/song_data%").
					WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(previous))
				mock.ExpectExec(regexp.QuoteMeta(songs.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(regexp.QuoteMeta(statements.LoadErrorsSince)).
					WithArgs("s3://udacity-dend/song_data%", previous).
					WillReturnRows(sqlmock.NewRows([]string{"filename", "colname", "err_reason"}).
						AddRow("s3://udacity-dend/song_data/A/B/C/TRABC.json   ", "title      ", "String length exceeds DDL length   ").
						AddRow("s3://udacity-dend/song_data/A/D/E/TRADE.json", "title", "String length exceeds DDL length").
						AddRow("s3://udacity-dend/song_data/A/F/G/TRAFG.json", "artist_name", "Invalid digit"))
			},
			wantErrors: map[string]int{"staging_events": 0, "staging_songs": 3},
			wantFiles:  []string{"stl_load_errors_staging_songs.json"},
		},
		{
			name: "copy failure stops the load",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(statements.LoadErrorsStartTime)).
					WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
				mock.ExpectExec(regexp.QuoteMeta(copies[0].SQL)).
					WillReturnError(fmt.Errorf("S3ServiceException: Access Denied"))
			},
			wantError: true,
			wantCode:  errors.ErrCodeCopyFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, mock, dir := newWarehouse(t)
			tt.setupMock(mock)

			results, err := w.LoadStaging(context.Background(), settings)
			if tt.wantError {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, errors.GetErrorCode(err))
				assert.NoError(t, mock.ExpectationsWereMet())
				return
			}
			require.NoError(t, err)
			require.Len(t, results, 2)

			for _, r := range results {
				assert.Equal(t, tt.wantErrors[r.Table], r.ErrorCount(), r.Table)
			}

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			var files []string
			for _, e := range entries {
				files = append(files, e.Name())
			}
			assert.Equal(t, tt.wantFiles, files)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLoadErrorReportFormat(t *testing.T) {
	w, _, dir := newWarehouse(t)

	grouped := map[string][]LoadError{
		"title": {
			{ErrReason: "String length exceeds DDL length", Filename: "s3://bucket/a.json"},
		},
	}
	path, err := w.writeLoadErrors("staging_songs", grouped)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "stl_load_errors_staging_songs.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string][]map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, map[string][]map[string]string{
		"title": {{"err_reason": "String length exceeds DDL length", "filename": "s3://bucket/a.json"}},
	}, decoded)
	assert.Contains(t, string(data), "\n    \"title\"")
}

func TestInsertTables(t *testing.T) {
	w, mock, _ := newWarehouse(t)

	for i, stmt := range statements.RedshiftInsert() {
		mock.ExpectExec(regexp.QuoteMeta(stmt.SQL)).WillReturnResult(sqlmock.NewResult(0, int64(10*(i+1))))
	}

	inserted, err := w.InsertTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"songplay": 10, "users": 20, "songs": 30, "artists": 40, "time": 50,
	}, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTablesFailure(t *testing.T) {
	w, mock, _ := newWarehouse(t)

	mock.ExpectExec("INSERT INTO songplay").
		WillReturnError(fmt.Errorf(`relation "staging_events" does not exist`))

	_, err := w.InsertTables(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSQLObjectNotFound, errors.GetErrorCode(err))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "songplay", appErr.Context["table"])
}

func TestColumns(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Columns(map[string][]LoadError{"b": nil, "a": nil}))
}
