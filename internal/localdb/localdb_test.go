package localdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkify/internal/statements"
	"sparkify/internal/testutil"
	"sparkify/pkg/errors"
)

const songFile = `{"num_songs": 1, "artist_id": "AR5KOSW1187FB35FF4", "artist_latitude": 49.80388, "artist_longitude": 15.47491, "artist_location": "Dubai UAE", "artist_name": "Elena", "song_id": "SOZCTXZ12AB0182364", "title": "Setanta matins", "duration": 269.58322, "year": 0}`

const logFile = `{"artist":null,"auth":"Logged In","firstName":"Walter","gender":"M","itemInSession":0,"lastName":"Frye","length":null,"level":"free","location":"San Francisco-Oakland-Hayward, CA","method":"GET","page":"Home","registration":1540919166796.0,"sessionId":38,"song":null,"status":200,"ts":1541105830796,"userAgent":"Mozilla","userId":"39"}
{"artist":"Elena","auth":"Logged In","firstName":"Lily","gender":"F","itemInSession":5,"lastName":"Koch","length":269.58322,"level":"paid","location":"Chicago-Naperville-Elgin, IL-IN-WI","method":"PUT","page":"NextSong","registration":1541048010796.0,"sessionId":818,"song":"Setanta matins","status":200,"ts":1542837407796,"userAgent":"Mozilla","userId":"15"}
{"artist":"Nobody","auth":"Logged Out","firstName":null,"gender":null,"itemInSession":6,"lastName":null,"length":100.0,"level":"free","location":null,"method":"PUT","page":"NextSong","registration":null,"sessionId":818,"song":"Silence","status":200,"ts":1542837408796,"userAgent":null,"userId":""}
`

func writeData(t *testing.T) string {
	t.Helper()
	return testutil.WriteTree(t, map[string]string{
		"song_data/A/A/A/TRAAAAW128F429D538.json": songFile,
		"log_data/2018/11/2018-11-21-events.json": logFile,
	})
}

func newLoader(t *testing.T) (*Loader, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := testutil.MockDB(t)
	return NewLoader(db, nil), mock
}

func TestCreateTables(t *testing.T) {
	loader, mock := newLoader(t)

	for _, stmt := range statements.PostgresDrop() {
		mock.ExpectExec(regexp.QuoteMeta(stmt.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	for _, stmt := range statements.PostgresCreate() {
		mock.ExpectExec(regexp.QuoteMeta(stmt.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, loader.CreateTables(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad(t *testing.T) {
	loader, mock := newLoader(t)
	root := writeData(t)
	var progress []string
	loader.OnFile = func(file string, done, total int, ok bool) {
		progress = append(progress, fmt.Sprintf("%s %d/%d %v", file, done, total, ok))
	}
	start := time.Date(2018, 11, 21, 21, 56, 47, 796000000, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(statements.SongInsert)).
		WithArgs("SOZCTXZ12AB0182364", "Setanta matins", "AR5KOSW1187FB35FF4", 0, 269.58322).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(statements.ArtistInsert)).
		WithArgs("AR5KOSW1187FB35FF4", "Elena", "Dubai UAE", 49.80388, 15.47491).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(statements.TimeInsert)).
		WithArgs(start, 21, 21, 47, 11, 2018, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(statements.UserInsert)).
		WithArgs(15, "Lily", "Koch", "F", "paid").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(statements.SongSelect)).
		WithArgs("Setanta matins", "Elena", 269.58322).
		WillReturnRows(sqlmock.NewRows([]string{"song_id", "artist_id"}).
			AddRow("SOZCTXZ12AB0182364", "AR5KOSW1187FB35FF4"))
	mock.ExpectExec(regexp.QuoteMeta(statements.SongplayInsert)).
		WithArgs(start, 15, "paid", "SOZCTXZ12AB0182364", "AR5KOSW1187FB35FF4", 818,
			"Chicago-Naperville-Elgin, IL-IN-WI", "Mozilla").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	stats, err := loader.Load(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, &Stats{SongFiles: 1, LogFiles: 1, Songs: 1, Songplays: 1, Matched: 1}, stats)
	assert.Equal(t, []string{"TRAAAAW128F429D538.json 1/1 true", "2018-11-21-events.json 1/1 true"}, progress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadUnmatchedSong(t *testing.T) {
	loader, mock := newLoader(t)
	root := writeData(t)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "song_data")))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "song_data"), 0755))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(statements.TimeInsert)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(statements.UserInsert)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(statements.SongSelect)).
		WillReturnRows(sqlmock.NewRows([]string{"song_id", "artist_id"}))
	mock.ExpectExec(regexp.QuoteMeta(statements.SongplayInsert)).
		WithArgs(sqlmock.AnyArg(), 15, "paid", nil, nil, 818, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	stats, err := loader.Load(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Songplays)
	assert.Equal(t, 0, stats.Matched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRollsBackFile(t *testing.T) {
	loader, mock := newLoader(t)
	root := writeData(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(statements.SongInsert)).
		WillReturnError(fmt.Errorf("relation \"songs\" does not exist"))
	mock.ExpectRollback()

	stats, err := loader.Load(context.Background(), root)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSQLObjectNotFound, errors.GetErrorCode(err))
	assert.Contains(t, err.Error(), "Failed to load data file")
	assert.Equal(t, 0, stats.Songs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadMissingDir(t *testing.T) {
	loader, _ := newLoader(t)

	_, err := loader.Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.GetErrorCode(err))
}
