// Package localdb loads the song and log files into a local PostgreSQL star
// schema one row at a time.
package localdb

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"sparkify/internal/database"
	"sparkify/internal/logging"
	"sparkify/internal/songdata"
	"sparkify/internal/statements"
	"sparkify/pkg/errors"
)

// Stats counts what Load wrote.
type Stats struct {
	SongFiles int `json:"song_files" yaml:"song_files"`
	LogFiles  int `json:"log_files" yaml:"log_files"`
	Songs     int `json:"songs" yaml:"songs"`
	Songplays int `json:"songplays" yaml:"songplays"`
	// Matched counts songplays whose song and artist were found.
	Matched int `json:"matched" yaml:"matched"`
}

// Loader writes to a connected local database.
type Loader struct {
	db  *database.Service
	log logrus.FieldLogger

	// OnFile, when set, is called after each file with its outcome.
	OnFile func(file string, done, total int, ok bool)
}

// NewLoader returns a Loader over db.
func NewLoader(db *database.Service, log logrus.FieldLogger) *Loader {
	return &Loader{db: db, log: logging.OrDiscard(log)}
}

// CreateTables drops and recreates the local schema.
func (l *Loader) CreateTables(ctx context.Context) error {
	if err := l.db.ExecAll(ctx, "Dropping", statements.PostgresDrop()); err != nil {
		return err
	}
	return l.db.ExecAll(ctx, "Creating", statements.PostgresCreate())
}

// Load processes dataDir/song_data then dataDir/log_data. Each file is
// committed in its own transaction.
func (l *Loader) Load(ctx context.Context, dataDir string) (*Stats, error) {
	stats := &Stats{}

	if err := l.processDir(ctx, filepath.Join(dataDir, songdata.SongDir), func(tx *sql.Tx, path string) error {
		stats.SongFiles++
		return l.processSongFile(ctx, tx, path, stats)
	}); err != nil {
		return stats, err
	}

	if err := l.processDir(ctx, filepath.Join(dataDir, songdata.LogDir), func(tx *sql.Tx, path string) error {
		stats.LogFiles++
		return l.processLogFile(ctx, tx, path, stats)
	}); err != nil {
		return stats, err
	}
	return stats, nil
}

func (l *Loader) processDir(ctx context.Context, dir string, fn func(*sql.Tx, string) error) error {
	files, err := songdata.FindJSON(dir)
	if err != nil {
		return err
	}
	l.log.WithField("dir", dir).Infof("%d files found in %s", len(files), dir)

	for i, path := range files {
		err := l.db.WithTx(ctx, func(tx *sql.Tx) error { return fn(tx, path) })
		if l.OnFile != nil {
			l.OnFile(filepath.Base(path), i+1, len(files), err == nil)
		}
		if err != nil {
			return errors.Wrap(err, errors.GetErrorCode(err), "Failed to load data file").
				WithContext("file", path)
		}
		l.log.WithField("file", filepath.Base(path)).Debugf("%d/%d files processed", i+1, len(files))
	}
	return nil
}

func (l *Loader) processSongFile(ctx context.Context, tx *sql.Tx, path string, stats *Stats) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeFileNotFound, "Failed to open song file")
	}
	defer f.Close()

	song, err := songdata.DecodeSong(f)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, statements.SongInsert,
		song.SongID, song.Title, song.ArtistID, song.Year, song.Duration); err != nil {
		return errors.SQLError("Failed to insert song", statements.SongInsert, err)
	}
	if _, err := tx.ExecContext(ctx, statements.ArtistInsert,
		song.ArtistID, song.ArtistName, song.ArtistLocation, nullFloat(song.ArtistLatitude), nullFloat(song.ArtistLongitude)); err != nil {
		return errors.SQLError("Failed to insert artist", statements.ArtistInsert, err)
	}
	stats.Songs++
	return nil
}

func (l *Loader) processLogFile(ctx context.Context, tx *sql.Tx, path string, stats *Stats) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeFileNotFound, "Failed to open log file")
	}
	defer f.Close()

	events, err := songdata.DecodeLog(f)
	if err != nil {
		return err
	}

	for _, event := range events {
		if !event.IsSongPlay() || !event.UserID.Valid {
			continue
		}

		t := songdata.TimeOf(event.StartTime())
		if _, err := tx.ExecContext(ctx, statements.TimeInsert,
			t.StartTime, t.Hour, t.Day, t.Week, t.Month, t.Year, t.Weekday); err != nil {
			return errors.SQLError("Failed to insert time", statements.TimeInsert, err)
		}

		if _, err := tx.ExecContext(ctx, statements.UserInsert,
			event.UserID.Value, songdata.Str(event.FirstName), songdata.Str(event.LastName),
			songdata.Str(event.Gender), event.Level); err != nil {
			return errors.SQLError("Failed to insert user", statements.UserInsert, err)
		}

		songID, artistID, err := lookupSong(ctx, tx, event)
		if err != nil {
			return err
		}
		if songID.Valid {
			stats.Matched++
		}

		if _, err := tx.ExecContext(ctx, statements.SongplayInsert,
			t.StartTime, event.UserID.Value, event.Level, songID, artistID,
			event.SessionID, songdata.Str(event.Location), songdata.Str(event.UserAgent)); err != nil {
			return errors.SQLError("Failed to insert songplay", statements.SongplayInsert, err)
		}
		stats.Songplays++
	}
	return nil
}

// lookupSong finds ids by title, artist name and duration. No match yields
// NULL ids.
func lookupSong(ctx context.Context, tx *sql.Tx, event songdata.LogEvent) (sql.NullString, sql.NullString, error) {
	var songID, artistID sql.NullString
	length := 0.0
	if event.Length != nil {
		length = *event.Length
	}

	err := tx.QueryRowContext(ctx, statements.SongSelect,
		songdata.Str(event.Song), songdata.Str(event.Artist), length).Scan(&songID, &artistID)
	if err != nil && err != sql.ErrNoRows {
		return songID, artistID, errors.SQLError("Failed to look up song", statements.SongSelect, err)
	}
	return songID, artistID, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
