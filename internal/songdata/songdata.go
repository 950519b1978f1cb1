// Package songdata decodes the song metadata and user activity log files
// shared by the local loader and the data lake pipeline.
package songdata

import (
	"bytes"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"sparkify/pkg/errors"
)

// Input subdirectories under a data root.
const (
	SongDir = "song_data"
	LogDir  = "log_data"
)

// NextSongPage marks log events that are song plays.
const NextSongPage = "NextSong"

// Song is one song metadata file.
type Song struct {
	NumSongs        int      `json:"num_songs"`
	ArtistID        string   `json:"artist_id"`
	ArtistLatitude  *float64 `json:"artist_latitude"`
	ArtistLongitude *float64 `json:"artist_longitude"`
	ArtistLocation  string   `json:"artist_location"`
	ArtistName      string   `json:"artist_name"`
	SongID          string   `json:"song_id"`
	Title           string   `json:"title"`
	Duration        float64  `json:"duration"`
	Year            int      `json:"year"`
}

// UserID is a log user id. The logs write it as a string that is empty for
// logged out users, so it decodes from either a string or a number.
type UserID struct {
	Value int64
	Valid bool
}

// UnmarshalJSON accepts "", null, "39" and 39.
func (u *UserID) UnmarshalJSON(data []byte) error {
	*u = UserID{}
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return err
	}
	u.Value, u.Valid = v, true
	return nil
}

// MarshalJSON writes null for a missing id.
func (u UserID) MarshalJSON() ([]byte, error) {
	if !u.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(u.Value, 10)), nil
}

// LogEvent is one line of an activity log file.
type LogEvent struct {
	Artist        *string  `json:"artist"`
	Auth          string   `json:"auth"`
	FirstName     *string  `json:"firstName"`
	Gender        *string  `json:"gender"`
	ItemInSession int      `json:"itemInSession"`
	LastName      *string  `json:"lastName"`
	Length        *float64 `json:"length"`
	Level         string   `json:"level"`
	Location      *string  `json:"location"`
	Method        string   `json:"method"`
	Page          string   `json:"page"`
	Registration  *float64 `json:"registration"`
	SessionID     int64    `json:"sessionId"`
	Song          *string  `json:"song"`
	Status        int      `json:"status"`
	TS            int64    `json:"ts"`
	UserAgent     *string  `json:"userAgent"`
	UserID        UserID   `json:"userId"`
}

// IsSongPlay reports whether the event is a NextSong page view.
func (e LogEvent) IsSongPlay() bool {
	return e.Page == NextSongPage
}

// StartTime converts the millisecond timestamp to UTC.
func (e LogEvent) StartTime() time.Time {
	return time.UnixMilli(e.TS).UTC()
}

// Str dereferences an optional string.
func Str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// DecodeSong reads a song file holding a single JSON object.
func DecodeSong(r io.Reader) (*Song, error) {
	var song Song
	if err := json.NewDecoder(r).Decode(&song); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFileCorrupted, "Failed to decode song file")
	}
	return &song, nil
}

// DecodeLog reads a log file holding one JSON object per line.
func DecodeLog(r io.Reader) ([]LogEvent, error) {
	var events []LogEvent
	dec := json.NewDecoder(r)
	for {
		var event LogEvent
		err := dec.Decode(&event)
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, errors.Wrap(err, errors.ErrCodeFileCorrupted, "Failed to decode log event").
				WithContext("line", len(events)+1)
		}
		events = append(events, event)
	}
}

// Time is a row of the time dimension.
type Time struct {
	StartTime time.Time
	Hour      int
	Day       int
	Week      int
	Month     int
	Year      int
	// Weekday counts from Monday = 0.
	Weekday int
}

// TimeOf splits a start time into its dimension columns.
func TimeOf(t time.Time) Time {
	_, week := t.ISOWeek()
	return Time{
		StartTime: t,
		Hour:      t.Hour(),
		Day:       t.Day(),
		Week:      week,
		Month:     int(t.Month()),
		Year:      t.Year(),
		Weekday:   (int(t.Weekday()) + 6) % 7,
	}
}

// FindJSON lists every .json file below root in lexical order.
func FindJSON(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFileNotFound, "Failed to list data files").
			WithContext("root", root)
	}
	sort.Strings(files)
	return files, nil
}
