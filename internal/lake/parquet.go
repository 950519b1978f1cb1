package lake

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"sparkify/internal/common"
	"sparkify/internal/songdata"
	"sparkify/pkg/errors"
)

// Output table directories.
const (
	TableSongs     = "songs"
	TableArtists   = "artists"
	TableUsers     = "users"
	TableTime      = "time"
	TableSongplays = "songplays"
)

// PartFile is the file name written in every partition directory.
const PartFile = "part-0.parquet"

// hiveDefaultPartition names the directory for an empty partition value.
const hiveDefaultPartition = "__HIVE_DEFAULT_PARTITION__"

// writerParallelism is the parquet-go page encoding parallelism.
const writerParallelism = 4

// Partition columns are encoded in the directory path and left out of the
// file schemas below.

type songRecord struct {
	SongID   string  `parquet:"name=song_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Title    string  `parquet:"name=title, type=BYTE_ARRAY, convertedtype=UTF8"`
	Duration float64 `parquet:"name=duration, type=DOUBLE"`
}

type artistRecord struct {
	ArtistID  string   `parquet:"name=artist_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Name      string   `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Location  string   `parquet:"name=location, type=BYTE_ARRAY, convertedtype=UTF8"`
	Latitude  *float64 `parquet:"name=latitude, type=DOUBLE, repetitiontype=OPTIONAL"`
	Longitude *float64 `parquet:"name=longitude, type=DOUBLE, repetitiontype=OPTIONAL"`
}

type userRecord struct {
	UserID    int64  `parquet:"name=user_id, type=INT64"`
	FirstName string `parquet:"name=first_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastName  string `parquet:"name=last_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Gender    string `parquet:"name=gender, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Level     string `parquet:"name=level, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
}

type timeRecord struct {
	StartTime int64 `parquet:"name=start_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Hour      int32 `parquet:"name=hour, type=INT32"`
	Day       int32 `parquet:"name=day, type=INT32"`
	Week      int32 `parquet:"name=week, type=INT32"`
	Weekday   int32 `parquet:"name=weekday, type=INT32"`
}

type songplayRecord struct {
	SongplayID int64   `parquet:"name=songplay_id, type=INT64"`
	StartTime  int64   `parquet:"name=start_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	UserID     int64   `parquet:"name=user_id, type=INT64"`
	Level      string  `parquet:"name=level, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	SongID     *string `parquet:"name=song_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ArtistID   *string `parquet:"name=artist_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	SessionID  int64   `parquet:"name=session_id, type=INT64"`
	Location   string  `parquet:"name=location, type=BYTE_ARRAY, convertedtype=UTF8"`
	UserAgent  string  `parquet:"name=user_agent, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// partition is one key=value directory level.
type partition struct {
	key   string
	value string
}

func (p partition) dir() string {
	if p.value == "" {
		return p.key + "=" + hiveDefaultPartition
	}
	return p.key + "=" + url.PathEscape(p.value)
}

// WrittenFile is one Parquet file produced by WriteTables.
type WrittenFile struct {
	Table string
	// Path is relative to the output root, slash separated.
	Path string
	Rows int
}

// WriteTables writes every table under root and returns the files written.
// songs are partitioned by year and artist_id; time and songplays by year
// and month.
func WriteTables(root string, t *Tables) ([]WrittenFile, error) {
	var files []WrittenFile

	songs, err := writePartitioned(root, TableSongs, t.Songs,
		func(r SongRow) []partition {
			return []partition{{"year", strconv.Itoa(r.Year)}, {"artist_id", r.ArtistID}}
		},
		func(r SongRow) songRecord {
			return songRecord{SongID: r.SongID, Title: r.Title, Duration: r.Duration}
		})
	if err != nil {
		return files, err
	}
	files = append(files, songs...)

	artists, err := writePartitioned(root, TableArtists, t.Artists, nil,
		func(r ArtistRow) artistRecord {
			return artistRecord{ArtistID: r.ArtistID, Name: r.Name, Location: r.Location, Latitude: r.Latitude, Longitude: r.Longitude}
		})
	if err != nil {
		return files, err
	}
	files = append(files, artists...)

	users, err := writePartitioned(root, TableUsers, t.Users, nil,
		func(r UserRow) userRecord {
			return userRecord{UserID: r.UserID, FirstName: r.FirstName, LastName: r.LastName, Gender: r.Gender, Level: r.Level}
		})
	if err != nil {
		return files, err
	}
	files = append(files, users...)

	times, err := writePartitioned(root, TableTime, t.Time,
		func(r songdata.Time) []partition {
			return []partition{{"year", strconv.Itoa(r.Year)}, {"month", strconv.Itoa(r.Month)}}
		},
		func(r songdata.Time) timeRecord {
			return timeRecord{
				StartTime: r.StartTime.UnixMilli(),
				Hour:      int32(r.Hour),
				Day:       int32(r.Day),
				Week:      int32(r.Week),
				Weekday:   int32(r.Weekday),
			}
		})
	if err != nil {
		return files, err
	}
	files = append(files, times...)

	plays, err := writePartitioned(root, TableSongplays, t.Songplays,
		func(r SongplayRow) []partition {
			return []partition{{"year", strconv.Itoa(r.StartTime.Year())}, {"month", strconv.Itoa(int(r.StartTime.Month()))}}
		},
		func(r SongplayRow) songplayRecord {
			return songplayRecord{
				SongplayID: r.SongplayID,
				StartTime:  r.StartTime.UnixMilli(),
				UserID:     r.UserID,
				Level:      r.Level,
				SongID:     optional(r.SongID),
				ArtistID:   optional(r.ArtistID),
				SessionID:  r.SessionID,
				Location:   r.Location,
				UserAgent:  r.UserAgent,
			}
		})
	if err != nil {
		return files, err
	}
	return append(files, plays...), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// writePartitioned replaces the table directory, then groups rows by
// partition directory and writes one file per directory. A nil partitionOf
// writes a single unpartitioned file.
func writePartitioned[R any, P any](root, table string, rows []R, partitionOf func(R) []partition, record func(R) P) ([]WrittenFile, error) {
	tableDir, err := common.JoinPath(root, table)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "Invalid table path").
			WithContext("table", table)
	}
	if err := os.RemoveAll(tableDir); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to clear previous table output").
			WithContext("table", table)
	}

	groups := map[string][]P{}
	for _, row := range rows {
		var dirs []string
		if partitionOf != nil {
			for _, p := range partitionOf(row) {
				dirs = append(dirs, p.dir())
			}
		}
		rel := strings.Join(append([]string{table}, dirs...), "/")
		groups[rel] = append(groups[rel], record(row))
	}

	rels := make([]string, 0, len(groups))
	for rel := range groups {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	files := make([]WrittenFile, 0, len(rels))
	for _, rel := range rels {
		dir, err := common.JoinPath(root, filepath.FromSlash(rel))
		if err != nil {
			return files, errors.Wrap(err, errors.ErrCodeInvalidInput, "Invalid partition path").
				WithContext("partition", rel)
		}
		if err := writeParquet(filepath.Join(dir, PartFile), groups[rel]); err != nil {
			return files, err
		}
		files = append(files, WrittenFile{Table: table, Path: rel + "/" + PartFile, Rows: len(groups[rel])})
	}
	return files, nil
}

// writeParquet writes records to a new SNAPPY compressed file at path.
func writeParquet[P any](path string, records []P) error {
	if err := common.EnsureDir(filepath.Dir(path)); err != nil {
		return errors.Wrap(err, errors.ErrCodeFilePermission, "Failed to create partition directory")
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to create parquet file").
			WithContext("file", path)
	}

	pw, err := writer.NewParquetWriter(fw, new(P), writerParallelism)
	if err != nil {
		fw.Close()
		os.Remove(path)
		return errors.Wrap(err, errors.ErrCodeInternal, "Failed to create parquet writer").
			WithContext("file", path)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, rec := range records {
		if err := pw.Write(rec); err != nil {
			fw.Close()
			os.Remove(path)
			return errors.Wrap(err, errors.ErrCodeFileOperation, fmt.Sprintf("Failed to write record %d", i)).
				WithContext("file", path)
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		os.Remove(path)
		return errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to finish parquet file").
			WithContext("file", path)
	}
	if err := fw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to close parquet file").
			WithContext("file", path)
	}
	return nil
}
