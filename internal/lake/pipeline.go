package lake

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"sparkify/internal/logging"
	"sparkify/internal/songdata"
	"sparkify/pkg/errors"
)

// DefaultConcurrency bounds simultaneous input reads and uploads.
const DefaultConcurrency = 8

// Uploader is satisfied by *manager.Uploader.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Options configures a pipeline run.
type Options struct {
	// Output is the local directory the tables are written under.
	Output string
	// Bucket, when set, receives a copy of the output tree.
	Bucket      string
	Concurrency int
}

// Result summarises a run.
type Result struct {
	SongFiles int            `json:"song_files" yaml:"song_files"`
	LogFiles  int            `json:"log_files" yaml:"log_files"`
	Rows      map[string]int `json:"rows" yaml:"rows"`
	Files     []WrittenFile  `json:"-" yaml:"-"`
	Uploaded  int            `json:"uploaded" yaml:"uploaded"`
	Duration  time.Duration  `json:"duration" yaml:"duration"`
}

// Pipeline reads a Source and writes Parquet tables.
type Pipeline struct {
	source   Source
	uploader Uploader
	log      logrus.FieldLogger
}

// NewPipeline returns a pipeline. uploader may be nil when nothing is
// uploaded.
func NewPipeline(source Source, uploader Uploader, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{source: source, uploader: uploader, log: logging.OrDiscard(log)}
}

// Run processes song data, then log data, writes every table and
// optionally uploads the result.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	result := &Result{Rows: map[string]int{}}

	p.log.WithField("input", p.source.String()).Info("Reading song data")
	songs, songFiles, err := readAll(ctx, p.source, songdata.SongDir, opts.Concurrency, decodeSong)
	if err != nil {
		return nil, err
	}
	result.SongFiles = songFiles

	p.log.WithField("input", p.source.String()).Info("Reading log data")
	events, logFiles, err := readAll(ctx, p.source, songdata.LogDir, opts.Concurrency, songdata.DecodeLog)
	if err != nil {
		return nil, err
	}
	result.LogFiles = logFiles

	tables := BuildTables(songs, events)
	result.Rows[TableSongs] = len(tables.Songs)
	result.Rows[TableArtists] = len(tables.Artists)
	result.Rows[TableUsers] = len(tables.Users)
	result.Rows[TableTime] = len(tables.Time)
	result.Rows[TableSongplays] = len(tables.Songplays)
	p.log.WithFields(logrus.Fields{
		"songs":     len(tables.Songs),
		"artists":   len(tables.Artists),
		"users":     len(tables.Users),
		"time":      len(tables.Time),
		"songplays": len(tables.Songplays),
	}).Info("Tables built")

	files, err := WriteTables(opts.Output, tables)
	result.Files = files
	if err != nil {
		return result, err
	}
	p.log.WithFields(logrus.Fields{"output": opts.Output, "files": len(files)}).Info("Parquet files written")

	if opts.Bucket != "" {
		n, err := p.upload(ctx, opts.Output, opts.Bucket, files, opts.Concurrency)
		result.Uploaded = n
		if err != nil {
			return result, err
		}
	}

	result.Duration = time.Since(start).Round(time.Millisecond)
	return result, nil
}

func decodeSong(r io.Reader) ([]songdata.Song, error) {
	song, err := songdata.DecodeSong(r)
	if err != nil {
		return nil, err
	}
	return []songdata.Song{*song}, nil
}

// readAll decodes every file under dir with at most limit reads in flight.
// Records keep the listing order.
func readAll[T any](ctx context.Context, src Source, dir string, limit int, decode func(io.Reader) ([]T, error)) ([]T, int, error) {
	names, err := src.List(ctx, dir)
	if err != nil {
		return nil, 0, err
	}

	perFile := make([][]T, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			rc, err := src.Open(gctx, name)
			if err != nil {
				return err
			}
			defer rc.Close()

			records, err := decode(rc)
			if err != nil {
				return errors.Wrap(err, errors.GetErrorCode(err), "Failed to read data file").
					WithContext("file", name)
			}
			perFile[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var all []T
	for _, records := range perFile {
		all = append(all, records...)
	}
	return all, len(names), nil
}

// upload copies the written files to bucket under the same relative keys.
func (p *Pipeline) upload(ctx context.Context, root, bucket string, files []WrittenFile, limit int) (int, error) {
	if p.uploader == nil {
		return 0, errors.New(errors.ErrCodeConfigInvalid, "No S3 uploader configured").
			WithContext("bucket", bucket)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	uploaded := make([]bool, len(files))

	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			f, err := os.Open(filepath.Join(root, filepath.FromSlash(file.Path)))
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeFileNotFound, "Failed to open parquet file").
					WithContext("file", file.Path)
			}
			defer f.Close()

			if _, err := p.uploader.Upload(gctx, &s3.PutObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(file.Path),
				Body:   f,
			}); err != nil {
				return errors.CloudError("Failed to upload parquet file", bucket+"/"+file.Path, err)
			}
			uploaded[i] = true
			return nil
		})
	}
	err := g.Wait()

	n := 0
	for _, ok := range uploaded {
		if ok {
			n++
		}
	}
	p.log.WithFields(logrus.Fields{"bucket": bucket, "files": n}).Info("Uploaded parquet files")
	return n, err
}
