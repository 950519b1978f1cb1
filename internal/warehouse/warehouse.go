// Package warehouse runs the Redshift table lifecycle and ETL steps.
package warehouse

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"sparkify/internal/common"
	"sparkify/internal/database"
	"sparkify/internal/logging"
	"sparkify/internal/statements"
	"sparkify/pkg/errors"
)

// Warehouse executes statements against a connected Redshift database.
type Warehouse struct {
	db        *database.Service
	reportDir string
	log       logrus.FieldLogger
}

// LoadError is one stl_load_errors row for a column.
type LoadError struct {
	ErrReason string `json:"err_reason"`
	Filename  string `json:"filename"`
}

// LoadResult describes one staging COPY.
type LoadResult struct {
	Table    string
	Source   string
	Duration time.Duration
	// Errors groups rejected rows by column name.
	Errors map[string][]LoadError
	// ReportPath is set when Errors were written to disk.
	ReportPath string
}

// ErrorCount returns the number of rejected rows.
func (r LoadResult) ErrorCount() int {
	n := 0
	for _, errs := range r.Errors {
		n += len(errs)
	}
	return n
}

// New returns a Warehouse writing load error reports into reportDir.
func New(db *database.Service, reportDir string, log logrus.FieldLogger) *Warehouse {
	return &Warehouse{db: db, reportDir: reportDir, log: logging.OrDiscard(log)}
}

// DropTables drops every warehouse table.
func (w *Warehouse) DropTables(ctx context.Context) error {
	return w.db.ExecAll(ctx, "Dropping", statements.RedshiftDrop())
}

// CreateTables creates staging and star schema tables.
func (w *Warehouse) CreateTables(ctx context.Context) error {
	return w.db.ExecAll(ctx, "Creating", statements.RedshiftCreate())
}

// ResetTables drops then creates every table.
func (w *Warehouse) ResetTables(ctx context.Context) error {
	if err := w.DropTables(ctx); err != nil {
		return err
	}
	return w.CreateTables(ctx)
}

// LoadStaging copies the S3 sources into the staging tables and collects
// rows rejected by MAXERROR.
func (w *Warehouse) LoadStaging(ctx context.Context, settings statements.CopySettings) ([]LoadResult, error) {
	var results []LoadResult

	for _, cp := range statements.RedshiftCopy(settings) {
		log := w.log.WithFields(logrus.Fields{"table": cp.Table, "bucket": cp.Source})
		log.Infof("Beginning copy from S3 bucket %s into table %s", cp.Source, cp.Table)

		previous, err := w.previousLoadError(ctx, cp.Source)
		if err != nil {
			return results, err
		}

		start := time.Now()
		if _, err := w.db.Exec(ctx, cp.SQL); err != nil {
			return results, errors.Wrap(err, errors.ErrCodeCopyFailed,
				fmt.Sprintf("Failed to copy %s into %s", cp.Source, cp.Table)).
				WithContext("table", cp.Table).
				WithSuggestions("Check [IAM_ROLE] ARN can read the bucket", "Query stl_load_errors for details")
		}
		result := LoadResult{Table: cp.Table, Source: cp.Source, Duration: time.Since(start)}
		log.WithField("duration", result.Duration.Round(time.Millisecond)).
			Infof("Completed copy from S3 bucket %s into table %s", cp.Source, cp.Table)

		result.Errors, err = w.loadErrors(ctx, cp.Source, previous)
		if err != nil {
			return results, err
		}

		if len(result.Errors) > 0 {
			result.ReportPath, err = w.writeLoadErrors(cp.Table, result.Errors)
			if err != nil {
				return results, err
			}
			log.WithField("file", result.ReportPath).
				Warnf("Saved %d load errors for table %s", result.ErrorCount(), cp.Table)
		} else {
			log.Infof("No errors occurred loading into table %s", cp.Table)
		}

		results = append(results, result)
	}

	return results, nil
}

// InsertTables fills the star schema from the staging tables and returns
// rows inserted per table.
func (w *Warehouse) InsertTables(ctx context.Context) (map[string]int64, error) {
	inserted := make(map[string]int64)
	for _, stmt := range statements.RedshiftInsert() {
		log := w.log.WithField("table", stmt.Table)
		log.Infof("Inserting data into table %s", stmt.Table)

		rows, err := w.db.Exec(ctx, stmt.SQL)
		if err != nil {
			var appErr *errors.AppError
			if errors.As(err, &appErr) {
				appErr.WithContext("table", stmt.Table)
			}
			return inserted, err
		}
		inserted[stmt.Table] = rows
		log.WithField("rows", rows).Debug("Insert complete")
	}
	return inserted, nil
}

// previousLoadError returns the newest stl_load_errors start time for the
// source, or the zero time when there is none.
func (w *Warehouse) previousLoadError(ctx context.Context, source string) (sql.NullTime, error) {
	var previous sql.NullTime
	err := w.db.QueryRow(ctx, statements.LoadErrorsStartTime,
		[]interface{}{statements.LoadErrorsPattern(source)}, &previous)
	if err != nil && errors.GetErrorCode(err) != errors.ErrCodeNoResults {
		return previous, err
	}
	return previous, nil
}

func (w *Warehouse) loadErrors(ctx context.Context, source string, since sql.NullTime) (map[string][]LoadError, error) {
	query := statements.LoadErrorsAll
	args := []interface{}{statements.LoadErrorsPattern(source)}
	if since.Valid {
		query = statements.LoadErrorsSince
		args = append(args, since.Time)
	}

	grouped := make(map[string][]LoadError)
	err := w.db.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var filename, colname, reason string
			if err := rows.Scan(&filename, &colname, &reason); err != nil {
				return errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to read stl_load_errors row")
			}
			col := strings.TrimSpace(colname)
			grouped[col] = append(grouped[col], LoadError{
				ErrReason: strings.TrimSpace(reason),
				Filename:  strings.TrimSpace(filename),
			})
		}
		return nil
	}, query, args...)
	if err != nil {
		return nil, err
	}
	return grouped, nil
}

// writeLoadErrors saves grouped load errors as stl_load_errors_<table>.json.
func (w *Warehouse) writeLoadErrors(table string, grouped map[string][]LoadError) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(grouped); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to encode load errors")
	}

	path, err := common.WriteReport(w.reportDir, fmt.Sprintf("stl_load_errors_%s.json", table), buf.Bytes())
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to write load errors").
			WithContext("table", table)
	}
	return path, nil
}

// Columns returns the sorted column names of a grouped error set.
func Columns(grouped map[string][]LoadError) []string {
	cols := make([]string, 0, len(grouped))
	for col := range grouped {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
