// Package quality checks the loaded warehouse. Redshift does not enforce
// primary keys, so uniqueness has to be verified after the inserts.
package quality

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"sparkify/internal/database"
	"sparkify/internal/logging"
	"sparkify/internal/statements"
	"sparkify/pkg/errors"
)

// Column is one row of SVV_COLUMNS.
type Column struct {
	Table     string
	Name      string
	MaxLength sql.NullInt64
	Remarks   sql.NullString
}

// IsPrimaryKey reports whether the column carries the primary key remark.
func (c Column) IsPrimaryKey() bool {
	return c.Remarks.Valid && c.Remarks.String == statements.PrimaryKeyRemark
}

// Schema splits the public schema into staging and star schema columns.
type Schema struct {
	Staging []Column
	Main    []Column
}

// Truncation is a staging column where some values fill the declared width.
// 100 percent may simply mean every value has the maximum length.
type Truncation struct {
	Table   string  `json:"table" yaml:"table"`
	Column  string  `json:"column" yaml:"column"`
	Percent float64 `json:"percent" yaml:"percent"`
}

// TableCount holds record and duplicate key counts for a star schema table.
type TableCount struct {
	Table      string `json:"table" yaml:"table"`
	PrimaryKey string `json:"primary_key" yaml:"primary_key"`
	Duplicates int64  `json:"duplicates" yaml:"duplicates"`
	Records    int64  `json:"records" yaml:"records"`
}

// Report is the outcome of Run.
type Report struct {
	Truncations []Truncation `json:"truncations" yaml:"truncations"`
	Counts      []TableCount `json:"counts" yaml:"counts"`
}

// Checker runs quality queries.
type Checker struct {
	db  *database.Service
	log logrus.FieldLogger
}

// NewChecker returns a Checker over a connected database.
func NewChecker(db *database.Service, log logrus.FieldLogger) *Checker {
	return &Checker{db: db, log: logging.OrDiscard(log)}
}

const schemaQuery = `
SELECT
	table_name,
	column_name,
	character_maximum_length,
	remarks
FROM SVV_COLUMNS
WHERE table_catalog = $1
AND table_schema = 'public'
ORDER BY table_name, ordinal_position`

// Schema reads the public schema of dbName. Every star schema table must
// have a column remarked as its primary key.
func (c *Checker) Schema(ctx context.Context, dbName string) (*Schema, error) {
	schema := &Schema{}
	err := c.db.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var col Column
			if err := rows.Scan(&col.Table, &col.Name, &col.MaxLength, &col.Remarks); err != nil {
				return errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to read SVV_COLUMNS row")
			}
			if strings.HasPrefix(col.Table, statements.StagingPrefix) {
				schema.Staging = append(schema.Staging, col)
			} else {
				schema.Main = append(schema.Main, col)
			}
		}
		return nil
	}, schemaQuery, dbName)
	if err != nil {
		return nil, err
	}

	if missing := missingPrimaryKeys(schema.Main); len(missing) > 0 {
		return schema, errors.New(errors.ErrCodeValidationFailed,
			fmt.Sprintf("PRIMARY KEY comment for table(s) %s was not added during table creation", strings.Join(missing, ", "))).
			WithContext("tables", missing).
			WithSuggestions("Run 'sparkify tables' to recreate the schema")
	}
	return schema, nil
}

func missingPrimaryKeys(main []Column) []string {
	tables := map[string]bool{}
	for _, col := range main {
		tables[col.Table] = tables[col.Table] || col.IsPrimaryKey()
	}
	var missing []string
	for table, hasKey := range tables {
		if !hasKey {
			missing = append(missing, table)
		}
	}
	sort.Strings(missing)
	return missing
}

// TruncationQuery builds one query covering every staging varchar column.
// It returns "" when there are none.
func TruncationQuery(staging []Column) string {
	var parts []string
	for _, col := range staging {
		if !col.MaxLength.Valid {
			continue
		}
		parts = append(parts, fmt.Sprintf(`
SELECT
	'%[1]s' AS table_name,
	'%[2]s' AS column_name,
	SUM(CASE WHEN LEN(%[2]s) = %[3]d THEN 1 ELSE 0 END) / CAST(COUNT(%[2]s) AS FLOAT) * 100 AS col_percent
FROM %[1]s
HAVING col_percent > 0`, col.Table, col.Name, col.MaxLength.Int64))
	}
	return strings.Join(parts, "\nUNION ALL\n")
}

// Truncation finds staging columns whose values reach the declared width,
// which COPY produces when it truncates longer strings.
func (c *Checker) Truncation(ctx context.Context, staging []Column) ([]Truncation, error) {
	query := TruncationQuery(staging)
	if query == "" {
		return nil, nil
	}

	var found []Truncation
	err := c.db.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var t Truncation
			if err := rows.Scan(&t.Table, &t.Column, &t.Percent); err != nil {
				return errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to read truncation row")
			}
			found = append(found, t)
		}
		return nil
	}, query)
	if err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].Table != found[j].Table {
			return found[i].Table < found[j].Table
		}
		return found[i].Column < found[j].Column
	})
	for _, t := range found {
		c.log.WithFields(logrus.Fields{"table": t.Table, "column": t.Column, "percent": t.Percent}).
			Warn("Possible truncated string values during copy from S3")
	}
	return found, nil
}

// PrimaryKeyQuery builds one query counting duplicate keys and records for
// every remarked primary key column.
func PrimaryKeyQuery(main []Column) string {
	var parts []string
	for _, col := range main {
		if !col.IsPrimaryKey() {
			continue
		}
		parts = append(parts, fmt.Sprintf(`
SELECT
	'%[1]s' AS table_name,
	'%[2]s' AS pk_column,
	COUNT(%[2]s) - COUNT(DISTINCT %[2]s) AS pks_duplicated,
	COUNT(%[2]s) AS length
FROM %[1]s`, col.Table, col.Name))
	}
	return strings.Join(parts, "\nUNION ALL\n")
}

// PrimaryKeys counts records per table and fails when any key repeats.
// Counts are returned alongside the error.
func (c *Checker) PrimaryKeys(ctx context.Context, main []Column) ([]TableCount, error) {
	query := PrimaryKeyQuery(main)
	if query == "" {
		return nil, nil
	}

	var counts []TableCount
	err := c.db.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var tc TableCount
			if err := rows.Scan(&tc.Table, &tc.PrimaryKey, &tc.Duplicates, &tc.Records); err != nil {
				return errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to read primary key row")
			}
			counts = append(counts, tc)
		}
		return nil
	}, query)
	if err != nil {
		return nil, err
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Table < counts[j].Table })

	var duplicated []string
	for _, tc := range counts {
		c.log.WithFields(logrus.Fields{"table": tc.Table, "records": tc.Records}).Info("Record count")
		if tc.Duplicates > 0 {
			duplicated = append(duplicated, tc.Table)
		}
	}
	if len(duplicated) > 0 {
		return counts, errors.New(errors.ErrCodeDuplicateKey,
			fmt.Sprintf("Table(s) %s contain duplicated primary key values", strings.Join(duplicated, ", "))).
			WithContext("tables", duplicated)
	}
	return counts, nil
}

// Run performs every check against dbName.
func (c *Checker) Run(ctx context.Context, dbName string) (*Report, error) {
	schema, err := c.Schema(ctx, dbName)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	if report.Truncations, err = c.Truncation(ctx, schema.Staging); err != nil {
		return report, err
	}
	report.Counts, err = c.PrimaryKeys(ctx, schema.Main)
	return report, err
}
