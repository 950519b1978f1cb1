package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sparkify/internal/quality"
	"sparkify/internal/statements"
	"sparkify/internal/ui"
	"sparkify/internal/warehouse"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Drop and recreate every Redshift table",
	Args:  cobra.NoArgs,
	RunE:  runTables,
}

var etlCmd = &cobra.Command{
	Use:   "etl",
	Short: "Copy S3 data into staging tables and fill the star schema",
	Long: `Copy the song and log data from S3 into the staging tables, save any rows
Redshift rejected to stl_load_errors_<table>.json in the report directory,
then insert the songplay, users, songs, artists and time tables.`,
	Args: cobra.NoArgs,
	RunE: runETL,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run data quality checks against the warehouse",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(tablesCmd, etlCmd, checkCmd)
}

func runTables(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := confirm(fmt.Sprintf("Drop and recreate every table in %s", cfg.Cluster.DBName)); err != nil {
		return err
	}

	db, err := openWarehouse(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := warehouse.New(db, viper.GetString(keyReportDir), log).ResetTables(cmd.Context()); err != nil {
		return err
	}
	ui.ShowSuccess(fmt.Sprintf("%d tables created", len(statements.RedshiftCreate())))
	return nil
}

func runETL(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireCopy(); err != nil {
		return err
	}

	db, err := openWarehouse(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	wh := warehouse.New(db, viper.GetString(keyReportDir), log)
	loads, err := wh.LoadStaging(cmd.Context(), statements.CopySettings{
		IAMRoleARN:  cfg.IAMRole.ARN,
		LogData:     cfg.S3.LogData,
		LogJSONPath: cfg.S3.LogJSONPath,
		SongData:    cfg.S3.SongData,
	})
	if err != nil {
		return err
	}
	inserted, err := wh.InsertTables(cmd.Context())
	if err != nil {
		return err
	}

	result := etlResult{Inserted: inserted}
	for _, l := range loads {
		result.Loads = append(result.Loads, etlLoad{
			Table:    l.Table,
			Source:   l.Source,
			Seconds:  l.Duration.Seconds(),
			Errors:   l.ErrorCount(),
			Columns:  warehouse.Columns(l.Errors),
			Report:   l.ReportPath,
			duration: l.Duration,
		})
	}
	return ui.Write(cmd.OutOrStdout(), format, result, result.tables())
}

type etlLoad struct {
	Table    string   `json:"table" yaml:"table"`
	Source   string   `json:"source" yaml:"source"`
	Seconds  float64  `json:"seconds" yaml:"seconds"`
	Errors   int      `json:"errors" yaml:"errors"`
	Columns  []string `json:"columns,omitempty" yaml:"columns,omitempty"`
	Report   string   `json:"report,omitempty" yaml:"report,omitempty"`
	duration time.Duration
}

type etlResult struct {
	Loads    []etlLoad        `json:"loads" yaml:"loads"`
	Inserted map[string]int64 `json:"inserted" yaml:"inserted"`
}

func (r etlResult) tables() []ui.Table {
	loads := ui.Table{Title: "Staging Copies", Header: []string{"Table", "Source", "Duration", "Load Errors", "Columns"}}
	for _, l := range r.Loads {
		loads.Rows = append(loads.Rows, []string{
			l.Table, l.Source, l.duration.Round(time.Millisecond).String(),
			strconv.Itoa(l.Errors), strings.Join(l.Columns, ", "),
		})
	}

	names := make([]string, 0, len(r.Inserted))
	for t := range r.Inserted {
		names = append(names, t)
	}
	sort.Strings(names)
	inserted := ui.Table{Title: "Inserted Rows", Header: []string{"Table", "Rows"}}
	for _, t := range names {
		inserted.Rows = append(inserted.Rows, []string{t, strconv.FormatInt(r.Inserted[t], 10)})
	}
	return []ui.Table{loads, inserted}
}

func runCheck(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openWarehouse(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	report, checkErr := quality.NewChecker(db, log).Run(cmd.Context(), cfg.Cluster.DBName)
	if report != nil {
		if err := ui.Write(cmd.OutOrStdout(), format, report, qualityTables(report)); err != nil {
			return err
		}
	}
	if checkErr != nil {
		return checkErr
	}
	if len(report.Truncations) > 0 {
		ui.ShowWarning(fmt.Sprintf("%d staging columns may hold truncated values", len(report.Truncations)))
	}
	ui.ShowSuccess("Data quality checks passed")
	return nil
}

func qualityTables(r *quality.Report) []ui.Table {
	truncation := ui.Table{Title: "Possible Truncation", Header: []string{"Table", "Column", "Percent at Max Length"}}
	for _, t := range r.Truncations {
		truncation.Rows = append(truncation.Rows, []string{t.Table, t.Column, strconv.FormatFloat(t.Percent, 'f', 2, 64) + "%"})
	}
	counts := ui.Table{Title: "Primary Keys", Header: []string{"Table", "Primary Key", "Records", "Duplicates", "Status"}}
	for _, c := range r.Counts {
		counts.Rows = append(counts.Rows, []string{
			c.Table, c.PrimaryKey,
			strconv.FormatInt(c.Records, 10), strconv.FormatInt(c.Duplicates, 10),
			ui.StatusCell(c.Duplicates == 0),
		})
	}
	return []ui.Table{truncation, counts}
}
