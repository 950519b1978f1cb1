package cmd

import (
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sparkify/internal/ui"
	"sparkify/pkg/errors"
)

var errorsLast int

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Show recent command failures from the error log",
	Long: `Read errors.log in the report directory and print the most recent
failures together with a count per error code.`,
	Args: cobra.NoArgs,
	RunE: runErrors,
}

func init() {
	rootCmd.AddCommand(errorsCmd)
	errorsCmd.Flags().IntVar(&errorsLast, "last", 20, "number of recent failures to show")
}

type errorCount struct {
	Code  errors.ErrorCode `json:"code" yaml:"code"`
	Count int              `json:"count" yaml:"count"`
}

type errorsResult struct {
	Path    string                 `json:"path" yaml:"path"`
	Entries []errors.ErrorLogEntry `json:"entries" yaml:"entries"`
	Summary []errorCount           `json:"summary" yaml:"summary"`
}

func runErrors(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	if errorsLast <= 0 {
		return errors.ValidationError("last", strconv.Itoa(errorsLast), "must be positive")
	}

	path := filepath.Join(viper.GetString(keyReportDir), errors.ErrorLogFile)
	errLog := errors.NewErrorLog(path, errorsLast)
	if err := errLog.Load(); err != nil {
		return err
	}

	result := errorsResult{Path: path, Entries: errLog.Entries()}
	for code, n := range errLog.Summary() {
		result.Summary = append(result.Summary, errorCount{Code: code, Count: n})
	}
	sort.Slice(result.Summary, func(i, j int) bool {
		if result.Summary[i].Count != result.Summary[j].Count {
			return result.Summary[i].Count > result.Summary[j].Count
		}
		return result.Summary[i].Code < result.Summary[j].Code
	})

	if len(result.Entries) == 0 && format == ui.FormatTable {
		ui.ShowInfo("No failures recorded in " + path)
		return nil
	}
	return ui.Write(cmd.OutOrStdout(), format, result, result.tables())
}

func (r errorsResult) tables() []ui.Table {
	recent := ui.Table{Title: "Recent Failures", Header: []string{"Time", "Command", "Code", "Message"}}
	for _, e := range r.Entries {
		recent.Rows = append(recent.Rows, []string{
			e.Timestamp.Local().Format(time.DateTime), e.Command, string(e.Code), e.Message,
		})
	}
	summary := ui.Table{Title: "By Code", Header: []string{"Code", "Failures"}}
	for _, c := range r.Summary {
		summary.Rows = append(summary.Rows, []string{string(c.Code), strconv.Itoa(c.Count)})
	}
	return []ui.Table{recent, summary}
}
