package cmd

import (
	"github.com/spf13/cobra"

	"sparkify/internal/dashboard"
	"sparkify/internal/database"
	"sparkify/internal/statements"
	"sparkify/internal/ui"
	"sparkify/pkg/errors"
)

const (
	targetLocal     = "local"
	targetWarehouse = "warehouse"

	localSongplayTable = "songplays"
)

var (
	dashboardTarget string
	dashboardRuns   bool
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Report user engagement from the song play table",
	Long: `Read every song play and summarise how users move between the free and
paid levels: return, bounce and upgrade rates, level splits, plays per hour
and day, plays per state, the top quarter of users and their user agents.`,
	Args: cobra.NoArgs,
	RunE: runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
	dashboardCmd.Flags().StringVar(&dashboardTarget, "target", targetLocal, "database to read: local or warehouse")
	dashboardCmd.Flags().BoolVar(&dashboardRuns, "runs", false, "include per-user level runs in json and yaml output")
}

func runDashboard(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var (
		db    *database.Service
		table string
	)
	switch dashboardTarget {
	case targetLocal:
		db, err = openLocal(cmd.Context(), cfg)
		table = localSongplayTable
	case targetWarehouse:
		db, err = openWarehouse(cmd.Context(), cfg)
		table = statements.TableSongplay
	default:
		return errors.ValidationError("target", dashboardTarget, "must be local or warehouse")
	}
	if err != nil {
		return err
	}
	defer db.Close()

	report, err := dashboard.NewSource(db, table, log).Report(cmd.Context())
	if err != nil {
		return err
	}
	if !dashboardRuns {
		report.LevelRuns = nil
	}

	sections := report.Sections()
	tables := make([]ui.Table, 0, len(sections))
	for _, s := range sections {
		tables = append(tables, ui.Table{Title: s.Title, Header: s.Header, Rows: s.Rows})
	}
	return ui.Write(cmd.OutOrStdout(), format, report, tables)
}
