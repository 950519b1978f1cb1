package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"sparkify/internal/localdb"
	"sparkify/internal/ui"
)

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Build the star schema in a local PostgreSQL database",
}

var localCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Drop and recreate the local tables",
	Args:  cobra.NoArgs,
	RunE:  runLocalCreate,
}

var localLoadCmd = &cobra.Command{
	Use:   "load [data-dir]",
	Short: "Insert song and log files one row at a time",
	Long: `Walk song_data and log_data below the data directory ([LOCAL] DATA_DIR by
default) and insert every file in its own transaction. Song plays are matched
to songs on title, artist name and duration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLocalLoad,
}

func init() {
	rootCmd.AddCommand(localCmd)
	localCmd.AddCommand(localCreateCmd, localLoadCmd)
}

func runLocalCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := confirm("Drop and recreate every local table"); err != nil {
		return err
	}
	db, err := openLocal(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := localdb.NewLoader(db, log).CreateTables(cmd.Context()); err != nil {
		return err
	}
	ui.ShowSuccess("Local tables created")
	return nil
}

func runLocalLoad(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dataDir := cfg.Local.DataDir
	if len(args) == 1 {
		dataDir = args[0]
	}

	db, err := openLocal(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	progress := ui.NewProgressBar("Local load")
	loader := localdb.NewLoader(db, log)
	loader.OnFile = progress.Update
	stats, err := loader.Load(cmd.Context(), dataDir)
	progress.Finish()
	if err != nil {
		return err
	}

	table := ui.Table{
		Title:  fmt.Sprintf("Loaded %s", dataDir),
		Header: []string{"Stat", "Value"},
		Rows: [][]string{
			{"Song files", fmt.Sprint(stats.SongFiles)},
			{"Log files", fmt.Sprint(stats.LogFiles)},
			{"Songs", fmt.Sprint(stats.Songs)},
			{"Songplays", fmt.Sprint(stats.Songplays)},
			{"Matched songplays", fmt.Sprint(stats.Matched)},
		},
	}
	return ui.Write(cmd.OutOrStdout(), format, stats, []ui.Table{table})
}
