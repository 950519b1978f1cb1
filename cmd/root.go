package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sparkify/internal/logging"
	"sparkify/internal/ui"
	"sparkify/pkg/errors"
)

// Keys bound from persistent flags and SPARKIFY_* environment variables.
const (
	keyConfig    = "config"
	keyLogLevel  = "log-level"
	keyYes       = "yes"
	keyReportDir = "report-dir"
	keyFormat    = "format"
)

var (
	log logrus.FieldLogger = logging.Discard()

	// commandPath is the command being run, for the error log.
	commandPath = "sparkify"

	rootCmd = &cobra.Command{
		Use:   "sparkify",
		Short: "Song play analytics on a star schema",
		Long: `Sparkify builds the song play star schema on a local PostgreSQL database,
an Amazon Redshift cluster or a Parquet data lake, provisions the AWS
resources behind them and reports on user engagement.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.ShowError(err)
		recordError(err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String(keyConfig, "", "config file (default dwh.cfg, or SPARKIFY_CONFIG)")
	flags.String(keyLogLevel, "info", "log level: debug, info, warn, error")
	flags.BoolP(keyYes, "y", false, "skip confirmation of destructive actions")
	flags.String(keyReportDir, "reports", "directory for generated reports")
	flags.StringP(keyFormat, "o", string(ui.FormatTable), "output format: table, json, yaml")

	viper.SetEnvPrefix("SPARKIFY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
}

// setup loads .env, then configures logging for every command.
func setup(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return err
	}

	entry, err := logging.New(viper.GetString(keyLogLevel), nil)
	if err != nil {
		return err
	}
	commandPath = cmd.CommandPath()
	log = entry.WithField("command", commandPath)
	return nil
}

// recordError appends a failure to errors.log in the report directory.
func recordError(err error) {
	path := filepath.Join(viper.GetString(keyReportDir), errors.ErrorLogFile)
	if logErr := errors.NewErrorLog(path, 0).Record(err, commandPath); logErr != nil {
		log.WithError(logErr).Warn("Failed to record error")
	}
}
