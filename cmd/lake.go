package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/spf13/cobra"

	"sparkify/internal/config"
	"sparkify/internal/infra"
	"sparkify/internal/lake"
	"sparkify/internal/ui"
)

var (
	lakeUpload      bool
	lakeConcurrency int
	lakePurge       bool
)

var lakeCmd = &cobra.Command{
	Use:   "lake",
	Short: "Build the Parquet data lake",
}

var lakeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Turn song and log JSON into partitioned Parquet tables",
	Long: `Read song_data and log_data below [LAKE] INPUT, a directory or
s3://bucket/prefix, and write the songs, artists, users, time and songplays
tables as Parquet below [LAKE] OUTPUT. With --upload the output tree is
copied to the [S3] OUTPUT_BUCKET_NAME bucket.`,
	Args: cobra.NoArgs,
	RunE: runLake,
}

var lakeInfraCmd = &cobra.Command{
	Use:   "infra",
	Short: "Provision or tear down the output bucket and EMR cluster",
}

var lakeInfraCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the output bucket and a Spark EMR cluster",
	Args:  cobra.NoArgs,
	RunE:  runLakeInfraCreate,
}

var lakeInfraDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Terminate the EMR cluster and delete the output bucket",
	Args:  cobra.NoArgs,
	RunE:  runLakeInfraDelete,
}

func init() {
	rootCmd.AddCommand(lakeCmd)
	lakeCmd.AddCommand(lakeRunCmd, lakeInfraCmd)
	lakeInfraCmd.AddCommand(lakeInfraCreateCmd, lakeInfraDeleteCmd)

	lakeRunCmd.Flags().BoolVar(&lakeUpload, "upload", false, "upload the output to the S3 output bucket")
	lakeRunCmd.Flags().IntVar(&lakeConcurrency, "concurrency", lake.DefaultConcurrency, "files read or uploaded at once")
	lakeInfraDeleteCmd.Flags().BoolVar(&lakePurge, "purge", false, "delete every object in the bucket first")
}

func runLake(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireLake(); err != nil {
		return err
	}

	_, _, remote := lake.ParseS3URL(cfg.Lake.Input)
	var clients *infra.Clients
	if remote || lakeUpload {
		if clients, err = awsClients(cmd.Context(), cfg); err != nil {
			return err
		}
	}

	var source lake.Source
	if remote {
		source, err = lake.NewSource(cfg.Lake.Input, clients.S3)
	} else {
		source, err = lake.NewSource(cfg.Lake.Input, nil)
	}
	if err != nil {
		return err
	}

	opts := lake.Options{Output: cfg.Lake.Output, Concurrency: lakeConcurrency}
	var uploader lake.Uploader
	if lakeUpload {
		if err := cfg.RequireOutputBucket(); err != nil {
			return err
		}
		opts.Bucket = cfg.S3.OutputBucketName
		uploader = manager.NewUploader(clients.S3)
	}

	result, err := lake.NewPipeline(source, uploader, log).Run(cmd.Context(), opts)
	if err != nil {
		return err
	}
	return ui.Write(cmd.OutOrStdout(), format, result, lakeTables(result))
}

func lakeTables(r *lake.Result) []ui.Table {
	tables := make([]string, 0, len(r.Rows))
	for t := range r.Rows {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	rows := ui.Table{Title: "Parquet Tables", Header: []string{"Table", "Rows"}}
	for _, t := range tables {
		rows.Rows = append(rows.Rows, []string{t, strconv.Itoa(r.Rows[t])})
	}
	summary := ui.Table{
		Title:  "Run",
		Header: []string{"Stat", "Value"},
		Rows: [][]string{
			{"Song files", strconv.Itoa(r.SongFiles)},
			{"Log files", strconv.Itoa(r.LogFiles)},
			{"Parquet files", strconv.Itoa(len(r.Files))},
			{"Uploaded", strconv.Itoa(r.Uploaded)},
			{"Duration", r.Duration.Round(time.Millisecond).String()},
		},
	}
	return []ui.Table{summary, rows}
}

func lakeStack(cmd *cobra.Command) (*infra.LakeStack, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.RequireLakeInfrastructure(); err != nil {
		return nil, nil, err
	}
	clients, err := awsClients(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return infra.NewLakeStack(clients.S3, clients.EMR, log), cfg, nil
}

func runLakeInfraCreate(cmd *cobra.Command, args []string) error {
	stack, cfg, err := lakeStack(cmd)
	if err != nil {
		return err
	}

	ui.ShowHeader("Data Lake")
	var result *infra.LakeResult
	err = withSpinner(fmt.Sprintf("Creating bucket %s and cluster %s", cfg.S3.OutputBucketName, cfg.EMR.ClusterName),
		"Lake resources ready",
		func(func(string)) error {
			var err error
			result, err = stack.Create(cmd.Context(), lakePlan(cfg, false))
			return err
		})
	if err != nil {
		return err
	}
	if result.Existing {
		ui.ShowInfo(fmt.Sprintf("EMR cluster %s is already running", cfg.EMR.ClusterName))
	} else {
		ui.ShowSuccess(fmt.Sprintf("EMR cluster %s is starting", cfg.EMR.ClusterName))
	}
	ui.ShowKeyValue("Bucket", result.Bucket)
	ui.ShowKeyValue("Cluster ID", result.ClusterID)
	return nil
}

func runLakeInfraDelete(cmd *cobra.Command, args []string) error {
	stack, cfg, err := lakeStack(cmd)
	if err != nil {
		return err
	}
	action := fmt.Sprintf("Terminate EMR cluster %s and delete bucket %s", cfg.EMR.ClusterName, cfg.S3.OutputBucketName)
	if lakePurge {
		action += " with all its objects"
	}
	if err := confirm(action); err != nil {
		return err
	}

	return withSpinner("Deleting data lake resources", "Data lake resources deleted",
		func(func(string)) error { return stack.Delete(cmd.Context(), lakePlan(cfg, lakePurge)) })
}
