package cmd

import (
	"context"

	"github.com/spf13/viper"

	"sparkify/internal/config"
	"sparkify/internal/database"
	"sparkify/internal/infra"
	"sparkify/internal/ui"
)

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetString(keyConfig))
}

func outputFormat() (ui.Format, error) {
	return ui.ParseFormat(viper.GetString(keyFormat))
}

func confirm(action string) error {
	return ui.ConfirmDestructive(action, viper.GetBool(keyYes))
}

// withSpinner runs fn behind a spinner while AWS resources change state.
// fn may replace the spinner message with update.
func withSpinner(message, done string, fn func(update func(string)) error) error {
	spinner := ui.NewSpinner(message)
	spinner.Start()
	if err := fn(spinner.UpdateMessage); err != nil {
		spinner.Stop(false, message+" failed")
		return err
	}
	spinner.Stop(true, done)
	return nil
}

func awsClients(ctx context.Context, cfg *config.Config) (*infra.Clients, error) {
	awsCfg, err := infra.LoadAWSConfig(ctx, cfg.Infrastructure.Key, cfg.Infrastructure.Secret, cfg.Infrastructure.Region)
	if err != nil {
		return nil, err
	}
	return infra.NewClients(awsCfg), nil
}

// openWarehouse connects to the Redshift cluster.
func openWarehouse(ctx context.Context, cfg *config.Config) (*database.Service, error) {
	if err := cfg.RequireCluster(); err != nil {
		return nil, err
	}
	return connect(ctx, cfg.Cluster.URL())
}

// openLocal connects to the local PostgreSQL database.
func openLocal(ctx context.Context, cfg *config.Config) (*database.Service, error) {
	if err := cfg.RequireLocal(); err != nil {
		return nil, err
	}
	return connect(ctx, cfg.Local.DSN)
}

func connect(ctx context.Context, url string) (*database.Service, error) {
	db := database.NewService(database.Config{URL: url, Timeout: database.DefaultTimeout}, log)
	if err := db.Connect(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func redshiftPlan(cfg *config.Config) infra.RedshiftPlan {
	return infra.RedshiftPlan{
		RoleName:            cfg.Infrastructure.RoleName,
		ClusterIdentifier:   cfg.Infrastructure.ClusterIdentifier,
		ClusterType:         cfg.Infrastructure.ClusterType,
		NodeType:            cfg.Infrastructure.NodeType,
		NumNodes:            cfg.Infrastructure.NumNodes,
		DBName:              cfg.Cluster.DBName,
		DBUser:              cfg.Cluster.DBUser,
		DBPassword:          cfg.Cluster.DBPassword,
		DBPort:              cfg.Cluster.DBPort,
		StatusCheckAttempts: cfg.Infrastructure.StatusCheckAttempts,
		StatusCheckDelay:    cfg.Infrastructure.StatusCheckDelay,
	}
}

func lakePlan(cfg *config.Config, purge bool) infra.LakePlan {
	return infra.LakePlan{
		Region:        cfg.Infrastructure.Region,
		Bucket:        cfg.S3.OutputBucketName,
		ClusterName:   cfg.EMR.ClusterName,
		ReleaseLabel:  cfg.EMR.ReleaseLabel,
		InstanceType:  cfg.EMR.InstanceType,
		InstanceCount: cfg.EMR.InstanceCount,
		Purge:         purge,
	}
}
