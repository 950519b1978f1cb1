package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"sparkify/internal/config"
	"sparkify/internal/infra"
	"sparkify/internal/ui"
)

var infraCmd = &cobra.Command{
	Use:   "infra",
	Short: "Provision or tear down the Redshift stack",
}

var infraCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the IAM role and Redshift cluster",
	Long: `Create the IAM role Redshift uses to read S3, create the cluster, wait until
it is available and open the database port. Existing resources are reused.
The role ARN and cluster host are written back to the config file.`,
	Args: cobra.NoArgs,
	RunE: runInfraCreate,
}

var infraDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the Redshift cluster and IAM role",
	Args:  cobra.NoArgs,
	RunE:  runInfraDelete,
}

func init() {
	rootCmd.AddCommand(infraCmd)
	infraCmd.AddCommand(infraCreateCmd, infraDeleteCmd)
}

func redshiftStack(cmd *cobra.Command) (*infra.RedshiftStack, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.RequireInfrastructure(); err != nil {
		return nil, nil, err
	}
	clients, err := awsClients(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return infra.NewRedshiftStack(clients.IAM, clients.Redshift, clients.EC2, log), cfg, nil
}

func runInfraCreate(cmd *cobra.Command, args []string) error {
	stack, cfg, err := redshiftStack(cmd)
	if err != nil {
		return err
	}
	plan := redshiftPlan(cfg)

	ui.ShowHeader("Redshift Cluster")
	var provisioned *infra.Provisioned
	err = withSpinner(fmt.Sprintf("Creating cluster %s", plan.ClusterIdentifier),
		fmt.Sprintf("Cluster %s is available", plan.ClusterIdentifier),
		func(update func(string)) error {
			var err error
			stack.OnStatus = update
			provisioned, err = stack.Create(cmd.Context(), plan)
			return err
		})
	if err != nil {
		return err
	}
	if err := cfg.SaveProvisioned(provisioned.RoleARN, provisioned.Host); err != nil {
		return err
	}

	ui.ShowKeyValue("Role ARN", provisioned.RoleARN)
	ui.ShowKeyValue("Host", provisioned.Host)
	ui.ShowKeyValue("Port", plan.DBPort)
	ui.ShowKeyValue("Config", cfg.Path)
	ui.Box("Next steps", "sparkify tables\nsparkify etl\nsparkify check")
	return nil
}

func runInfraDelete(cmd *cobra.Command, args []string) error {
	stack, cfg, err := redshiftStack(cmd)
	if err != nil {
		return err
	}
	plan := redshiftPlan(cfg)
	if err := confirm(fmt.Sprintf("Delete Redshift cluster %s and role %s", plan.ClusterIdentifier, plan.RoleName)); err != nil {
		return err
	}

	return withSpinner(fmt.Sprintf("Deleting cluster %s", plan.ClusterIdentifier),
		fmt.Sprintf("Cluster %s and role %s deleted", plan.ClusterIdentifier, plan.RoleName),
		func(update func(string)) error {
			stack.OnStatus = update
			return stack.Delete(cmd.Context(), plan)
		})
}
