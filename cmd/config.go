package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sparkify/internal/config"
	"sparkify/internal/ui"
	"sparkify/pkg/errors"
)

// promptPassword is replaced in tests.
var promptPassword = ui.Password

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage secrets and inspect the configuration",
}

var configEncryptCmd = &cobra.Command{
	Use:   "encrypt [value]",
	Short: "Print a value in ENC[...] form for the config file",
	Long: `Encrypt a secret with the key derived from SPARKIFY_ENCRYPTION_KEY and print
it in ENC[...] form. Paste the output into dwh.cfg in place of the plain
text value. Without an argument the value is read from a prompt.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigEncrypt,
}

var configStoreSecretCmd = &cobra.Command{
	Use:   "store-secret SECTION KEY",
	Short: "Save a secret in the OS keyring",
	Long: `Save a secret in the OS keyring under the account SECTION.KEY. Leave the key
empty in dwh.cfg and it is read from the keyring on load. Supported keys are
INFRASTRUCTURE SECRET and CLUSTER DB_PASSWORD.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigStoreSecret,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configEncryptCmd, configStoreSecretCmd, configShowCmd)
}

var keyringSecrets = map[string]bool{
	config.SectionInfrastructure + ".SECRET": true,
	config.SectionCluster + ".DB_PASSWORD":   true,
}

func runConfigEncrypt(cmd *cobra.Command, args []string) error {
	var plain string
	if len(args) == 1 {
		plain = args[0]
	} else {
		var err error
		if plain, err = promptPassword("Value to encrypt:", "The value is never echoed or logged"); err != nil {
			return err
		}
	}
	if plain == "" {
		return errors.ValidationError("value", plain, "must not be empty")
	}

	encrypted, err := config.EncryptValue(plain)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "Failed to encrypt value")
	}
	fmt.Fprintln(cmd.OutOrStdout(), encrypted)
	return nil
}

func runConfigStoreSecret(cmd *cobra.Command, args []string) error {
	section, key := strings.ToUpper(args[0]), strings.ToUpper(args[1])
	account := section + "." + key
	if !keyringSecrets[account] {
		return errors.ValidationError("account", account, "is not read from the keyring").
			WithSuggestions("Use INFRASTRUCTURE SECRET or CLUSTER DB_PASSWORD")
	}

	secret, err := promptPassword(fmt.Sprintf("%s %s:", section, key), "Stored in the OS keyring, not in dwh.cfg")
	if err != nil {
		return err
	}
	if err := config.StoreSecret(section, key, secret); err != nil {
		return err
	}
	log.WithField("account", account).Info("Secret stored")
	ui.ShowSuccess(fmt.Sprintf("Stored %s in the %s keyring", account, config.KeyringService))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	settings := cfg.Settings()
	table := ui.Table{Title: cfg.Path, Header: []string{"Section", "Key", "Value"}}
	for _, s := range settings {
		table.Rows = append(table.Rows, []string{s.Section, s.Key, s.Value})
	}
	return ui.Write(cmd.OutOrStdout(), format, settings, []ui.Table{table})
}
