package config

import (
	stderrors "errors"

	"github.com/zalando/go-keyring"

	"sparkify/pkg/errors"
)

// KeyringService is the OS keyring service secrets are stored under.
const KeyringService = "sparkify"

// resolveSecrets decrypts ENC[...] secrets and fills blank ones from the OS
// keyring. Accounts are named "<SECTION>.<KEY>", e.g. "CLUSTER.DB_PASSWORD".
func (c *Config) resolveSecrets() error {
	secrets := []struct {
		account string
		target  *string
	}{
		{SectionInfrastructure + ".SECRET", &c.Infrastructure.Secret},
		{SectionCluster + ".DB_PASSWORD", &c.Cluster.DBPassword},
	}

	for _, s := range secrets {
		if *s.target != "" {
			plain, err := DecryptValue(*s.target)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to decrypt config value").
					WithContext("account", s.account).
					WithSuggestions("Set SPARKIFY_ENCRYPTION_KEY to the passphrase used by 'sparkify config encrypt'")
			}
			*s.target = plain
			continue
		}
		secret, err := keyring.Get(KeyringService, s.account)
		if err != nil {
			if stderrors.Is(err, keyring.ErrNotFound) || stderrors.Is(err, keyring.ErrUnsupportedPlatform) {
				continue
			}
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to read secret from keyring").
				WithContext("account", s.account)
		}
		*s.target = secret
	}
	return nil
}

// StoreSecret saves a secret in the OS keyring so it can be left out of the
// config file.
func StoreSecret(section, key, secret string) error {
	account := section + "." + key
	if err := keyring.Set(KeyringService, account, secret); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigWrite, "Failed to store secret in keyring").
			WithContext("account", account)
	}
	return nil
}
