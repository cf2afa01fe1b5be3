// Package config loads vaultd's TOML configuration, generating a default
// file with a freshly minted developer principal when none exists, the
// same bootstrap pattern the teacher's config.Load uses for ValidatorKey.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"nhbvault/crypto"
)

// Config is vaultd's full runtime configuration (SPEC_FULL.md §4.11).
type Config struct {
	OracleAddress   string `toml:"OracleAddress"`
	CTLedgerAddress string `toml:"CTLedgerAddress"`
	STLedgerAddress string `toml:"STLedgerAddress"`

	BorrowFeeE8s uint64 `toml:"BorrowFeeE8s"`

	DeveloperPrincipal string `toml:"DeveloperPrincipal"`
	DeveloperKeyHex    string `toml:"DeveloperKeyHex"`

	// DeveloperKeystorePath, when set, takes precedence over
	// DeveloperKeyHex: the developer key is decrypted from an Ethereum v3
	// keystore file using the passphrase found in the environment variable
	// named by DeveloperKeystorePassEnv, rather than kept in plaintext.
	DeveloperKeystorePath    string `toml:"DeveloperKeystorePath"`
	DeveloperKeystorePassEnv string `toml:"DeveloperKeystorePassEnv"`

	ListenAddress  string `toml:"ListenAddress"`
	MetricsAddress string `toml:"MetricsAddress"`

	StorageDriver string `toml:"StorageDriver"`
	StorageDSN    string `toml:"StorageDSN"`

	LogPath string `toml:"LogPath"`

	JWTSecretHex   string  `toml:"JWTSecretHex"`
	JWTIssuer      string  `toml:"JWTIssuer"`
	RateLimitRPS   float64 `toml:"RateLimitRPS"`
	RateLimitBurst int     `toml:"RateLimitBurst"`

	CTLedgerFee uint64 `toml:"CTLedgerFee"`
	STLedgerFee uint64 `toml:"STLedgerFee"`

	SnapshotInterval string `toml:"SnapshotInterval"`
}

// Load reads path, creating a default configuration with a generated
// developer key when the file does not yet exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	dirty := false
	if cfg.DeveloperKeyHex == "" {
		if err := assignDeveloperKey(cfg); err != nil {
			return nil, err
		}
		dirty = true
	}
	if cfg.JWTSecretHex == "" {
		if err := assignJWTSecret(cfg); err != nil {
			return nil, err
		}
		dirty = true
	}
	if dirty {
		if err := save(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		OracleAddress:   "",
		CTLedgerAddress: "",
		STLedgerAddress: "",
		BorrowFeeE8s:    500_000, // 0.005 at 1e-8 scale
		ListenAddress:   ":8080",
		MetricsAddress:  ":9090",
		StorageDriver:   "sqlite",
		StorageDSN:      "./vaultd.db",
		LogPath:         "",
		JWTIssuer:       "vaultd",
		RateLimitRPS:    5,
		RateLimitBurst:  10,
		CTLedgerFee:     1,
		STLedgerFee:     0,
		SnapshotInterval: "5m",
	}
	if err := assignDeveloperKey(cfg); err != nil {
		return nil, err
	}
	if err := assignJWTSecret(cfg); err != nil {
		return nil, err
	}
	if err := save(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func assignJWTSecret(cfg *Config) error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return err
	}
	cfg.JWTSecretHex = hex.EncodeToString(secret)
	return nil
}

func assignDeveloperKey(cfg *Config) error {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	cfg.DeveloperKeyHex = hex.EncodeToString(key.Bytes())
	cfg.DeveloperPrincipal = key.PubKey().Principal().String()
	return nil
}

// DeveloperKey resolves the developer's private key, preferring an
// encrypted keystore over the plaintext DeveloperKeyHex when
// DeveloperKeystorePath is configured.
func (cfg *Config) DeveloperKey() (*crypto.PrivateKey, error) {
	if strings.TrimSpace(cfg.DeveloperKeystorePath) != "" {
		passEnv := cfg.DeveloperKeystorePassEnv
		if strings.TrimSpace(passEnv) == "" {
			passEnv = "VAULTD_DEVELOPER_PASS"
		}
		return crypto.LoadFromKeystore(cfg.DeveloperKeystorePath, os.Getenv(passEnv))
	}
	raw, err := hex.DecodeString(cfg.DeveloperKeyHex)
	if err != nil {
		return nil, fmt.Errorf("config: invalid DeveloperKeyHex: %w", err)
	}
	return crypto.PrivateKeyFromBytes(raw)
}

func save(path string, cfg *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
