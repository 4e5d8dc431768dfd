package internal

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Muse/internal/api"
	"github.com/hbomb79/Muse/internal/database"
	"github.com/hbomb79/Muse/internal/transfer"
	s3vault "github.com/hbomb79/Muse/internal/vault/s3"
	"github.com/ilyakaznacheev/cleanenv"
)

// MuseConfig is the struct used to contain the various user config
// supplied by file, or manually inside the code.
type MuseConfig struct {
	Transfer           transfer.Config         `yaml:"transfer" env-required:"true"`
	Vault              VaultConfig             `yaml:"vault"`
	Database           database.DatabaseConfig `yaml:"database"`
	RestConfig         api.RestConfig          `yaml:"api"`
	LedgerWorkbookPath string                  `yaml:"ledger_workbook_path" env:"LEDGER_WORKBOOK_PATH" env-required:"true" validate:"required"`
	IntakeWorksheet    string                  `yaml:"intake_worksheet" env:"INTAKE_WORKSHEET"`
	QuarantineName     string                  `yaml:"quarantine_container_name" env:"QUARANTINE_CONTAINER_NAME"`
}

// VaultConfig selects and configures the object storage driver the
// pipeline downloads from and uploads to.
type VaultConfig struct {
	Driver  string         `yaml:"driver" env:"VAULT_DRIVER" env-default:"disk" validate:"required,oneof=disk s3"`
	BaseDir string         `yaml:"base_dir" env:"VAULT_BASE_DIR"`
	S3      s3vault.Config `yaml:"s3"`
}

const (
	VaultDriverDisk = "disk"
	VaultDriverS3   = "s3"
)

// Loads a configuration file formatted in YAML in to a
// MuseConfig struct ready to be passed to Muse
func (config *MuseConfig) LoadFromFile(configPath string) error {
	err := cleanenv.ReadConfig(configPath, config)
	if err != nil {
		return fmt.Errorf("failed to load configuration for MuseConfig - %v", err.Error())
	}

	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}
