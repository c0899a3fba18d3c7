package updater

import (
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-updater-go/pkg/errors"
	"github.com/core-tools/hsu-updater-go/pkg/logging/zaplog"

	"gopkg.in/yaml.v3"
)

// ManagedUnit is one externally supervised process tracked by the updater.
// Configuration fields come from the config file or explicit registration;
// the bookkeeping fields are mutated only by the Manager after each attempt.
type ManagedUnit struct {
	Name                  string `yaml:"name"`
	Role                  string `yaml:"role"`
	SupervisorProcessName string `yaml:"supervisor_process_name"`
	Enabled               *bool  `yaml:"enabled,omitempty"` // Pointer to distinguish unset from false

	// Bookkeeping, owned by the Manager
	LastUpdate  time.Time `yaml:"-"` // zero if never updated
	UpdateCount int       `yaml:"-"`
	LastError   string    `yaml:"-"`
}

// IsEnabled treats an unset enabled flag as true
func (u *ManagedUnit) IsEnabled() bool {
	return u.Enabled == nil || *u.Enabled
}

// Config holds the process-wide auto-update tunables. Unit order in Units is
// the order units are checked each cycle.
type Config struct {
	CheckIntervalSeconds   int           `yaml:"check_interval_seconds"`
	Enabled                *bool         `yaml:"enabled,omitempty"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	FailureCooldownSeconds int           `yaml:"failure_cooldown_seconds"`
	Units                  []ManagedUnit `yaml:"units"`
}

// IsEnabled treats an unset enabled flag as true
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RepositoryConfig locates the checkout the updater manages
type RepositoryConfig struct {
	WorkingDirectory string `yaml:"working_directory"`
	ProvisionScript  string `yaml:"provision_script,omitempty"`
}

// ServiceConfig is the top-level configuration file structure
type ServiceConfig struct {
	Updater    Config           `yaml:"updater"`
	Repository RepositoryConfig `yaml:"repository"`
	Logging    zaplog.Config    `yaml:"logging,omitempty"`
}

const (
	defaultCheckIntervalSeconds   = 900  // 15 minutes
	defaultMaxConsecutiveFailures = 3
	defaultFailureCooldownSeconds = 1800 // 30 minutes
)

// LoadConfigFromFile loads service configuration from a YAML file
func LoadConfigFromFile(filename string) (*ServiceConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config ServiceConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	return &config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *ServiceConfig) {
	updater := &config.Updater

	if updater.CheckIntervalSeconds == 0 {
		updater.CheckIntervalSeconds = defaultCheckIntervalSeconds
	}
	if updater.MaxConsecutiveFailures == 0 {
		updater.MaxConsecutiveFailures = defaultMaxConsecutiveFailures
	}
	if updater.FailureCooldownSeconds == 0 {
		updater.FailureCooldownSeconds = defaultFailureCooldownSeconds
	}
	if updater.Enabled == nil {
		enabled := true
		updater.Enabled = &enabled
	}

	for i := range updater.Units {
		unit := &updater.Units[i]
		if unit.Enabled == nil {
			enabled := true
			unit.Enabled = &enabled
		}
		if unit.SupervisorProcessName == "" {
			unit.SupervisorProcessName = unit.Name
		}
	}

	if config.Logging.Level == "" {
		config.Logging = zaplog.DefaultConfig()
	}
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *ServiceConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	updater := &config.Updater

	if updater.CheckIntervalSeconds < 0 {
		return errors.NewValidationError("check_interval_seconds cannot be negative", nil)
	}
	if updater.MaxConsecutiveFailures <= 0 {
		return errors.NewValidationError("max_consecutive_failures must be positive", nil)
	}
	if updater.FailureCooldownSeconds < 0 {
		return errors.NewValidationError("failure_cooldown_seconds cannot be negative", nil)
	}

	seenNames := make(map[string]int)
	for i, unit := range updater.Units {
		if err := ValidateUnitName(unit.Name); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("invalid unit name at index %d", i), err,
			).WithContext("unit_name", unit.Name)
		}

		if prevIndex, exists := seenNames[unit.Name]; exists {
			return errors.NewValidationError(
				fmt.Sprintf("duplicate unit name '%s' found at indices %d and %d", unit.Name, prevIndex, i),
				nil,
			)
		}
		seenNames[unit.Name] = i

		if unit.SupervisorProcessName == "" {
			return errors.NewValidationError(
				fmt.Sprintf("unit '%s' has no supervisor process name", unit.Name), nil,
			)
		}
	}

	if config.Repository.WorkingDirectory == "" {
		return errors.NewValidationError("repository working_directory is required", nil)
	}

	return nil
}

// ValidateUnitName validates managed unit name format and constraints
func ValidateUnitName(name string) error {
	if name == "" {
		return errors.NewValidationError("unit name cannot be empty", nil)
	}

	if len(name) > 64 {
		return errors.NewValidationError("unit name cannot exceed 64 characters", nil)
	}

	for _, char := range name {
		if !isValidNameChar(char) {
			return errors.NewValidationError("unit name contains invalid characters: only letters, numbers, hyphens, and underscores are allowed", nil)
		}
	}

	return nil
}

func isValidNameChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_'
}
