package updater

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/core-tools/hsu-updater-go/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "updater.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, `
updater:
  check_interval_seconds: 300
  max_consecutive_failures: 5
  failure_cooldown_seconds: 600
  units:
    - name: gt-vali
      role: validator
      supervisor_process_name: gt-vali
    - name: gt-miner
      role: miner
      enabled: false
repository:
  working_directory: /srv/checkout
  provision_script: scripts/setup_env.sh
logging:
  level: debug
  format: json
`)

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 300, config.Updater.CheckIntervalSeconds)
	assert.Equal(t, 5, config.Updater.MaxConsecutiveFailures)
	assert.Equal(t, 600, config.Updater.FailureCooldownSeconds)
	assert.True(t, config.Updater.IsEnabled())

	require.Len(t, config.Updater.Units, 2)
	assert.Equal(t, "gt-vali", config.Updater.Units[0].Name)
	assert.Equal(t, "validator", config.Updater.Units[0].Role)
	assert.True(t, config.Updater.Units[0].IsEnabled())
	assert.False(t, config.Updater.Units[1].IsEnabled())
	// Supervisor process name defaults to the unit name
	assert.Equal(t, "gt-miner", config.Updater.Units[1].SupervisorProcessName)

	assert.Equal(t, "/srv/checkout", config.Repository.WorkingDirectory)
	assert.Equal(t, "debug", config.Logging.Level)

	require.NoError(t, ValidateConfig(config))
}

func TestLoadConfigFromFile_Defaults(t *testing.T) {
	path := writeConfigFile(t, `
repository:
  working_directory: /srv/checkout
`)

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, defaultCheckIntervalSeconds, config.Updater.CheckIntervalSeconds)
	assert.Equal(t, defaultMaxConsecutiveFailures, config.Updater.MaxConsecutiveFailures)
	assert.Equal(t, defaultFailureCooldownSeconds, config.Updater.FailureCooldownSeconds)
	assert.True(t, config.Updater.IsEnabled())
	assert.Equal(t, "info", config.Logging.Level)
}

func TestLoadConfigFromFile_MissingFile(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.True(t, errors.IsIOError(err))
}

func TestLoadConfigFromFile_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "updater: [not a mapping")
	_, err := LoadConfigFromFile(path)
	assert.True(t, errors.IsValidationError(err))
}

func TestValidateConfig(t *testing.T) {
	valid := func() *ServiceConfig {
		config := &ServiceConfig{
			Repository: RepositoryConfig{WorkingDirectory: "/srv/checkout"},
		}
		config.Updater.Units = []ManagedUnit{
			{Name: "gt-vali", SupervisorProcessName: "gt-vali"},
		}
		setConfigDefaults(config)
		return config
	}

	tests := []struct {
		name      string
		mutate    func(config *ServiceConfig)
		shouldErr bool
	}{
		{"valid", func(config *ServiceConfig) {}, false},
		{"negative_interval", func(config *ServiceConfig) {
			config.Updater.CheckIntervalSeconds = -1
		}, true},
		{"zero_max_failures", func(config *ServiceConfig) {
			config.Updater.MaxConsecutiveFailures = 0
		}, true},
		{"negative_cooldown", func(config *ServiceConfig) {
			config.Updater.FailureCooldownSeconds = -1
		}, true},
		{"empty_unit_name", func(config *ServiceConfig) {
			config.Updater.Units[0].Name = ""
		}, true},
		{"invalid_unit_name", func(config *ServiceConfig) {
			config.Updater.Units[0].Name = "unit with spaces"
		}, true},
		{"duplicate_unit_names", func(config *ServiceConfig) {
			config.Updater.Units = append(config.Updater.Units, config.Updater.Units[0])
		}, true},
		{"missing_working_directory", func(config *ServiceConfig) {
			config.Repository.WorkingDirectory = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(config)

			err := ValidateConfig(config)
			if tt.shouldErr {
				assert.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateUnitName(t *testing.T) {
	tests := []struct {
		name      string
		unitName  string
		shouldErr bool
	}{
		{"valid_simple", "unit-1", false},
		{"valid_with_underscore", "unit_1", false},
		{"valid_alphanumeric", "unit123", false},
		{"empty_name", "", true},
		{"too_long", string(make([]byte, 65)), true},
		{"invalid_chars", "unit@1", true},
		{"invalid_space", "unit 1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUnitName(tt.unitName)
			if tt.shouldErr {
				assert.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
