package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/core-tools/hsu-updater-go/pkg/command"
	"github.com/core-tools/hsu-updater-go/pkg/detector"
	"github.com/core-tools/hsu-updater-go/pkg/logging"
	"github.com/core-tools/hsu-updater-go/pkg/logging/zaplog"
	"github.com/core-tools/hsu-updater-go/pkg/orchestrator"
	"github.com/core-tools/hsu-updater-go/pkg/supervisor"
	"github.com/core-tools/hsu-updater-go/pkg/updater"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	ConfigFile    string `long:"config" description:"path to the configuration file" required:"true"`
	CheckInterval int    `long:"check-interval" description:"override update check interval in seconds"`
	Disable       bool   `long:"disable" description:"start with auto-update disabled (for testing)"`
	LogLevel      string `long:"log-level" description:"logging level (debug, info, warn, error)"`
	LogFile       string `long:"log-file" description:"path to the rotating log file"`
}

const statusLogInterval = time.Hour

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v", err)
		os.Exit(1)
	}

	config, err := updater.LoadConfigFromFile(opts.ConfigFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Command line overrides
	if opts.CheckInterval > 0 {
		config.Updater.CheckIntervalSeconds = opts.CheckInterval
	}
	if opts.Disable {
		disabled := false
		config.Updater.Enabled = &disabled
	}
	if opts.LogLevel != "" {
		config.Logging.Level = opts.LogLevel
	}
	if opts.LogFile != "" {
		config.Logging.FilePath = opts.LogFile
	}

	if err := updater.ValidateConfig(config); err != nil {
		fmt.Printf("Configuration validation failed: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := zaplog.NewLogger(config.Logging)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	logger := logging.NewLogger("module: updater , ", logging.LogFuncs{
		Debugf: zapLogger.Debugf,
		Infof:  zapLogger.Infof,
		Warnf:  zapLogger.Warnf,
		Errorf: zapLogger.Errorf,
	})

	logger.Infof("Starting auto-update service...")
	logger.Infof("Using CONFIGURATION FILE: %s", opts.ConfigFile)

	runner := command.NewExecRunner()
	changeDetector := detector.NewUpdateDetector(config.Repository.WorkingDirectory, runner, logger)
	supervisorClient := supervisor.NewPM2Client(runner, logger)
	updateOrchestrator := orchestrator.NewUpdateOrchestrator(
		orchestrator.Options{
			WorkingDirectory: config.Repository.WorkingDirectory,
			ProvisionScript:  config.Repository.ProvisionScript,
		},
		changeDetector,
		supervisorClient,
		runner,
		logger,
	)

	manager := updater.NewManager(config.Updater, updateOrchestrator, changeDetector, logger)

	manager.OnUpdateStarted(func(name string) {
		logger.Infof("Update started for %s", name)
	})
	manager.OnUpdateCompleted(func(name string, success bool) {
		if success {
			logger.Infof("Update completed successfully for %s", name)
		} else {
			logger.Errorf("Update failed for %s", name)
		}
	})
	manager.OnUpdateFailed(func(name string, errorText string) {
		logger.Errorf("Update failed for %s: %s", name, errorText)
	})

	logger.Infof("Configuration:")
	logger.Infof("  - Enabled: %t", config.Updater.IsEnabled())
	logger.Infof("  - Check interval: %ds", config.Updater.CheckIntervalSeconds)
	logger.Infof("  - Managed units: %d", len(config.Updater.Units))
	for _, unit := range config.Updater.Units {
		logger.Infof("    - %s (%s) -> %s", unit.Name, unit.Role, unit.SupervisorProcessName)
	}

	if !manager.Start() {
		logger.Errorf("Failed to start auto-update manager")
		os.Exit(1)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	statusTicker := time.NewTicker(statusLogInterval)
	defer statusTicker.Stop()

	for {
		select {
		case sig := <-signals:
			logger.Infof("Received signal %v, shutting down...", sig)
			manager.Stop()
			return
		case <-statusTicker.C:
			status := manager.Status(context.Background())
			logger.Infof("Status: Running=%t, Failures=%d, Cooldown=%t",
				status.Running, status.ConsecutiveFailures, status.InCooldown)
		}
	}
}
