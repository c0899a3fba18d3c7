package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

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
	ConfigFile string `long:"config" description:"path to the configuration file" required:"true"`
	Status     bool   `long:"status" description:"print the current update status"`
	Force      bool   `long:"force" description:"force an immediate update of all enabled units"`
	Processes  bool   `long:"processes" description:"list all supervisor processes"`
	LogLevel   string `long:"log-level" description:"logging level (debug, info, warn, error)"`
}

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

	if !opts.Status && !opts.Force && !opts.Processes {
		fmt.Println("One of --status, --force or --processes is required")
		os.Exit(1)
	}

	config, err := updater.LoadConfigFromFile(opts.ConfigFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if opts.LogLevel != "" {
		config.Logging.Level = opts.LogLevel
	}
	config.Logging.FilePath = "" // CLI logs to the console only

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

	logger := logging.NewLogger("module: updater-cli , ", logging.LogFuncs{
		Debugf: zapLogger.Debugf,
		Infof:  zapLogger.Infof,
		Warnf:  zapLogger.Warnf,
		Errorf: zapLogger.Errorf,
	})

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

	ctx := context.Background()

	switch {
	case opts.Processes:
		processes := supervisorClient.AllProcesses(ctx)
		printJSON(processes)

	case opts.Status:
		status := manager.Status(ctx)
		printJSON(status)

	case opts.Force:
		results := manager.ForceUpdateAll()
		printJSON(results)

		for _, success := range results {
			if !success {
				os.Exit(1)
			}
		}
	}
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("Failed to encode output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
