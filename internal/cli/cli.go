package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/vk/taskforge/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("taskforge", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
TaskForge - A reactive task-execution orchestrator with verified completion.

Usage:
  taskforge [options] [PLAN_PATH]

Arguments:
  PLAN_PATH
    Path to a single .hcl plan file or a directory containing .hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	planFlag := flagSet.String("plan", "", "Path to the plan file or directory.")
	pFlag := flagSet.String("p", "", "Path to the plan file or directory (shorthand).")
	execFlag := flagSet.String("exec", "", "Executor command line, spawned once per node attempt. Split on whitespace; shell quoting is not interpreted, so wrap complex invocations in a script. Required.")
	buildFlag := flagSet.String("build-cmd", "", "Build verification command for the validation gate. Split on whitespace like --exec.")
	testFlag := flagSet.String("test-cmd", "", "Test verification command for the validation gate. Split on whitespace like --exec.")
	projectFlag := flagSet.String("project", ".", "Project directory executors and verification commands run in.")
	workspaceFlag := flagSet.String("workspace", ".taskforge", "Workspace directory for the journal, progress records and attempt logs.")
	concurrencyFlag := flagSet.Int("concurrency", 4, "Maximum number of nodes in flight.")
	pollFlag := flagSet.Duration("poll-interval", 10*time.Second, "Liveness poll cadence for hang detection.")
	resumeFlag := flagSet.Bool("resume", false, "Reconcile durable progress against reality before dispatching.")
	forceFlag := flagSet.Bool("force-kill", false, "Kill in-flight executors on cancellation instead of draining them.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *planFlag != "" {
		path = *planFlag
	} else if *pFlag != "" {
		path = *pFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Plan path determined.", "path", path)

	if path == "" {
		slog.Debug("No plan path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	if *execFlag == "" {
		return nil, false, &ExitError{Code: 2, Message: "missing required flag: --exec"}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		PlanPath:     path,
		ProjectDir:   *projectFlag,
		WorkspaceDir: *workspaceFlag,
		ExecArgv:     strings.Fields(*execFlag),
		BuildArgv:    strings.Fields(*buildFlag),
		TestArgv:     strings.Fields(*testFlag),
		Concurrency:  *concurrencyFlag,
		PollInterval: *pollFlag,
		Resume:       *resumeFlag,
		ForceKill:    *forceFlag,
		LogFormat:    logFormat,
		LogLevel:     logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.")
	return config, false, nil
}
