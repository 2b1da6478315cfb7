// Command auditmesh runs the env agent and the LLM auditor.
//
// Usage:
//
//	auditmesh ask "What is the capital of France?"
//	auditmesh audit --question "Capital of France?" "Lyon"
//	auditmesh serve --agent auditor --addr :8080
//	auditmesh evaluate --question Q --answer A --reference R
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/auditmesh/config"
	"github.com/hupe1980/auditmesh/logging"
	"github.com/hupe1980/auditmesh/metrics"
)

// CLI defines the command-line interface.
type CLI struct {
	Ask      AskCmd      `cmd:"" help:"Ask the env agent a question."`
	Audit    AuditCmd    `cmd:"" help:"Audit an answer with the remote critic and reviser."`
	Serve    ServeCmd    `cmd:"" help:"Serve an agent over A2A."`
	Evaluate EvaluateCmd `cmd:"" help:"Judge an answer against a reference answer."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	EnvFile    []string `name:"env-file" help:"Env files to load (default .env.local, .env)." type:"path"`
	Config     string   `short:"c" help:"Path to YAML config file." type:"path"`
	Prefix     string   `help:"Variable prefix of the env agent." default:"CEREBRAS" env:"AUDITMESH_PREFIX"`
	LogLevel   string   `help:"Log level (debug, info, warn, error)." default:"info" env:"LOG_LEVEL"`
	LogFormat  string   `help:"Log format (text, json)." enum:"text,json" default:"text" env:"LOG_FORMAT"`
	LogBackend string   `help:"Log backend (slog, zap)." enum:"slog,zap" default:"slog"`
	Trace      bool     `help:"Print trace spans to stderr."`
}

// app carries what every command needs after the global flags are applied.
type app struct {
	cli            *CLI
	file           *config.File
	logger         logging.Logger
	metrics        *metrics.Metrics
	tracerProvider trace.TracerProvider
	stdout         io.Writer
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(a *app) error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	_, err := fmt.Fprintf(a.stdout, "auditmesh version %s\n", version)
	return err
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cli := CLI{}

	parser, err := kong.New(&cli,
		kong.Name("auditmesh"),
		kong.Description("Env agent and LLM auditor over A2A."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		return err
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	a, shutdown, err := setup(&cli, stdout, stderr)
	if err != nil {
		return err
	}
	defer shutdown()

	return kctx.Run(a)
}

func setup(cli *CLI, stdout, stderr io.Writer) (*app, func(), error) {
	if err := config.LoadEnvFiles(cli.EnvFile...); err != nil {
		return nil, nil, err
	}

	level, err := logging.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(logging.Config{
		Level:   level,
		Format:  cli.LogFormat,
		Backend: cli.LogBackend,
		Output:  stderr,
	})
	if err != nil {
		return nil, nil, err
	}

	a := &app{
		cli:     cli,
		file:    &config.File{},
		logger:  logger,
		metrics: metrics.New(),
		stdout:  stdout,
	}

	if cli.Config != "" {
		if a.file, err = config.LoadFile(cli.Config); err != nil {
			return nil, nil, err
		}
	}

	shutdown := func() {
		if z, ok := logger.(*logging.ZapAdapter); ok {
			_ = z.Sync()
		}
	}

	if cli.Trace {
		tp, err := newTracerProvider(stderr)
		if err != nil {
			return nil, nil, err
		}
		a.tracerProvider = tp

		logShutdown := shutdown
		shutdown = func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn("tracing.shutdown", "error", err.Error())
			}
			logShutdown()
		}
	}

	return a, shutdown, nil
}
