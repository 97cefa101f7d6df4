package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bahamondeX/fact/src/config"
	"github.com/bahamondeX/fact/src/logging"
	"github.com/bahamondeX/fact/src/runtime"
)

type globalFlags struct {
	configPath string
	namespace  string
	logLevel   string
}

// app carries what every command needs. Tests swap the writers.
type app struct {
	flags  globalFlags
	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{stdout: os.Stdout, stderr: os.Stderr}
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fact",
		Short:         "Semantic memory for conversational agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVar(&a.flags.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVarP(&a.flags.namespace, "namespace", "n", "default", "Memory namespace")
	root.PersistentFlags().StringVar(&a.flags.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(
		a.storeCmd(),
		a.retrieveCmd(),
		a.ingestCmd(),
		a.serveCmd(),
		a.schemaCmd(),
	)
	return root
}

// withRuntime builds a runtime for one command and always closes it.
func (a *app) withRuntime(cmd *cobra.Command, fn func(context.Context, *runtime.Runtime) error) (err error) {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if a.flags.logLevel != "" {
		level = a.flags.logLevel
	}
	logger := logging.NewWithWriter(a.stderr, level, cfg.LogFormat)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := runtime.New(ctx, cfg, runtime.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			logger.WithError(cerr).Warn("shutdown")
			if err == nil {
				err = cerr
			}
		}
	}()
	return fn(ctx, rt)
}
