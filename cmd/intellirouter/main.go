// Command intellirouter boots one RoleRuntime (spec §4.6): the same
// binary serves as the Router, ChainEngine, RagManager, or PersonaLayer
// role depending on -role, following the flag-parsing / signal-channel /
// graceful-shutdown shape of the teacher's cmd/superagent/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intellirouter/intellirouter/internal/config"
	"github.com/intellirouter/intellirouter/internal/logging"
	"github.com/intellirouter/intellirouter/internal/roles"
	"github.com/intellirouter/intellirouter/internal/telemetry"
)

var (
	roleFlag    = flag.String("role", "", "Role to boot: router, chain-engine, rag-manager, persona-layer")
	versionFlag = flag.Bool("version", false, "Show version information")
	helpFlag    = flag.Bool("help", false, "Show help message")
	tracingFlag = flag.Bool("tracing", false, "Emit otel traces to stdout")
)

const version = "0.1.0"

// run executes the full boot sequence for one role process and blocks
// until ctx is cancelled (normally by an OS signal) or the role's
// servers fail to start. It returns the error the caller should exit on.
func run(ctx context.Context, roleName string, enableTracing bool, logger *logrus.Logger) error {
	role, err := roles.ParseRole(roleName)
	if err != nil {
		return err
	}

	cfg := config.FromEnv()

	tp, err := telemetry.New(telemetry.Config{ServiceName: "intellirouter-" + roleName, Enabled: enableTracing})
	if err != nil {
		return fmt.Errorf("intellirouter: building tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("intellirouter: tracer provider shutdown error")
		}
	}()

	rt, err := roles.New(role, cfg, logger)
	if err != nil {
		return fmt.Errorf("intellirouter: constructing %s runtime: %w", roleName, err)
	}

	logger.WithFields(logrus.Fields{
		"role": roleName,
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("intellirouter: starting role runtime")

	if err := rt.Run(ctx); err != nil {
		return fmt.Errorf("%s runtime stopped with error: %w", roleName, err)
	}

	logger.WithField("role", roleName).Info("intellirouter: shutdown complete")
	return nil
}

func main() {
	flag.Parse()

	if *helpFlag {
		showHelp()
		return
	}
	if *versionFlag {
		showVersion()
		return
	}

	if *roleFlag == "" {
		logging.New(logging.Options{Service: "intellirouter"}).Fatal("intellirouter: -role is required (router, chain-engine, rag-manager, persona-layer)")
	}

	logger := logging.New(logging.Options{Level: "info", JSON: true, Service: "intellirouter-" + *roleFlag})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *roleFlag, *tracingFlag, logger); err != nil {
		logger.WithError(err).Fatal("intellirouter: application failed")
	}
}

func showHelp() {
	fmt.Printf(`IntelliRouter - multi-role LLM routing and chain execution server

Usage:
  intellirouter -role <role> [options]

Roles:
  router         Routes chat completions across registered model backends
  chain-engine   Executes multi-node chains, dispatching LlmNodes through an in-process router
  rag-manager    Boots the generic role shell (retrieval logic out of scope)
  persona-layer  Boots the generic role shell (persona logic out of scope)

Options:
  -role string
        Role to boot: router, chain-engine, rag-manager, persona-layer
  -tracing
        Emit otel traces to stdout
  -version
        Show version information
  -help
        Show this help message

Examples:
  intellirouter -role router
  intellirouter -role chain-engine -tracing
`)
}

func showVersion() {
	fmt.Printf("intellirouter version %s\n", version)
}
