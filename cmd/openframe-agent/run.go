package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/internal/bootstrap"
	"github.com/openframe/agent/internal/bus"
	"github.com/openframe/agent/internal/consumer"
	"github.com/openframe/agent/internal/controlplane"
	"github.com/openframe/agent/internal/installer"
	"github.com/openframe/agent/internal/observability"
	"github.com/openframe/agent/internal/placeholder"
	"github.com/openframe/agent/internal/registry"
	"github.com/openframe/agent/internal/selfupdate"
	"github.com/openframe/agent/internal/toolconn"
	"github.com/openframe/agent/internal/toolrun"
	"github.com/openframe/agent/internal/toolupdate"
	"github.com/openframe/agent/pkg/openframe"
)

func buildRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the Agent in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, baseLogger())
		},
	}
}

// buildRunAsServiceCmd builds the subcommand the installed service unit
// actually execs. Unlike run/install/uninstall, its errors are not
// returned to main for the bare single-line stderr print — there is no
// operator watching it — they are only logged (as a structured record
// through the startup logger), per §6's CLI surface note.
func buildRunAsServiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "run-as-service",
		Short:  "Run the Agent under the platform service manager (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := baseLogger()
			if err := runAgent(ctx, logger); err != nil {
				logger.Error("agent exited with error", "error", err)
				os.Exit(1)
			}
			return nil
		},
	}
}

// runAgent wires the one-shot service graph (§9 "cyclic service graph"
// design note — leaves constructed first, shared dependencies handed down
// by cheap-clone value) and blocks until ctx is cancelled.
func runAgent(ctx context.Context, startupLogger *slog.Logger) error {
	dirs, err := agentconfig.Resolve()
	if err != nil {
		return fmt.Errorf("run: resolve directories: %w", err)
	}
	if err := dirs.Ensure(); err != nil {
		return fmt.Errorf("run: create directories: %w", err)
	}

	logger := buildLogger(dirs)
	metrics := observability.NewMetrics()

	initialStore := agentconfig.NewInitialStore(dirs)
	agentStore := agentconfig.NewAgentStore(dirs)
	clientInfoStore := agentconfig.NewClientInfoStore(dirs)
	selfupdate.ReportBoot(dirs, clientInfoStore, version, logger)

	initial, err := initialStore.Load()
	if err != nil {
		return fmt.Errorf("run: %w (run install first)", err)
	}

	client, err := controlplane.New("https://"+initial.ServerHost, initial.LocalCACertPath)
	if err != nil {
		return fmt.Errorf("run: build control plane client: %w", err)
	}
	auth := controlplane.NewAuthService(client, agentStore, dirs.SharedTokenPath())

	pipeline := &bootstrap.Pipeline{
		Client:          client,
		InitialStore:    initialStore,
		AgentStore:      agentStore,
		SharedTokenPath: dirs.SharedTokenPath(),
		Logger:          logger,
	}
	if err := pipeline.Run(ctx); err != nil {
		return fmt.Errorf("run: bootstrap: %w", err)
	}

	cfg, err := agentStore.Load()
	if err != nil {
		return fmt.Errorf("run: load agent config: %w", err)
	}

	go auth.RunProactiveRefresh(ctx, logger)

	busMgr := bus.New(initial.ServerHost, initial.LocalMode, initial.LocalCACertPath, auth, logger, metrics)
	conn, err := busMgr.Connect(ctx)
	if err != nil {
		return fmt.Errorf("run: connect to bus: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return fmt.Errorf("run: open jetstream context: %w", err)
	}

	toolsRegistry := registry.NewToolsRegistry(dirs.InstalledToolsPath())
	connsRegistry := registry.NewConnectionsRegistry(dirs.ToolConnectionsPath())

	phCtx := placeholder.Context{
		ServerHost:      initial.ServerHost,
		SharedTokenPath: dirs.SharedTokenPath(),
		AppSupportDir:   dirs.AppSupport,
	}

	runner := toolrun.New(dirs, phCtx, logger, metrics)
	connProber := toolconn.New(dirs, cfg.MachineID, phCtx, connsRegistry, logger, metrics)
	installerMgr := installer.New(dirs, cfg.MachineID, initial.ServerHost, client, auth, toolsRegistry, runner, connProber, logger, metrics)
	updater := toolupdate.New(dirs, cfg.MachineID, client, toolsRegistry, logger)
	selfUpdater := selfupdate.New(cfg.MachineID, dirs, clientInfoStore, version, logger, metrics)

	existing, err := toolsRegistry.List()
	if err != nil {
		return fmt.Errorf("run: list installed tools: %w", err)
	}
	runner.Run(ctx, existing)
	for _, t := range existing {
		connProber.RunNewTool(ctx, conn, t)
	}

	go runConsumer(ctx, conn, js, consumer.ToolInstallationSpec(cfg.MachineID), logger, toolInstallationHandler(installerMgr, updater, toolsRegistry, logger))
	go runConsumer(ctx, conn, js, consumer.ClientUpdateSpec(cfg.MachineID), logger, selfUpdater.Update)

	startupLogger.Info("agent started", "machine_id", cfg.MachineID)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func runConsumer[T any](ctx context.Context, conn *nats.Conn, js nats.JetStreamContext, spec consumer.Spec, logger *slog.Logger, handler consumer.Handler[T]) {
	if err := consumer.Run(ctx, conn, js, spec, logger, handler); err != nil && ctx.Err() == nil {
		logger.Error("consumer stopped unexpectedly", "durable", spec.DurableName, "error", err)
	}
}

// toolInstallationHandler dispatches a TOOL_INSTALLATION message to the
// installer (C11) for a not-yet-registered tool, or the updater (C12)
// when the registered version differs from the message's — the decision
// point implied by §4.4's "tool-agent-update" consumer task sharing the
// same stream as install (§4.5 step 1, §4.11).
func toolInstallationHandler(in *installer.Installer, up *toolupdate.Updater, tools *registry.ToolsRegistry, logger *slog.Logger) consumer.Handler[openframe.ToolInstallationMessage] {
	return func(ctx context.Context, conn *nats.Conn, msg openframe.ToolInstallationMessage) error {
		existing, ok, err := tools.Get(msg.ToolAgentID)
		if err != nil {
			return err
		}
		switch {
		case !ok:
			return in.Install(ctx, conn, msg)
		case existing.Version != msg.Version:
			return up.Update(ctx, conn, msg)
		default:
			logger.Debug("tool already installed at target version, acking", "tool_agent_id", msg.ToolAgentID)
			return nil
		}
	}
}

func buildLogger(dirs agentconfig.Dirs) *slog.Logger {
	format := strings.ToLower(strings.TrimSpace(os.Getenv("OPENFRAME_LOG_FORMAT")))
	return observability.New(observability.LogConfig{
		Level:    os.Getenv("OPENFRAME_LOG_LEVEL"),
		Format:   format,
		FilePath: dirs.LogFilePath(),
	})
}
