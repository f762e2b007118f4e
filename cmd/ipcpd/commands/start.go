package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rina-project/ipcpd/internal/kernelchan"
	"github.com/rina-project/ipcpd/internal/logger"
	"github.com/rina-project/ipcpd/pkg/config"
	"github.com/rina-project/ipcpd/pkg/ctrlsock"
	"github.com/rina-project/ipcpd/pkg/eventloop"
	metricspkg "github.com/rina-project/ipcpd/pkg/metrics"
	"github.com/rina-project/ipcpd/pkg/rib"
	"github.com/rina-project/ipcpd/pkg/ribtypes"
	"github.com/rina-project/ipcpd/pkg/shim"
	"github.com/spf13/cobra"
)

var (
	foreground bool
	pidFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ipcpd control plane daemon",
	Long: `Start ipcpd: bring up the kernel control channel, the RIB, the
event loop, this instance's enabled shim IPCPs and its control socket, then
enroll every statically-configured neighbor.

By default, the daemon runs in the background. Use --foreground to run in
the foreground for debugging or when managed by a process supervisor.

Examples:
  # Start in background (default)
  ipcpd start

  # Start in foreground
  ipcpd start --foreground

  # Start with a custom config file
  ipcpd start --config /etc/ipcpd/config.yaml`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/ipcpd/ipcpd.pid)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startBackground()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("ipcpd starting", "apn", cfg.IPCP.APN, "dif", cfg.IPCP.DIFName, "lower_difs", cfg.IPCP.LowerDIFs)

	poller, err := eventloop.NewEpollPoller()
	if err != nil {
		return fmt.Errorf("ipcpd: create poller: %w", err)
	}

	reg := prometheus.NewRegistry()
	loop, err := eventloop.New(eventloop.Config{
		Poller:  poller,
		Metrics: metricspkg.NewEventLoopMetrics(reg),
	})
	if err != nil {
		return fmt.Errorf("ipcpd: create event loop: %w", err)
	}

	r := rib.New(rib.Config{
		LocalAddress:   ribtypes.Address(cfg.IPCP.Address),
		LocalLowerDIFs: cfg.IPCP.LowerDIFs,
		PoolStart:      ribtypes.Address(cfg.AddressPool.Start),
		PoolEnd:        ribtypes.Address(cfg.AddressPool.End),
		SyncChunkSize:  cfg.IPCP.SyncChunkSize,
	})

	shims := shim.NewRegistry()

	d := newDaemon(cfg, nil, r, loop, shims)
	kernel, err := kernelchan.Dial(cfg.KernelChannel.SocketPath, d.onUpCall)
	if err != nil {
		return fmt.Errorf("ipcpd: dial kernel channel: %w", err)
	}
	d.kernel = kernel
	defer kernel.Close()

	ctrlSrv := ctrlsock.NewServer(ctrlsock.Config{
		SocketPath: cfg.CtrlSock.SocketPath,
		Enroller:   d,
		Appl:       d,
		Drivers:    d,
	})

	if err := d.startEnabledShims(ctx); err != nil {
		return fmt.Errorf("ipcpd: start shims: %w", err)
	}
	d.startPeriodicTimers()
	d.bootstrapNeighbors(ctx)

	var metricsSrv *metricspkg.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metricspkg.NewServer(reg, cfg.Metrics.Port)
		if err := metricsSrv.Start(ctx); err != nil {
			return fmt.Errorf("ipcpd: start metrics server: %w", err)
		}
		logger.Info("metrics enabled", "port", metricsSrv.Port())
	} else {
		logger.Info("metrics disabled")
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 3)
	go func() { serverDone <- kernel.Run(ctx) }()
	go func() { serverDone <- loop.Run(ctx) }()
	go func() { serverDone <- ctrlSrv.Serve(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("ipcpd is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()
		ctrlSrv.Stop()
		if metricsSrv != nil {
			_ = metricsSrv.Stop(context.Background())
		}
		if err := <-serverDone; err != nil {
			logger.Error("shutdown error", "error", err)
			return err
		}
		logger.Info("ipcpd stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		cancel()
		ctrlSrv.Stop()
		if metricsSrv != nil {
			_ = metricsSrv.Stop(context.Background())
		}
		if err != nil {
			logger.Error("daemon error", "error", err)
			return err
		}
		logger.Info("ipcpd stopped")
	}

	return nil
}

// startBackground re-execs the current binary with --foreground, detached
// from the controlling terminal, mirroring the teacher's daemonizing
// startDaemon (adapted: no separate log-file flag, since InitLogger's
// Output config already names where logs go).
func startBackground() error {
	stateDir := GetDefaultStateDir()
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("ipcpd is already running (PID %d)", pid)
					}
				}
			}
		}
		_ = os.Remove(pidPath)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	cmd := exec.Command(executable, daemonArgs...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("ipcpd started in background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)

	return nil
}
