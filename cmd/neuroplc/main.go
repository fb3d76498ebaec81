// Command neuroplc runs the deterministic motor-control core: the iron
// thread, safety firewall and supervisor, bridge protocol, and audit log.
// Orchestration follows the teacher's cmd/mape/main.go shape: init logging,
// load config, construct collaborators, start goroutines, wait on a
// cancellable context, shut down with a bounded deadline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hadijannat/NeuroPLC/internal/audit"
	"github.com/hadijannat/NeuroPLC/internal/bridge"
	"github.com/hadijannat/NeuroPLC/internal/config"
	"github.com/hadijannat/NeuroPLC/internal/eventbus"
	"github.com/hadijannat/NeuroPLC/internal/spine"
	"github.com/hadijannat/NeuroPLC/internal/telemetry"
	"github.com/hadijannat/NeuroPLC/internal/tlsconfig"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	lg, logFile := telemetry.InitLogging(cfg.LogDir, cfg.JSONLogs)
	if logFile != nil {
		defer logFile.Close()
	}

	tb := spine.NewTimeBase()
	metrics := telemetry.NewMetrics()

	auditLogger, err := audit.Open(cfg.AuditLogPath, 4096, 1000, lg, tb, metrics)
	if err != nil {
		lg.Error("fatal: cannot open audit log", "error", err)
		return 1
	}
	defer auditLogger.Close()

	tlsCfg, err := tlsconfig.Load(cfg.TLSCertPath, cfg.TLSKeyPath)
	if err != nil {
		lg.Error("fatal: cannot load TLS certificate/key", "error", err)
		return 1
	}

	limits := spine.SafetyLimits{
		MinRPM:             cfg.MinRPM,
		MaxRPM:             cfg.MaxRPM,
		MaxRateRPMPerCycle: cfg.MaxRateRPM,
		MaxTempC:           cfg.MaxTempC,
		StateStaleUS:       int64(cfg.StateStaleUS),
		WarmupCycles:       uint64(cfg.WarmupCycles),
		DisableRateLimit:   cfg.DisableRateLimit,
	}

	hal := spine.NewSimHAL(tb)
	mbox := spine.NewMailbox()
	pub := spine.NewTripleBuffer()

	cyclePeriod := time.Duration(cfg.CyclePeriodUS) * time.Microsecond
	watchdogUS := int64(cfg.CyclePeriodUS) * 10

	thread := spine.NewIronThread(spine.IronThreadConfig{
		Period:      cyclePeriod,
		WatchdogUS:  watchdogUS,
		RunDuration: time.Duration(cfg.RunSeconds) * time.Second,
		Limits:      limits,
		Supervisor:  spine.DefaultSupervisorConfig(),
		StopOnSafe:  cfg.StopOnSafe,
	}, tb, hal, mbox, pub, auditLogger, metrics)

	var brokers []string
	if cfg.KafkaBrokers != "" {
		brokers = strings.Split(cfg.KafkaBrokers, ",")
	}
	mirror := eventbus.NewMirror(brokers, "neuroplc.state", lg)
	defer mirror.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	framing := bridge.FramingJSON
	if cfg.BridgeProtocol == "binary" {
		framing = bridge.FramingBinary
	}

	var bridgeServer *bridge.Server
	bridgeErrCh := make(chan error, 1)
	if !cfg.NoBridge {
		bridgeServer = bridge.NewServer(bridge.Config{
			Addr:             cfg.BridgeAddr,
			Framing:          framing,
			RequireHandshake: cfg.RequireHandshake,
			AuthSecret:       cfg.AuthSecret,
			AuthMaxAge:       cfg.AuthMaxAge,
			PublishHz:        1e6 / float64(cfg.CyclePeriodUS) / 10,
			TLSConfig:        tlsCfg,
		}, tb, mbox, pub, thread.Supervisor(), auditLogger, metrics, lg)

		go func() {
			bridgeErrCh <- bridgeServer.Serve(ctx)
		}()
	}

	ready := make(chan struct{})
	telemetryServer := telemetry.NewServer(cfg.MetricsAddr, metrics, func() (bool, bool) {
		select {
		case <-ready:
			return true, true
		default:
			return true, false
		}
	}, lg)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := telemetryServer.Serve(); err != nil {
				lg.Error("telemetry server error", "error", err)
			}
		}()
	}

	close(ready)

	exitCh := make(chan spine.ExitReason, 1)
	go func() {
		exitCh <- thread.Run(ctx)
	}()

	var reason spine.ExitReason
	select {
	case <-ctx.Done():
		reason = <-exitCh
	case reason = <-exitCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if bridgeServer != nil {
		bridgeServer.Close()
	}
	telemetryServer.Shutdown(shutdownCtx)

	lg.Info("neuroplc exiting", "reason", exitReasonString(reason))

	switch reason {
	case spine.ExitNormal, spine.ExitShutdown:
		return 0
	case spine.ExitSafeLatched, spine.ExitWatchdogTrip:
		return 2
	case spine.ExitHALFailure:
		return 3
	default:
		return 0
	}
}

func exitReasonString(r spine.ExitReason) string {
	switch r {
	case spine.ExitNormal:
		return "normal"
	case spine.ExitShutdown:
		return "shutdown"
	case spine.ExitSafeLatched:
		return "safe_latched"
	case spine.ExitWatchdogTrip:
		return "watchdog_trip"
	case spine.ExitHALFailure:
		return "hal_failure"
	default:
		return "unknown"
	}
}
