// Command caiman bridges an ARM Energy Probe (or a DAQ) to a Streamline host
// over TCP, or captures locally to disk.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/caiman/internal/bridge"
	"github.com/banshee-data/caiman/internal/config"
	"github.com/banshee-data/caiman/internal/device"
	"github.com/banshee-data/caiman/internal/fifo"
	"github.com/banshee-data/caiman/internal/fsutil"
	"github.com/banshee-data/caiman/internal/monitor"
	"github.com/banshee-data/caiman/internal/monitoring"
	"github.com/banshee-data/caiman/internal/serialport"
	"github.com/banshee-data/caiman/internal/session"
	"github.com/banshee-data/caiman/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	if opts.showVersion {
		fmt.Fprintln(stderr, version.String())
		return 0
	}

	cfg, err := opts.bridgeConfig()
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fs := fsutil.OSFileSystem{}
	outDir := cfg.GetOutputPath()
	if err := fs.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(stderr, "ERROR: unable to create output path %s: %v\n", outDir, err)
		return 1
	}

	logger := monitoring.NewLogger(stderr)
	logger.SetPrintMessages(cfg.GetPrintMessages())
	if err := logger.SetWarningsFile(fs, filepath.Join(outDir, bridge.WarningsFileName)); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	defer func() {
		if err := logger.Close(); err != nil {
			fmt.Fprintf(stderr, "ERROR: close warnings file: %v\n", err)
		}
	}()

	if err := runBridge(cfg, fs, logger); err != nil {
		if errors.Is(err, bridge.ErrDisconnected) || errors.Is(err, context.Canceled) {
			return 0
		}
		logger.Errorf("%v", err)
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	return 0
}

func runBridge(cfg *config.BridgeConfig, fs fsutil.FileSystem, logger *monitoring.Logger) error {
	specs, err := cfg.ChannelSpecs()
	if err != nil {
		return err
	}
	sess, err := session.Compile(specs)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handleSignals(cancel, logger.Logf)

	stats := monitor.NewStats(monitor.NewSampleHistory(
		monitor.CounterLabels(sess), monitor.DefaultHistoryDepth, monitor.DefaultDecimation, nil))

	if cfg.GetLocal() {
		return runLocal(ctx, cfg, fs, sess, stats, logger.Logf)
	}
	return runServer(ctx, cfg, sess, stats, logger.Logf)
}

func runLocal(ctx context.Context, cfg *config.BridgeConfig, fs fsutil.FileSystem, sess *session.Session, stats *monitor.Stats, logf monitoring.LogFunc) error {
	out, err := bridge.CreateLocalOutput(fs, cfg.GetOutputPath())
	if err != nil {
		return err
	}
	stopDebug := startDebugServer(cfg.GetDebugListen(), stats, uuid.NewString(), nil, logf)
	defer stopDebug()

	return bridge.RunLocal(ctx, bridge.LocalConfig{
		Session:         sess,
		Device:          newDevice(cfg, sess, out, stats, logf),
		DeviceName:      cfg.GetDevice(),
		Output:          out,
		FS:              fs,
		Dir:             cfg.GetOutputPath(),
		ProtocolVersion: version.ProtocolVersion,
		Logf:            logf,
	})
}

func runServer(ctx context.Context, cfg *config.BridgeConfig, sess *session.Session, stats *monitor.Stats, logf monitoring.LogFunc) error {
	ring, err := fifo.New(fifo.DefaultSingleBufferSize, fifo.DefaultCapacity)
	if err != nil {
		return err
	}
	b := bridge.New(bridge.Config{
		Session:         sess,
		Device:          newDevice(cfg, sess, ring, stats, logf),
		DeviceName:      cfg.GetDevice(),
		Fifo:            ring,
		ProtocolVersion: version.ProtocolVersion,
		Logf:            logf,
		Metrics:         stats,
	})

	stopDebug := startDebugServer(cfg.GetDebugListen(), stats, b.SessionID(), ring.Stats, logf)
	defer stopDebug()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GetPort()))
	if err != nil {
		return fmt.Errorf("unable to listen on port %d: %w", cfg.GetPort(), err)
	}
	return b.Serve(ctx, ln)
}

func newDevice(cfg *config.BridgeConfig, sess *session.Session, sink io.Writer, stats *monitor.Stats, logf monitoring.LogFunc) device.Device {
	if cfg.GetDAQ() {
		return device.NewDAQ(device.DAQConfig{
			Session:  sess,
			Sink:     sink,
			Logf:     logf,
			Observer: stats,
		})
	}
	return device.NewEnergyProbe(device.ProbeConfig{
		Session:  sess,
		Sink:     sink,
		Factory:  serialport.NewRealSerialPortFactory(),
		Options:  cfg.GetSerial(),
		Logf:     logf,
		Observer: stats,
	})
}

// handleSignals cancels on the first SIGINT or SIGTERM and exits on the
// second.
func handleSignals(cancel context.CancelFunc, logf monitoring.LogFunc) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logf("Received %v, shutting down", sig)
		cancel()
		<-sigs
		log.Print("Received second signal, exiting")
		os.Exit(1)
	}()
}

// startDebugServer serves the debug routes on addr and returns a function
// that shuts the server down. It does nothing when addr is empty.
func startDebugServer(addr string, stats *monitor.Stats, sessionID string, fifoState func() fifo.State, logf monitoring.LogFunc) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	stats.AttachAdminRoutes(mux, sessionID, fifoState)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logf("Debug listener on http://%s/debug/", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logf("debug server: %v", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logf("debug server shutdown error: %v", err)
			server.Close()
		}
	}
}
