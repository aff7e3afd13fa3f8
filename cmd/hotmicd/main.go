// Command hotmicd runs the HotMic audio engine as a standalone daemon:
// it opens (or creates) a persisted session, attaches an audio device,
// and exposes both an MCP control surface (over stdio) and a telemetry
// WebSocket endpoint (over HTTP) for the lifetime of the process.
//
// Grounded on cmd/discord-voice-mcp's flag/env configuration, logrus
// setup, and signal-based graceful shutdown shape.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/hotmic/engine/internal/capture"
	"github.com/hotmic/engine/internal/config"
	"github.com/hotmic/engine/internal/control"
	"github.com/hotmic/engine/internal/device"
	"github.com/hotmic/engine/internal/engine"
	"github.com/hotmic/engine/internal/plugins"
	"github.com/hotmic/engine/internal/telemetry"
)

var (
	sessionPath  string
	telemetryAddr string
	useMock      bool
)

func init() {
	flag.StringVar(&sessionPath, "session", "", "path to a persisted session YAML file")
	flag.StringVar(&telemetryAddr, "telemetry-addr", ":8765", "telemetry WebSocket listen address")
	flag.BoolVar(&useMock, "mock-device", false, "use an in-process mock device instead of PortAudio")
	flag.Parse()

	_ = godotenv.Load()
	if sessionPath == "" {
		sessionPath = os.Getenv("HOTMIC_SESSION")
	}
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
	log := logrus.NewEntry(logrus.StandardLogger())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	var doc *config.Session
	if sessionPath != "" {
		if loaded, err := config.Load(sessionPath); err == nil {
			doc = loaded
		} else {
			log.WithError(err).Warn("failed to load session, starting from defaults")
		}
	}
	if doc == nil {
		doc = config.Default(48000, 512)
	}

	factory := plugins.NewFactory()
	eng := engine.New(engine.Config{
		SampleRate:         doc.Global.SampleRate,
		BlockSize:          doc.Global.BlockSize,
		ParamQueueCapacity: 256,
		CaptureCapacity:    32,
	}, factory, defaultComputers(), log)

	if err := eng.LoadSessionConfig(doc); err != nil {
		log.WithError(err).Fatal("failed to load session configuration")
	}
	log.WithField("channels", len(doc.Channels)).Info("session loaded")

	for _, in := range doc.Global.Inputs {
		eng.BindInput(in.ChannelID, 4)
	}

	blockWallBudget := time.Duration(float64(doc.Global.BlockSize) / doc.Global.SampleRate * float64(time.Second))
	onBlock := func(out []float32) { eng.OnBlock(out, blockWallBudget.Nanoseconds()) }

	var dev device.Device
	devCfg := device.Config{SampleRate: doc.Global.SampleRate, BlockSize: doc.Global.BlockSize}
	for _, in := range doc.Global.Inputs {
		devCfg.Inputs = append(devCfg.Inputs, in.ChannelID)
	}
	if useMock {
		dev = device.NewMockDevice(devCfg, onBlock, eng.OnInputBlock)
		log.Warn("using mock device, no real audio I/O will occur")
	} else {
		dev = device.NewPortAudioDevice(devCfg, onBlock, eng.OnInputBlock, log)
	}
	eng.AttachDevice(dev)

	if err := eng.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start engine")
	}
	log.Info("engine started")

	hub := telemetry.NewHub(eng, 100*time.Millisecond, log)
	go hub.Run()
	httpServer := &http.Server{Addr: telemetryAddr, Handler: hub}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("telemetry server error")
		}
	}()
	log.WithField("addr", telemetryAddr).Info("telemetry server started")

	controlServer := control.NewServer(eng, log)
	go func() {
		if err := controlServer.Run(ctx); err != nil {
			log.WithError(err).Error("control server error")
		}
	}()
	log.Info("MCP control server started")

	log.Info("hotmicd running. Press CTRL-C to exit.")
	<-ctx.Done()

	log.Info("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	hub.Stop()
	if err := eng.Stop(); err != nil {
		log.WithError(err).Warn("error stopping engine")
	}

	if sessionPath != "" {
		if err := config.Save(sessionPath, doc); err != nil {
			log.WithError(err).Warn("failed to persist session on shutdown")
		}
	}
}

// defaultComputers returns the off-thread analysis computers the
// orchestrator runs for signals no in-chain producer already supplied
// this block. None ship by default; a deployment registers its own via
// engine.New's computers argument as it adds analysis plugins that need
// off-thread derived signals (spec §4.6 "the orchestrator computes only
// the signals not already produced in-chain").
func defaultComputers() []capture.Computer { return nil }
