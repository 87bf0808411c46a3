package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/otus-project/sngrep/internal/capture/hepio"
	"github.com/otus-project/sngrep/internal/capture/pcapio"
	"github.com/otus-project/sngrep/internal/config"
	"github.com/otus-project/sngrep/internal/engine"
	"github.com/otus-project/sngrep/internal/log"
	"github.com/otus-project/sngrep/internal/metrics"
	"github.com/otus-project/sngrep/internal/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture and analyze SIP traffic",
	Long: `Start capturing from the configured interface, capture file or HEP
listener, correlating SIP dialogs and tracking their RTP/RTCP streams
until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapture()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runCapture() error {
	if configFile == "" {
		return fmt.Errorf("no config file given (-c)")
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := log.New(log.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		Stdout:     cfg.Log.Stdout,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	entry := logger.WithField("component", "sngrep")

	var sender *hepio.Sender
	if len(cfg.HEP.Servers) > 0 {
		sender, err = hepio.NewSender(cfg.HEP.Servers, cfg.HEP.NodeName, cfg.HEP.AuthKey, 1)
		if err != nil {
			return fmt.Errorf("init hep sender: %w", err)
		}
		defer sender.Close()
	}

	eng, err := engine.New(engine.Config{
		HEPAuthKey: cfg.HEP.AuthKey,
		HEPSender:  sender,
		Log:        entry,
		Storage: storage.Config{
			MaxQueueSize: cfg.Storage.MaxQueueSize,
			CallLimit:    cfg.Capture.Limit,
			Rotate:       cfg.Storage.Rotate,
			MatchRegex:   cfg.Storage.Match,
			InvertMatch:  cfg.Storage.Invert,
			OnlyInvite:   cfg.Storage.OnlyInvite,
			OnlyComplete: cfg.Storage.OnlyComplete,
			MemoryLimit:  cfg.Capture.MemoryLimit,
			CaptureRTP:   cfg.Capture.RTP,
			CaptureMode:  cfg.Capture.Mode,
		},
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	if err := addInputs(eng, cfg); err != nil {
		return err
	}

	if cfg.Capture.Filter != "" {
		if err := eng.Capture().SetFilter(cfg.Capture.Filter); err != nil {
			return fmt.Errorf("set filter: %w", err)
		}
	}

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, entry)
		srv.Start()
		defer srv.Stop(context.Background())
	}

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		<-signals
		entry.Info("shutting down")
		cancel()
	}()

	entry.Info("sngrep starting")
	return eng.Run(ctx)
}

func addInputs(eng *engine.Engine, cfg *config.Config) error {
	switch {
	case cfg.Capture.Offline != "":
		in, err := pcapio.OpenOffline(cfg.Capture.Offline)
		if err != nil {
			return fmt.Errorf("open offline capture: %w", err)
		}
		eng.Capture().AddInput(in)
	case cfg.Capture.Interface != "":
		timeout := time.Duration(cfg.Capture.TimeoutMS) * time.Millisecond
		in, err := pcapio.OpenLive(cfg.Capture.Interface, cfg.Capture.SnapLen, cfg.Capture.Promisc, timeout)
		if err != nil {
			return fmt.Errorf("open live capture: %w", err)
		}
		eng.Capture().AddInput(in)
	}

	if cfg.HEP.ListenURL != "" {
		in, err := hepio.Listen(cfg.HEP.ListenURL)
		if err != nil {
			return fmt.Errorf("open hep listener: %w", err)
		}
		eng.Capture().AddInput(in)
	}

	return nil
}
