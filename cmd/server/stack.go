package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/internal/config"
	"github.com/thereceipt/pos-hardware/internal/device"
	"github.com/thereceipt/pos-hardware/internal/hardware"
	"github.com/thereceipt/pos-hardware/internal/journal"
	"github.com/thereceipt/pos-hardware/internal/netprobe"
	"github.com/thereceipt/pos-hardware/internal/prefs"
	"github.com/thereceipt/pos-hardware/internal/printer"
	"github.com/thereceipt/pos-hardware/internal/renderer"
	"github.com/thereceipt/pos-hardware/internal/scanner"
)

// stack is the wired orchestrator with the resources it owns
type stack struct {
	hw      *hardware.Orchestrator
	journal *journal.Journal
}

func buildStack(cfg config.Config) (*stack, error) {
	store, err := prefs.Open(cfg.PrefsPath)
	if err != nil {
		return nil, errors.Wrap(err, "open device preferences")
	}

	jrnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return nil, errors.Wrap(err, "open print journal")
	}
	if cfg.JournalRetention > 0 {
		pruned, err := jrnl.Prune(context.Background(), time.Now().Add(-cfg.JournalRetention))
		if err != nil {
			log.Warn().Err(err).Msg("journal prune failed")
		} else if pruned > 0 {
			log.Info().Int64("jobs", pruned).Msg("pruned old journal entries")
		}
	}

	rend, err := renderer.New(renderer.Options{CodePage: cfg.CodePage})
	if err != nil {
		jrnl.Close()
		return nil, errors.Wrap(err, "create renderer")
	}

	probe := netprobe.New()
	probe.Targets = cfg.ProbeTargets

	hw, err := hardware.New(hardware.Options{
		Registry: device.NewRegistry(device.USBEnumerator{}, device.NewHotplugSource()),
		Printers: printer.NewService(printer.Options{
			Policy:   cfg.DisconnectPolicy,
			Recorder: jrnl,
		}),
		Scanners:        scanner.NewService(scanner.Options{}),
		Prefs:           store,
		Renderer:        rend,
		Network:         probe,
		History:         jrnl,
		MonitorInterval: cfg.MonitorInterval,
		ScannerPrefix:   cfg.ScannerPrefix,
		ScannerSuffix:   cfg.ScannerSuffix,
		PreviewFont:     cfg.PreviewFont,
	})
	if err != nil {
		jrnl.Close()
		return nil, err
	}

	log.Info().
		Str("prefs", cfg.PrefsPath).
		Str("journal", jrnl.Path()).
		Str("policy", string(cfg.DisconnectPolicy)).
		Msg("hardware stack ready")
	return &stack{hw: hw, journal: jrnl}, nil
}

// close shuts the orchestrator down, waiting at most timeout for the queue
func (s *stack) close(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if res := s.hw.Shutdown(ctx); !res.Success {
		log.Warn().Str("error", res.Error).Msg("hardware shutdown incomplete")
	}
	if err := s.journal.Close(); err != nil {
		log.Warn().Err(err).Msg("journal close failed")
	}
}
