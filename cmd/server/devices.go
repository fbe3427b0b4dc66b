package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/thereceipt/pos-hardware/internal/hardware"
	"github.com/thereceipt/pos-hardware/internal/printer"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func resultErr(op string, res hardware.Result) error {
	if res.Success {
		return nil
	}
	return errors.Errorf("%s failed (%s): %s", op, res.ErrorKind, res.Error)
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Scan once and print USB devices, printers and scanners",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.MonitorInterval = 0

			st, err := buildStack(cfg)
			if err != nil {
				return err
			}
			defer st.close(5 * time.Second)

			res := st.hw.ScanAllDevices(cmd.Context())
			if err := resultErr("scan", res); err != nil {
				return err
			}
			return printJSON(res.Data)
		},
	}
}

func newTestPrintCmd() *cobra.Command {
	var (
		flagDevice string
		flagHost   string
		flagPort   string
		flagBaud   int
		flagPlain  bool
		flagWait   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "test-print",
		Short: "Connect a printer and print the test page",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.MonitorInterval = 0

			st, err := buildStack(cfg)
			if err != nil {
				return err
			}
			defer st.close(flagWait)

			ctx := cmd.Context()
			if res := st.hw.ScanAllDevices(ctx); !res.Success {
				log.Warn().Str("error", res.Error).Msg("device scan failed")
			}

			pc := printer.Config{DeviceID: flagDevice, BaudRate: flagBaud}
			switch {
			case flagHost != "":
				pc = printer.Config{Kind: printer.KindNetwork, Host: flagHost}
			case flagPort != "":
				pc = printer.Config{Kind: printer.KindSerial, Port: flagPort, BaudRate: flagBaud}
			case flagDevice == "":
				return errors.New("--device, --host or --port is required")
			}

			if err := resultErr("connect", st.hw.PrinterConnect(ctx, pc)); err != nil {
				return err
			}

			protocol := !flagPlain
			res := st.hw.TestPrinter(ctx, "", &protocol)
			if err := resultErr("test print", res); err != nil {
				return err
			}
			job, _ := res.Data.(printer.Job)
			return waitForJob(ctx, st.hw, job.ID, flagWait)
		},
	}

	cmd.Flags().StringVar(&flagDevice, "device", "", "Device id from the devices command")
	cmd.Flags().StringVar(&flagHost, "host", "", "Network printer host")
	cmd.Flags().StringVar(&flagPort, "port", "", "Serial port path")
	cmd.Flags().IntVar(&flagBaud, "baud", 0, "Serial baud rate")
	cmd.Flags().BoolVar(&flagPlain, "plain", false, "Send plain text instead of ESC/POS")
	cmd.Flags().DurationVar(&flagWait, "wait", 30*time.Second, "How long to wait for the job to finish")

	return cmd
}

func waitForJob(ctx context.Context, hw *hardware.Orchestrator, id string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		res := hw.Job(id)
		if job, ok := res.Data.(printer.Job); ok && job.Done() {
			if job.Status == printer.JobFailed {
				return errors.Errorf("job %s failed: %s", id, job.Error)
			}
			log.Info().Str("job", id).Msg("test page printed")
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Errorf("job %s did not finish in %s", id, timeout)
		case <-ticker.C:
		}
	}
}

func newJournalCmd() *cobra.Command {
	var flagLimit int

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print job counts and the most recent journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.JournalRetention = 0

			st, err := buildStack(cfg)
			if err != nil {
				return err
			}
			defer st.close(time.Second)

			counts, err := st.journal.Counts(cmd.Context())
			if err != nil {
				return err
			}
			res := st.hw.JobHistory(cmd.Context(), flagLimit)
			if err := resultErr("history", res); err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"counts": counts,
				"recent": res.Data,
			})
		},
	}

	cmd.Flags().IntVar(&flagLimit, "limit", 20, "Number of entries to print")

	return cmd
}
