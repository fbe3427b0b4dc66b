package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/thereceipt/pos-hardware/internal/device"
	"github.com/thereceipt/pos-hardware/internal/escpos"
	"github.com/thereceipt/pos-hardware/internal/hardware"
	"github.com/thereceipt/pos-hardware/internal/printer"
	"github.com/thereceipt/pos-hardware/pkg/receiptformat"
)

// handleDevices handles device commands
// Usage: devices scan | list | type <type> | set-type <id> <type|auto> | protocol <id> <on|off>
func (e *Executor) handleDevices(ctx context.Context, args []string) *Result {
	if len(args) == 0 {
		return usage("devices <scan|list|type|set-type|protocol>")
	}

	switch args[0] {
	case "scan":
		res := e.hw.ScanAllDevices(ctx)
		if groups, ok := res.Data.(hardware.DeviceGroups); ok {
			return from(res, fmt.Sprintf("Found %d USB device(s), %d printer(s), %d scanner(s)",
				len(groups.USB), len(groups.Printers), len(groups.Scanners)))
		}
		return from(res, "")

	case "list":
		return listed(e.hw.GetDevices(), "device")

	case "type":
		if len(args) < 2 {
			return usage("devices type <type>")
		}
		return listed(e.hw.GetDevicesByType(args[1]), args[1])

	case "set-type":
		if len(args) < 3 {
			return usage("devices set-type <id> <type|auto>")
		}
		return from(e.hw.SetDeviceType(args[1], args[2]), fmt.Sprintf("Device %s set to %s", args[1], args[2]))

	case "protocol":
		if len(args) < 3 {
			return usage("devices protocol <id> <on|off>")
		}
		enabled, err := parseSwitch(args[2])
		if err != nil {
			return failure("%v", err)
		}
		return from(e.hw.SetProtocolMode(args[1], enabled), fmt.Sprintf("Protocol mode for %s: %s", args[1], args[2]))

	default:
		return failure("unknown devices subcommand: %s. Use: scan, list, type, set-type, protocol", args[0])
	}
}

// handlePrinter handles printer commands
// Usage: printer scan | connect ... | disconnect | status | active | test [id] [--plain]
func (e *Executor) handlePrinter(ctx context.Context, args []string) *Result {
	if len(args) == 0 {
		return usage("printer <scan|connect|disconnect|status|active|test>")
	}

	switch args[0] {
	case "scan":
		return listed(e.hw.PrinterScan(ctx), "printer")

	case "connect":
		cfg, err := parsePrinterConfig(args[1:])
		if err != nil {
			return failure("%v", err)
		}
		res := e.hw.PrinterConnect(ctx, cfg)
		if d, ok := res.Data.(device.Descriptor); ok {
			return from(res, fmt.Sprintf("Connected to %s", d.Name))
		}
		return from(res, "Connected")

	case "disconnect":
		return from(e.hw.PrinterDisconnect(ctx), "Printer disconnected")

	case "status":
		return from(e.hw.PrinterStatus(), "")

	case "active":
		res := e.hw.GetActivePrinter()
		if res.Success && res.Data == nil {
			return &Result{Success: true, Message: "No printer connected"}
		}
		return from(res, "")

	case "test":
		var id string
		var mode *bool
		for _, arg := range args[1:] {
			switch arg {
			case "--plain":
				off := false
				mode = &off
			case "--escpos":
				on := true
				mode = &on
			default:
				id = arg
			}
		}
		return queued(e.hw.TestPrinter(ctx, id, mode))

	default:
		return failure("unknown printer subcommand: %s. Use: scan, connect, disconnect, status, active, test", args[0])
	}
}

// parsePrinterConfig reads
//
//	<device-id> [baud]
//	usb <vid>:<pid>
//	serial <port> [baud]
//	network <host> [port]
func parsePrinterConfig(args []string) (printer.Config, error) {
	const text = "printer connect <device-id> [baud] | usb <vid>:<pid> | serial <port> [baud] | network <host> [port]"
	if len(args) == 0 {
		return printer.Config{}, fmt.Errorf("usage: %s", text)
	}

	kind, err := printer.ParseKind(args[0])
	if err != nil {
		// a bare device id
		cfg := printer.Config{DeviceID: args[0]}
		if len(args) > 1 {
			if cfg.BaudRate, err = strconv.Atoi(args[1]); err != nil {
				return cfg, fmt.Errorf("invalid baud rate: %s", args[1])
			}
		}
		return cfg, nil
	}
	if len(args) < 2 {
		return printer.Config{}, fmt.Errorf("usage: %s", text)
	}

	cfg := printer.Config{Kind: kind}
	switch kind {
	case printer.KindUSB:
		vid, pid, err := parseVIDPID(args[1])
		if err != nil {
			return cfg, err
		}
		cfg.VendorID, cfg.ProductID = vid, pid
	case printer.KindSerial:
		cfg.Port = args[1]
		if len(args) > 2 {
			if cfg.BaudRate, err = strconv.Atoi(args[2]); err != nil {
				return cfg, fmt.Errorf("invalid baud rate: %s", args[2])
			}
		}
	case printer.KindNetwork:
		cfg.Host = args[1]
		cfg.NetPort = 9100
		if len(args) > 2 {
			if cfg.NetPort, err = strconv.Atoi(args[2]); err != nil {
				return cfg, fmt.Errorf("invalid port: %s", args[2])
			}
		}
	}
	return cfg, nil
}

// parseVIDPID reads hex "04b8:0202"
func parseVIDPID(s string) (uint16, uint16, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected <vid>:<pid>, got %q", s)
	}
	vid, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vendor id %q", parts[0])
	}
	pid, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid product id %q", parts[1])
	}
	return uint16(vid), uint16(pid), nil
}

// handlePrint handles print commands
// Usage: print text <text> | file <path> | template <template> [data] [business]
func (e *Executor) handlePrint(args []string) *Result {
	if len(args) < 2 {
		return usage("print <text|file|template> ...")
	}

	switch args[0] {
	case "text":
		payload := escpos.New().
			Init().
			Line(strings.Join(args[1:], " ")).
			Feed(3).
			Cut(escpos.CutFull).
			Build()
		return queued(e.hw.Print(payload))

	case "file":
		payload, err := os.ReadFile(args[1])
		if err != nil {
			return failure("failed to read print file: %v", err)
		}
		return queued(e.hw.Print(payload))

	case "template":
		tmpl, err := receiptformat.ParseFile(args[1])
		if err != nil {
			return failure("failed to load template: %v", err)
		}
		var data receiptformat.Data
		if len(args) > 2 {
			if err := readJSON(args[2], &data); err != nil {
				return failure("failed to load data: %v", err)
			}
		}
		var business receiptformat.BusinessInfo
		if len(args) > 3 {
			if err := readJSON(args[3], &business); err != nil {
				return failure("failed to load business info: %v", err)
			}
		}
		return queued(e.hw.PrintTemplate(tmpl, data, business))

	default:
		return failure("unknown print subcommand: %s. Use: text, file, template", args[0])
	}
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// handleJob handles job commands
// Usage: job list | status <id> | clear | history [limit]
func (e *Executor) handleJob(ctx context.Context, args []string) *Result {
	if len(args) == 0 {
		return usage("job <list|status|clear|history>")
	}

	switch args[0] {
	case "list":
		res := e.hw.Jobs()
		if jobs, ok := res.Data.([]printer.Job); ok {
			return from(res, fmt.Sprintf("Found %d job(s)", len(jobs)))
		}
		return from(res, "")

	case "status":
		if len(args) < 2 {
			return usage("job status <id>")
		}
		return from(e.hw.Job(args[1]), "")

	case "clear":
		return from(e.hw.ClearCompletedJobs(), "Cleared completed jobs")

	case "history":
		limit := 20
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return failure("invalid limit: %s", args[1])
			}
			limit = n
		}
		return from(e.hw.JobHistory(ctx, limit), "")

	default:
		return failure("unknown job subcommand: %s. Use: list, status, clear, history", args[0])
	}
}

// handleScanner handles scanner commands
// Usage: scanner scan | connect <device-id|bus:address|vid:pid> | disconnect | test | active
func (e *Executor) handleScanner(ctx context.Context, args []string) *Result {
	if len(args) == 0 {
		return usage("scanner <scan|connect|disconnect|test|active>")
	}

	switch args[0] {
	case "scan":
		return listed(e.hw.ScannerScan(ctx), "scanner")

	case "connect":
		if len(args) < 2 {
			return usage("scanner connect <device-id|bus:address|vid:pid>")
		}
		var cfg hardware.ScannerConfig
		target := args[1]
		switch {
		case strings.HasPrefix(target, "usb-"):
			cfg.DeviceID = target
		case isUSBPath(target):
			cfg.Path = target
		default:
			vid, pid, err := parseVIDPID(target)
			if err != nil {
				return failure("%v", err)
			}
			cfg.VendorID, cfg.ProductID = vid, pid
		}
		return from(e.hw.ScannerConnect(ctx, cfg), "Scanner connected")

	case "disconnect":
		return from(e.hw.ScannerDisconnect(), "Scanner disconnected")

	case "test":
		res := e.hw.TestScanner()
		if ready, ok := res.Data.(bool); ok && ready {
			return from(res, "Scanner ready")
		}
		return from(res, "No scanner connected")

	case "active":
		res := e.hw.GetActiveScanner()
		if res.Success && res.Data == nil {
			return &Result{Success: true, Message: "No scanner connected"}
		}
		return from(res, "")

	default:
		return failure("unknown scanner subcommand: %s. Use: scan, connect, disconnect, test, active", args[0])
	}
}

// isUSBPath matches the decimal bus:address form
func isUSBPath(s string) bool {
	_, _, err := device.ParseUSBPath(s)
	return err == nil && len(s) == 7 && s[3] == ':'
}

func listed(res hardware.Result, noun string) *Result {
	if ds, ok := res.Data.([]device.Descriptor); ok {
		return from(res, fmt.Sprintf("Found %d %s(s)", len(ds), noun))
	}
	return from(res, "")
}

func queued(res hardware.Result) *Result {
	if job, ok := res.Data.(printer.Job); ok {
		return from(res, fmt.Sprintf("Print job queued: %s", job.ID))
	}
	return from(res, "")
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

// handleHelp handles help command
func (e *Executor) handleHelp() *Result {
	helpText := `Available Commands:

  devices scan
    Rescan USB and list printers and scanners
  devices list | devices type <type>
    List the device snapshot, optionally by type
  devices set-type <id> <type|auto>
    Force a device type, or return it to automatic classification
  devices protocol <id> <on|off>
    Mark a printer as ESC/POS capable

  printer scan
    List printers that can be connected
  printer connect <device-id> [baud]
  printer connect usb <vid>:<pid>
  printer connect serial <port> [baud]
  printer connect network <host> [port]
    Connect the receipt printer
  printer disconnect | status | active
  printer test [device-id] [--plain|--escpos]
    Print a test page

  print text <text>
  print file <path>
  print template <template.json> [data.json] [business.json]

  job list | status <id> | clear | history [limit]

  scanner scan
  scanner connect <device-id|bus:address|vid:pid>
  scanner disconnect | test | active

  network
    Check network reachability

Examples:
  printer connect usb 04b8:0202
  printer connect serial /dev/ttyUSB0 19200
  devices set-type usb-1a86-7584-1-5 printer
  print text "Hello World"
  scanner connect 001:007
`

	return &Result{
		Success: true,
		Message: helpText,
	}
}
