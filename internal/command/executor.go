// Package command is a small text console over the hardware orchestrator
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/thereceipt/pos-hardware/internal/hardware"
	"github.com/thereceipt/pos-hardware/internal/printer"
	"github.com/thereceipt/pos-hardware/pkg/receiptformat"
)

// Hardware is the part of the orchestrator the console drives
type Hardware interface {
	ScanAllDevices(ctx context.Context) hardware.Result
	GetDevices() hardware.Result
	GetDevicesByType(typ string) hardware.Result
	SetDeviceType(id, typ string) hardware.Result
	SetProtocolMode(id string, enabled bool) hardware.Result

	PrinterScan(ctx context.Context) hardware.Result
	PrinterConnect(ctx context.Context, cfg printer.Config) hardware.Result
	PrinterDisconnect(ctx context.Context) hardware.Result
	Print(payload []byte) hardware.Result
	PrintTemplate(tmpl *receiptformat.Template, data receiptformat.Data, business receiptformat.BusinessInfo) hardware.Result
	TestPrinter(ctx context.Context, id string, useProtocol *bool) hardware.Result
	PrinterStatus() hardware.Result
	GetActivePrinter() hardware.Result

	Jobs() hardware.Result
	Job(id string) hardware.Result
	ClearCompletedJobs() hardware.Result
	JobHistory(ctx context.Context, limit int) hardware.Result

	ScannerScan(ctx context.Context) hardware.Result
	ScannerConnect(ctx context.Context, cfg hardware.ScannerConfig) hardware.Result
	ScannerDisconnect() hardware.Result
	TestScanner() hardware.Result
	GetActiveScanner() hardware.Result

	NetworkStatus(ctx context.Context) hardware.Result
}

// Executor executes commands
type Executor struct {
	hw Hardware
}

// NewExecutor creates a new command executor
func NewExecutor(hw Hardware) *Executor {
	return &Executor{hw: hw}
}

// Result represents the result of executing a command
type Result struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func usage(text string) *Result {
	return &Result{Error: "usage: " + text}
}

func failure(format string, args ...interface{}) *Result {
	return &Result{Error: fmt.Sprintf(format, args...)}
}

// from converts an orchestrator result, attaching message on success
func from(res hardware.Result, message string) *Result {
	if !res.Success {
		return &Result{Error: res.Error}
	}
	return &Result{Success: true, Message: message, Data: res.Data}
}

// Execute executes a command string and returns a result
func (e *Executor) Execute(ctx context.Context, cmdStr string) *Result {
	parts := parseCommand(cmdStr)
	if len(parts) == 0 {
		return failure("empty command")
	}

	command := parts[0]
	args := parts[1:]

	switch command {
	case "devices":
		return e.handleDevices(ctx, args)
	case "printer":
		return e.handlePrinter(ctx, args)
	case "print":
		return e.handlePrint(args)
	case "job":
		return e.handleJob(ctx, args)
	case "scanner":
		return e.handleScanner(ctx, args)
	case "network":
		return from(e.hw.NetworkStatus(ctx), "")
	case "help":
		return e.handleHelp()
	default:
		return failure("unknown command: %s. Type 'help' for available commands", command)
	}
}

// parseCommand splits on spaces, keeping single- or double-quoted strings whole
func parseCommand(cmdStr string) []string {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return nil
	}

	var parts []string
	var current strings.Builder
	inQuotes := false
	quoted := false
	quoteChar := byte(0)

	for i := 0; i < len(cmdStr); i++ {
		char := cmdStr[i]

		switch {
		case (char == '"' || char == '\'') && !inQuotes:
			inQuotes = true
			quoted = true
			quoteChar = char
		case inQuotes && char == quoteChar:
			inQuotes = false
			quoteChar = 0
		case char == ' ' && !inQuotes:
			if current.Len() > 0 || quoted {
				parts = append(parts, current.String())
				current.Reset()
				quoted = false
			}
		default:
			current.WriteByte(char)
		}
	}

	if current.Len() > 0 || quoted {
		parts = append(parts, current.String())
	}

	return parts
}
