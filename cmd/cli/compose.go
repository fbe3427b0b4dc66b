package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/thereceipt/pos-hardware/internal/escpos"
	"github.com/thereceipt/pos-hardware/internal/renderer"
)

// maxTextSize is the largest GS ! magnification
const maxTextSize = 8

// composeCommand is one compose argument with its trailing properties
type composeCommand struct {
	kind  string
	value string
	props map[string]string
}

// parseCompose groups arguments into commands. Each command starts with a
// known type (text:, feed:, cut...) and may be followed by name:value
// properties.
func parseCompose(args []string) ([]composeCommand, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no compose arguments provided")
	}

	var commands []composeCommand
	for _, arg := range args {
		if isCommandStart(arg) {
			kind, value, _ := strings.Cut(arg, ":")
			commands = append(commands, composeCommand{
				kind:  kind,
				value: strings.Trim(value, `"'`),
				props: map[string]string{},
			})
			continue
		}
		if len(commands) == 0 {
			return nil, fmt.Errorf("unexpected argument '%s' (expected command start)", arg)
		}
		name, value, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, fmt.Errorf("property must be in format 'name:value', got: %s", arg)
		}
		commands[len(commands)-1].props[name] = strings.Trim(value, `"'`)
	}
	return commands, nil
}

// isCommandStart checks if an argument starts a new command
func isCommandStart(arg string) bool {
	knownCommands := []string{"text:", "feed:", "align:", "cut", "divider", "barcode:", "qrcode:", "drawer"}
	for _, cmd := range knownCommands {
		if strings.HasPrefix(arg, cmd) || arg == strings.TrimSuffix(cmd, ":") {
			return true
		}
	}
	return false
}

// encodeCompose turns compose commands into an ESC/POS stream
func encodeCompose(commands []composeCommand) ([]byte, error) {
	enc := escpos.New().Init()

	for _, c := range commands {
		if align, ok := c.props["align"]; ok {
			enc.Align(escpos.ParseAlignment(align))
		}

		switch c.kind {
		case "text":
			size := atoiDefault(c.props["size"], 1)
			if size > maxTextSize {
				size = maxTextSize
			}
			bold := c.props["bold"] == "true"
			enc.Size(size, size).Bold(bold).Line(c.value)
			if size != 1 || bold {
				enc.Size(1, 1).Bold(false)
			}
		case "feed":
			lines, err := strconv.Atoi(c.value)
			if err != nil {
				return nil, fmt.Errorf("invalid feed lines value: %s", c.value)
			}
			enc.Feed(lines)
		case "align":
			enc.Align(escpos.ParseAlignment(c.value))
		case "divider":
			enc.Line(strings.Repeat("-", atoiDefault(c.props["width"], 48)))
		case "barcode":
			t, err := renderer.ValidateBarcode(c.value, c.props["format"])
			if err != nil {
				return nil, fmt.Errorf("invalid barcode: %v", err)
			}
			data := c.value
			if t == escpos.BarcodeCODE128 {
				data = renderer.Code128Payload(data)
			}
			enc.Barcode(data, t)
		case "qrcode":
			if err := renderer.ValidateQRCode(c.value); err != nil {
				return nil, fmt.Errorf("invalid qrcode: %v", err)
			}
			enc.QRCode(c.value, renderer.ClampQRSize(atoiDefault(c.props["size"], 0)))
		case "cut":
			if c.value == "partial" {
				enc.Cut(escpos.CutPartial)
			} else {
				enc.Cut(escpos.CutFull)
			}
		case "drawer":
			enc.OpenDrawer()
		}
	}
	return enc.Build(), nil
}

func atoiDefault(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return fallback
}

// createComposedReceipt writes the composed stream to a temporary file
func createComposedReceipt(args []string) (string, error) {
	commands, err := parseCompose(args)
	if err != nil {
		return "", err
	}
	payload, err := encodeCompose(commands)
	if err != nil {
		return "", err
	}

	tmpFile, err := os.CreateTemp("", "pos-composed-*.bin")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %v", err)
	}
	defer tmpFile.Close()

	if _, err := tmpFile.Write(payload); err != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("failed to write receipt: %v", err)
	}
	return tmpFile.Name(), nil
}
