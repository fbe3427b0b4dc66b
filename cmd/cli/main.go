package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	defaultServerURL = "http://localhost:12212"
)

var flagServer string

var rootCmd = &cobra.Command{
	Use:   "pos-cli [flags] <command>",
	Short: "Send console commands to a running pos-hardware bridge",
	Long: `pos-cli forwards its arguments to the bridge's /command endpoint.

Examples:
  pos-cli devices scan
  pos-cli devices set-type usb-04b8-0202-1-4 printer
  pos-cli printer connect usb-04b8-0202-1-4
  pos-cli printer connect network 192.168.1.100 9100
  pos-cli print text "Hello"
  pos-cli print --compose text:"Title" size:2 align:center feed:1 cut
  pos-cli job list
  pos-cli -s http://localhost:8080 scanner active

Run "pos-cli help" for the server side command list.`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

var flagCompose bool

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()

	rootCmd.Flags().StringVarP(&flagServer, "server", "s", defaultServerURL, "Server URL")
	rootCmd.Flags().BoolVar(&flagCompose, "compose", false, "Compose ESC/POS from the arguments after print")
	// commands carry their own flags, e.g. printer test --plain
	rootCmd.Flags().SetInterspersed(false)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	args, compose := extractCompose(args)
	if flagCompose {
		compose = true
	}

	var command string
	if compose {
		if len(args) == 0 || args[0] != "print" {
			return fmt.Errorf("--compose only applies to print")
		}
		tempFile, err := createComposedReceipt(args[1:])
		if err != nil {
			return fmt.Errorf("creating composed receipt: %w", err)
		}
		defer os.Remove(tempFile)
		command = "print file " + quote(tempFile)
	} else {
		command = joinArgs(args)
	}

	result := executeCommand(flagServer, command)
	if !result.Success {
		printError(result)
		os.Exit(1)
	}
	printSuccess(result)
	return nil
}

// extractCompose drops a --compose found after the command words
func extractCompose(args []string) ([]string, bool) {
	for i, arg := range args {
		if arg == "--compose" {
			return append(append([]string{}, args[:i]...), args[i+1:]...), true
		}
	}
	return args, false
}

// joinArgs quotes arguments containing spaces so the server splits them back
func joinArgs(args []string) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		if arg == "" || strings.ContainsAny(arg, " \t") {
			parts[i] = quote(arg)
		} else {
			parts[i] = arg
		}
	}
	return strings.Join(parts, " ")
}

// quote wraps s in the quote character it does not contain
func quote(s string) string {
	if strings.Contains(s, `"`) {
		return "'" + s + "'"
	}
	return `"` + s + `"`
}

// CommandResult mirrors the server's command result
type CommandResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func executeCommand(serverURL, command string) *CommandResult {
	url := strings.TrimSuffix(serverURL, "/") + "/command"

	jsonData, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return &CommandResult{Error: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Post(url, "application/json", strings.NewReader(string(jsonData)))
	if err != nil {
		return &CommandResult{Error: fmt.Sprintf("failed to connect to server: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &CommandResult{Error: fmt.Sprintf("failed to read response: %v", err)}
	}

	var result CommandResult
	if err := json.Unmarshal(body, &result); err != nil {
		return &CommandResult{Error: fmt.Sprintf("failed to parse response: %v", err)}
	}
	log.Debug().Str("command", command).Int("status", resp.StatusCode).Msg("command executed")

	return &result
}

func printSuccess(result *CommandResult) {
	if result.Message != "" {
		fmt.Println(result.Message)
	}
	if len(result.Data) == 0 || string(result.Data) == "null" {
		return
	}

	var devices []map[string]interface{}
	if err := json.Unmarshal(result.Data, &devices); err == nil && len(devices) > 0 && devices[0]["type"] != nil {
		for _, d := range devices {
			fmt.Printf("  %s: %s (%s, %s)\n", d["id"], d["name"], d["type"], d["connection"])
		}
		return
	}

	var pretty interface{}
	if err := json.Unmarshal(result.Data, &pretty); err != nil {
		fmt.Println(string(result.Data))
		return
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
}

func printError(result *CommandResult) {
	if result.Error != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", result.Error)
	} else if result.Message != "" {
		fmt.Fprintf(os.Stderr, "%s\n", result.Message)
	}
}
