package main

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/thereceipt/pos-hardware/internal/escpos"
)

func TestParseCompose(t *testing.T) {
	commands, err := parseCompose([]string{`text:"Title"`, "size:2", "align:center", "feed:1", "cut"})
	if err != nil {
		t.Fatalf("parseCompose() error = %v", err)
	}
	if len(commands) != 3 {
		t.Fatalf("Expected 3 commands, got %d", len(commands))
	}
	if commands[0].kind != "text" || commands[0].value != "Title" {
		t.Errorf("Unexpected first command %+v", commands[0])
	}
	if commands[0].props["size"] != "2" || commands[0].props["align"] != "center" {
		t.Errorf("Expected size and align properties, got %v", commands[0].props)
	}
	if commands[2].kind != "cut" {
		t.Errorf("Expected cut, got %s", commands[2].kind)
	}
}

func TestParseComposeErrors(t *testing.T) {
	if _, err := parseCompose(nil); err == nil {
		t.Error("Expected error for empty compose")
	}
	if _, err := parseCompose([]string{"size:2"}); err == nil {
		t.Error("Expected error for property without command")
	}
	if _, err := parseCompose([]string{"text:hi", "bold"}); err == nil {
		t.Error("Expected error for malformed property")
	}
}

func TestEncodeCompose(t *testing.T) {
	commands, err := parseCompose([]string{"text:Hello", "feed:2", "cut:partial"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := encodeCompose(commands)
	if err != nil {
		t.Fatalf("encodeCompose() error = %v", err)
	}

	want := escpos.New().Init().Size(1, 1).Bold(false).Line("Hello").Feed(2).Cut(escpos.CutPartial).Build()
	if !bytes.Equal(got, want) {
		t.Errorf("encodeCompose() = %q, want %q", got, want)
	}

	if _, err := encodeCompose([]composeCommand{{kind: "feed", value: "x"}}); err == nil {
		t.Error("Expected error for bad feed value")
	}
}

func TestEncodeComposeCodes(t *testing.T) {
	commands, err := parseCompose([]string{"text:Big", "size:12", "barcode:{42}", "qrcode:hello", "size:99"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := encodeCompose(commands)
	if err != nil {
		t.Fatalf("encodeCompose() error = %v", err)
	}

	want := escpos.New().Init().
		Size(8, 8).Bold(false).Line("Big").Size(1, 1).Bold(false).
		Barcode("{B{{42}", escpos.BarcodeCODE128).
		QRCode("hello", 16).
		Build()
	if !bytes.Equal(got, want) {
		t.Errorf("encodeCompose() = %q, want %q", got, want)
	}

	commands = []composeCommand{{kind: "barcode", value: "123", props: map[string]string{"format": "EAN13"}}}
	if _, err := encodeCompose(commands); err == nil {
		t.Error("Expected error for invalid EAN13 barcode")
	}
	commands = []composeCommand{{kind: "barcode", value: strings.Repeat("A", 300), props: map[string]string{"format": "CODE39"}}}
	if _, err := encodeCompose(commands); err == nil {
		t.Error("Expected error for oversized barcode")
	}
}

func TestCreateComposedReceipt(t *testing.T) {
	path, err := createComposedReceipt([]string{"text:Hi", "cut"})
	if err != nil {
		t.Fatalf("createComposedReceipt() error = %v", err)
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte{escpos.ESC, '@'}) {
		t.Errorf("Expected stream to start with ESC @, got %q", data[:2])
	}
}

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"job", "list"}, "job list"},
		{[]string{"print", "text", "hello world"}, `print text "hello world"`},
		{[]string{"print", "text", `say "hi" now`}, `print text 'say "hi" now'`},
		{[]string{"devices", "set-type", "id", ""}, `devices set-type id ""`},
	}
	for _, tt := range tests {
		if got := joinArgs(tt.args); got != tt.want {
			t.Errorf("joinArgs(%v) = %s, want %s", tt.args, got, tt.want)
		}
	}
}

func TestExtractCompose(t *testing.T) {
	args, ok := extractCompose([]string{"print", "--compose", "text:hi"})
	if !ok || len(args) != 2 || args[1] != "text:hi" {
		t.Errorf("extractCompose() = %v, %v", args, ok)
	}
	if _, ok := extractCompose([]string{"job", "list"}); ok {
		t.Error("Expected no compose flag")
	}
}
