package renderer

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

type codePage struct {
	name    string
	table   byte // ESC t n
	charmap *charmap.Charmap
}

var codePages = map[string]codePage{
	"cp437":  {"cp437", 0, charmap.CodePage437},
	"cp850":  {"cp850", 2, charmap.CodePage850},
	"cp858":  {"cp858", 19, charmap.CodePage858},
	"cp866":  {"cp866", 17, charmap.CodePage866},
	"cp1252": {"cp1252", 16, charmap.Windows1252},
}

// CodePages lists the accepted code page names
func CodePages() []string {
	return []string{"cp437", "cp850", "cp858", "cp866", "cp1252"}
}

func lookupCodePage(name string) (*codePage, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "utf8" || name == "utf-8" {
		return nil, nil
	}
	cp, ok := codePages[name]
	if !ok {
		return nil, errors.Errorf("unknown code page %q (supported: %s)", name, strings.Join(CodePages(), ", "))
	}
	return &cp, nil
}

// encode transcodes s, replacing characters the table lacks
func (c *codePage) encode(s string) string {
	enc := encoding.ReplaceUnsupported(c.charmap.NewEncoder())
	out, err := enc.String(s)
	if err != nil {
		return s
	}
	return out
}
