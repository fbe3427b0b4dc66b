package renderer

import (
	"strings"
)

type dividerStyle string

const (
	dividerSolid  dividerStyle = "solid"
	dividerDashed dividerStyle = "dashed"
	dividerDouble dividerStyle = "double"
)

func (w *receiptWriter) divider(style dividerStyle) {
	var char string
	switch style {
	case dividerDouble:
		char = "="
	case dividerDashed:
		char = "- "
	default:
		char = "-"
	}

	line := strings.Repeat(char, w.columns/len(char))
	w.line(line)
}
