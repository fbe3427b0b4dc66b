package preview

import (
	"image"
	"image/color"
	"os"

	"github.com/fogleman/gg"
	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/pkg/receiptformat"
)

// Monospaced faces first so columns line up the way they do on paper
var fontPaths = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSansMono.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationMono-Regular.ttf",
	"/System/Library/Fonts/Menlo.ttc",
	"/System/Library/Fonts/Supplemental/Courier New.ttf",
	"C:\\Windows\\Fonts\\consola.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/System/Library/Fonts/Supplemental/Arial.ttf",
	"C:\\Windows\\Fonts\\arial.ttf",
}

const (
	margin      = 8.0
	lineSpacing = 4.0
)

type canvas struct {
	width  int
	height int
	ctx    *gg.Context
	y      float64

	fontPath string
	fontSize float64
	lineH    float64
}

func newCanvas(paper receiptformat.PaperSize, fontPath string) *canvas {
	width := paperWidthToPixels(paper)
	columns := paper.Columns()

	// Start with a reasonable height, grown as needed
	initialHeight := 1000

	ctx := gg.NewContext(width, initialHeight)
	ctx.SetColor(color.White)
	ctx.Clear()
	ctx.SetColor(color.Black)

	c := &canvas{
		width:  width,
		height: initialHeight,
		ctx:    ctx,
	}

	// A monospaced glyph is roughly 0.6 of the font size wide
	c.fontSize = (float64(width) - 2*margin) / float64(columns) / 0.6
	c.fontPath = resolveFont(fontPath)
	c.loadFont()

	_, c.lineH = ctx.MeasureString("M")
	if c.lineH == 0 {
		c.lineH = 13
	}
	return c
}

func resolveFont(preferred string) string {
	if preferred != "" {
		if _, err := os.Stat(preferred); err == nil {
			return preferred
		}
		log.Warn().Str("font", preferred).Msg("preview font not found, falling back to system fonts")
	}
	for _, path := range fontPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	// gg falls back to its built-in bitmap face
	return ""
}

func (c *canvas) loadFont() {
	if c.fontPath == "" {
		return
	}
	if err := c.ctx.LoadFontFace(c.fontPath, c.fontSize); err != nil {
		log.Debug().Err(err).Str("font", c.fontPath).Msg("failed to load preview font")
		c.fontPath = ""
	}
}

func (c *canvas) ensureHeight(neededHeight int) {
	if int(c.y)+neededHeight <= c.height {
		return
	}

	newHeight := c.height * 2
	if newHeight < int(c.y)+neededHeight {
		newHeight = int(c.y) + neededHeight + 1000
	}

	newCtx := gg.NewContext(c.width, newHeight)
	newCtx.SetColor(color.White)
	newCtx.Clear()
	newCtx.DrawImage(c.ctx.Image(), 0, 0)
	newCtx.SetColor(color.Black)
	if c.fontPath != "" {
		if err := newCtx.LoadFontFace(c.fontPath, c.fontSize); err != nil {
			log.Debug().Err(err).Msg("failed to reload preview font")
		}
	}

	c.ctx = newCtx
	c.height = newHeight
}

func (c *canvas) cropToContent() image.Image {
	finalHeight := int(c.y) + int(margin)
	if finalHeight > c.height {
		finalHeight = c.height
	}

	img := c.ctx.Image()
	return img.(interface {
		SubImage(r image.Rectangle) image.Image
	}).SubImage(image.Rect(0, 0, c.width, finalHeight))
}

// paperWidthToPixels uses 203 dpi print heads
func paperWidthToPixels(paper receiptformat.PaperSize) int {
	switch paper {
	case receiptformat.Paper58mm:
		return 384
	case receiptformat.Paper110mm:
		return 832
	case receiptformat.PaperA4, receiptformat.PaperLetter:
		return 1024
	default:
		return 576
	}
}

func (c *canvas) alignX(a byte, contentWidth float64) float64 {
	switch a {
	case 1:
		return (float64(c.width) - contentWidth) / 2
	case 2:
		return float64(c.width) - contentWidth - margin
	default:
		return margin
	}
}

func (c *canvas) drawLine(l textLine) {
	if len(l.segments) == 0 {
		c.ensureHeight(int(c.lineH + lineSpacing))
		c.y += c.lineH + lineSpacing
		return
	}

	var total float64
	height := 1
	for _, s := range l.segments {
		w, _ := c.ctx.MeasureString(s.text)
		total += w * float64(s.style.width)
		if s.style.height > height {
			height = s.style.height
		}
	}

	lineH := c.lineH * float64(height)
	c.ensureHeight(int(lineH + lineSpacing))
	baseline := c.y + lineH

	x := c.alignX(byte(l.align), total)
	for _, s := range l.segments {
		w := c.drawSegment(s, x, baseline)
		x += w
	}
	c.y += lineH + lineSpacing
}

func (c *canvas) drawSegment(s segment, x, baseline float64) float64 {
	sw, sh := float64(s.style.width), float64(s.style.height)
	w, _ := c.ctx.MeasureString(s.text)

	c.ctx.Push()
	c.ctx.Translate(x, baseline)
	c.ctx.Scale(sw, sh)
	c.ctx.DrawString(s.text, 0, 0)
	if s.style.bold {
		c.ctx.DrawString(s.text, 0.8/sw, 0)
	}
	c.ctx.Pop()

	if s.style.underline > 0 {
		c.ctx.SetLineWidth(float64(s.style.underline))
		c.ctx.DrawLine(x, baseline+2, x+w*sw, baseline+2)
		c.ctx.Stroke()
	}
	return w * sw
}

// drawDivider follows the dashed and dotted styles of receipt dividers
func (c *canvas) drawDivider(dotted bool) {
	c.ensureHeight(20)

	y := c.y + 10
	x1 := margin
	x2 := float64(c.width) - margin

	c.ctx.SetLineWidth(2)
	if dotted {
		for x := x1; x < x2; x += 8 {
			c.ctx.DrawCircle(x, y, 1)
			c.ctx.Fill()
		}
	} else {
		dashLength, gapLength := 10.0, 5.0
		for x := x1; x < x2; x += dashLength + gapLength {
			endX := x + dashLength
			if endX > x2 {
				endX = x2
			}
			c.ctx.DrawLine(x, y, endX, y)
			c.ctx.Stroke()
		}
	}
	c.y += 20
}

func (c *canvas) drawNote(text string) {
	w, h := c.ctx.MeasureString(text)
	c.ensureHeight(int(h + lineSpacing))
	c.ctx.DrawString(text, (float64(c.width)-w)/2, c.y+h)
	c.y += h + lineSpacing
}
