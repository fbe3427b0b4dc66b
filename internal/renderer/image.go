package renderer

import (
	"github.com/rs/zerolog/log"
)

// renderLogo is the hook point for raster logos. Nothing is printed yet.
func (w *receiptWriter) renderLogo(path string) {
	log.Warn().Str("logo", path).Msg("logo rendering not implemented, skipping")
}
