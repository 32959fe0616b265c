// Package silhouette paints a camera frame as a grid of colored words whose
// visibility follows the brightness threshold, with optional contour and glitch
// passes.
package silhouette

import (
	"math"
	"math/rand"

	"github.com/bryanchriswhite/MirrorRoom/internal/settings"
)

// glyphAspect is the advance width of one monospace glyph relative to its size.
const glyphAspect = 0.6

// glyphsPerCell is the nominal word length a cell is sized for at 100% density.
const glyphsPerCell = 4

// Cell is one grid position. Word and Color are assigned when the grid is built
// and never change until it is rebuilt.
type Cell struct {
	Row   int          `json:"row"`
	Col   int          `json:"col"`
	Word  int          `json:"word"`
	Color settings.RGB `json:"color"`
}

// Grid is the persistent word layout for one output size.
type Grid struct {
	Cols  int     `json:"cols"`
	Rows  int     `json:"rows"`
	CellW float64 `json:"cell_w"`
	CellH float64 `json:"cell_h"`
	Words []string
	Cells []Cell
}

// CellSize derives the cell dimensions from the font size and text density.
// Higher density packs more, smaller cells.
func CellSize(fontSize, textDensity int) (w, h float64) {
	if fontSize <= 0 {
		fontSize = settings.MinFontSize
	}
	if textDensity <= 0 {
		textDensity = settings.MinTextDensity
	}
	scale := 100 / float64(textDensity)
	w = math.Max(1, glyphAspect*float64(fontSize)*glyphsPerCell*scale)
	h = math.Max(1, float64(fontSize)*1.2*scale)
	return w, h
}

// BuildGrid lays out cells covering width×height and assigns each a random word
// and a random palette color from rng.
func BuildGrid(width, height, fontSize, textDensity int, words []string, palette []settings.RGB, rng *rand.Rand) Grid {
	cw, ch := CellSize(fontSize, textDensity)
	g := Grid{CellW: cw, CellH: ch, Words: append([]string(nil), words...)}
	if width <= 0 || height <= 0 || len(words) == 0 {
		return g
	}
	if len(palette) == 0 {
		palette = []settings.RGB{settings.White}
	}

	g.Cols = int(math.Ceil(float64(width) / cw))
	g.Rows = int(math.Ceil(float64(height) / ch))
	g.Cells = make([]Cell, 0, g.Cols*g.Rows)
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			g.Cells = append(g.Cells, Cell{
				Row:   r,
				Col:   c,
				Word:  rng.Intn(len(words)),
				Color: palette[rng.Intn(len(palette))],
			})
		}
	}
	return g
}

// Origin is the top-left pixel of a cell.
func (g Grid) Origin(c Cell) (x, y int) {
	return int(float64(c.Col) * g.CellW), int(float64(c.Row) * g.CellH)
}

// Center is the sampling pixel of a cell.
func (g Grid) Center(c Cell) (x, y int) {
	return int((float64(c.Col) + 0.5) * g.CellW), int((float64(c.Row) + 0.5) * g.CellH)
}
