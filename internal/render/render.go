// Package render draws game snapshots as PNG frames.
package render

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"sync"

	"skirmish/internal/game"

	"github.com/fogleman/gg"
)

// HUDHeight is the strip below the board that carries scores and the clock.
const HUDHeight = 40

// Options configures a Renderer.
type Options struct {
	// Scale multiplies the tile size (1 renders at the rules' tile size).
	Scale float64
	// FontPath overrides font discovery; text is skipped if no font loads.
	FontPath string
}

// Renderer turns snapshots into images. It reuses one drawing context and is
// safe for concurrent use.
type Renderer struct {
	mu       sync.Mutex
	dc       *gg.Context
	scale    float64
	fontPath string
}

var (
	background   = color.RGBA{18, 20, 28, 255}
	gridLine     = color.RGBA{40, 44, 58, 255}
	hpBack       = color.RGBA{51, 51, 51, 255}
	hudText      = color.RGBA{235, 235, 240, 255}
	factionTints = map[game.Faction]color.RGBA{
		game.FactionPlayer:   parseHexColor("#3d7bff"),
		game.FactionOpponent: parseHexColor("#ff3e3e"),
	}
	neutral = parseHexColor("#9a9a9a")
)

// New creates a renderer.
func New(opts Options) *Renderer {
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	if opts.FontPath == "" {
		opts.FontPath = findFont()
	}
	return &Renderer{scale: opts.Scale, fontPath: opts.FontPath}
}

// FrameSize returns the pixel size of a frame for the given snapshot.
func (r *Renderer) FrameSize(snap *game.GameSnapshot) (w, h int) {
	tile := snap.TileSize * r.scale
	return int(math.Round(float64(snap.Cols) * tile)), int(math.Round(float64(snap.Rows)*tile)) + HUDHeight
}

// EncodePNG renders snap and writes it as PNG.
func (r *Renderer) EncodePNG(w io.Writer, snap *game.GameSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dc, err := r.draw(snap)
	if err != nil {
		return err
	}
	if err := dc.EncodePNG(w); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// Image renders snap into a fresh image the caller owns.
func (r *Renderer) Image(snap *game.GameSnapshot) (image.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dc, err := r.draw(snap)
	if err != nil {
		return nil, err
	}
	src := dc.Image().(*image.RGBA)
	out := image.NewRGBA(src.Bounds())
	copy(out.Pix, src.Pix)
	return out, nil
}

func (r *Renderer) draw(snap *game.GameSnapshot) (*gg.Context, error) {
	if snap == nil {
		return nil, fmt.Errorf("render: nil snapshot")
	}
	if snap.Cols <= 0 || snap.Rows <= 0 || snap.TileSize <= 0 {
		return nil, fmt.Errorf("render: empty board %dx%d", snap.Cols, snap.Rows)
	}

	w, h := r.FrameSize(snap)
	if r.dc == nil || r.dc.Width() != w || r.dc.Height() != h {
		r.dc = gg.NewContext(w, h)
		if r.fontPath != "" {
			if err := r.dc.LoadFontFace(r.fontPath, 14); err != nil {
				r.fontPath = ""
			}
		}
	}
	dc := r.dc
	tile := snap.TileSize * r.scale

	dc.SetColor(background)
	dc.Clear()

	r.drawTerritory(dc, snap, tile)
	r.drawGrid(dc, snap, tile)
	for i := range snap.Buildings {
		r.drawBuilding(dc, &snap.Buildings[i], tile)
	}
	for i := range snap.Units {
		r.drawUnit(dc, &snap.Units[i], tile)
	}
	for i := range snap.Bullets {
		b := &snap.Bullets[i]
		dc.SetColor(tint(b.Owner))
		dc.DrawCircle(b.X*r.scale, b.Y*r.scale, 3*r.scale)
		dc.Fill()
	}
	r.drawHUD(dc, snap, tile)
	return dc, nil
}

// drawTerritory shades each faction's half of the board
func (r *Renderer) drawTerritory(dc *gg.Context, snap *game.GameSnapshot, tile float64) {
	split := float64(snap.Rows/2) * tile
	width := float64(snap.Cols) * tile

	top := tint(game.FactionOpponent)
	top.A = 24
	dc.SetColor(top)
	dc.DrawRectangle(0, 0, width, split)
	dc.Fill()

	bottom := tint(game.FactionPlayer)
	bottom.A = 24
	dc.SetColor(bottom)
	dc.DrawRectangle(0, split, width, float64(snap.Rows)*tile-split)
	dc.Fill()
}

func (r *Renderer) drawGrid(dc *gg.Context, snap *game.GameSnapshot, tile float64) {
	dc.SetColor(gridLine)
	dc.SetLineWidth(1)
	boardW := float64(snap.Cols) * tile
	boardH := float64(snap.Rows) * tile
	for x := 0; x <= snap.Cols; x++ {
		dc.DrawLine(float64(x)*tile, 0, float64(x)*tile, boardH)
		dc.Stroke()
	}
	for y := 0; y <= snap.Rows; y++ {
		dc.DrawLine(0, float64(y)*tile, boardW, float64(y)*tile)
		dc.Stroke()
	}
}

func (r *Renderer) drawBuilding(dc *gg.Context, b *game.BuildingSnapshot, tile float64) {
	x, y := float64(b.X)*tile, float64(b.Y)*tile
	cx, cy := x+tile/2, y+tile/2
	pad := tile * 0.1
	c := tint(b.Owner)

	dc.SetColor(c)
	switch b.Type {
	case game.BuildingStronghold:
		dc.DrawRectangle(x+pad/2, y+pad/2, tile-pad, tile-pad)
		dc.Fill()
		dc.SetColor(color.White)
		dc.SetLineWidth(2 * r.scale)
		dc.DrawRectangle(x+pad, y+pad, tile-2*pad, tile-2*pad)
		dc.Stroke()
	case game.BuildingTurret:
		dc.DrawRegularPolygon(4, cx, cy, tile/2-pad, 0)
		dc.Fill()
	case game.BuildingIncome:
		dc.DrawRegularPolygon(6, cx, cy, tile/2-pad, 0)
		dc.Fill()
	default:
		// Producers: square with a hole sized by the unit they make
		dc.DrawRectangle(x+pad, y+pad, tile-2*pad, tile-2*pad)
		dc.Fill()
		dc.SetColor(background)
		dc.DrawCircle(cx, cy, tile*0.15)
		dc.Fill()
	}

	r.drawHealth(dc, x, y, tile, b.HP, b.MaxHP)
}

func (r *Renderer) drawUnit(dc *gg.Context, u *game.UnitSnapshot, tile float64) {
	x, y := float64(u.X)*tile, float64(u.Y)*tile
	cx, cy := x+tile/2, y+tile/2

	radius := tile * 0.3
	sides := 0
	switch u.Type {
	case game.UnitTank:
		radius = tile * 0.36
		sides = 4
	case game.UnitDrone:
		sides = 3
	case game.UnitSpider:
		sides = 8
	}

	dc.SetColor(tint(u.Owner))
	if sides == 0 {
		dc.DrawCircle(cx, cy, radius)
	} else {
		dc.DrawRegularPolygon(sides, cx, cy, radius, 0)
	}
	dc.Fill()

	r.drawHealth(dc, x, y, tile, u.HP, u.MaxHP)
}

// drawHealth draws a bar along the top edge of a cell
func (r *Renderer) drawHealth(dc *gg.Context, x, y, tile float64, hp, maxHP int) {
	if maxHP <= 0 || hp >= maxHP {
		return
	}
	pct := math.Max(0, float64(hp)/float64(maxHP))
	barW, barH := tile*0.8, math.Max(2, tile*0.08)
	bx, by := x+tile*0.1, y+1

	dc.SetColor(hpBack)
	dc.DrawRectangle(bx, by, barW, barH)
	dc.Fill()

	switch {
	case pct > 0.5:
		dc.SetColor(color.RGBA{83, 255, 69, 255})
	case pct > 0.25:
		dc.SetColor(color.RGBA{255, 149, 0, 255})
	default:
		dc.SetColor(color.RGBA{255, 62, 62, 255})
	}
	dc.DrawRectangle(bx, by, barW*pct, barH)
	dc.Fill()
}

func (r *Renderer) drawHUD(dc *gg.Context, snap *game.GameSnapshot, tile float64) {
	top := float64(snap.Rows) * tile
	width := float64(snap.Cols) * tile

	dc.SetColor(color.RGBA{10, 10, 16, 255})
	dc.DrawRectangle(0, top, width, HUDHeight)
	dc.Fill()

	st := snap.Status
	remaining := st.Remaining
	progress := 1.0
	if total := st.Elapsed + st.Remaining; total > 0 {
		progress = st.Elapsed / total
	}
	dc.SetColor(gridLine)
	dc.DrawRectangle(0, top, width*progress, 3)
	dc.Fill()

	if r.fontPath == "" {
		return
	}
	midY := top + HUDHeight/2

	dc.SetColor(tint(game.FactionPlayer))
	dc.DrawStringAnchored(fmt.Sprintf("Player  %d pts  $%d", st.PlayerScore, st.PlayerCoins), 10, midY, 0, 0.5)

	dc.SetColor(tint(game.FactionOpponent))
	dc.DrawStringAnchored(fmt.Sprintf("$%d  %d pts  Opponent", st.OpponentCoins, st.OpponentScore), width-10, midY, 1, 0.5)

	dc.SetColor(hudText)
	clock := fmt.Sprintf("%d:%02d", int(remaining)/60, int(remaining)%60)
	if st.Phase == game.PhaseEnded {
		clock = "draw"
		if st.Winner.Valid() {
			clock = st.Winner.String() + " wins"
		}
	}
	dc.DrawStringAnchored(clock, width/2, midY, 0.5, 0.5)
}

func tint(f game.Faction) color.RGBA {
	if c, ok := factionTints[f]; ok {
		return c
	}
	return neutral
}

func parseHexColor(hex string) color.RGBA {
	if len(hex) != 7 || hex[0] != '#' {
		return color.RGBA{255, 255, 255, 255}
	}

	var r, g, b uint8
	fmt.Sscanf(hex[1:], "%02x%02x%02x", &r, &g, &b)
	return color.RGBA{r, g, b, 255}
}

// findFont returns the first readable system font, or "" for none.
func findFont() string {
	paths := []string{
		"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
		"/usr/share/fonts/TTF/DejaVuSans.ttf",
		"/System/Library/Fonts/Supplemental/Arial.ttf",
		"C:\\Windows\\Fonts\\arial.ttf",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
