// Package glyph renders a glucose reading into the 16x16 tray icon.
package glyph

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"github.com/mjasion/glucose-tray/glucose"
	"github.com/shopspring/decimal"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Size is the edge length of the glyph in pixels
const Size = 16

const (
	baseOffsetX     = -3.0
	textTop         = 1
	defaultFontSize = 10.0
	smallerFontSize = 9.0

	// DrawString-style layout boxes start the pen a sixth of an em in from the box edge
	layoutPaddingEm = 1.0 / 6.0
)

// mmol values above this need three digits and the smaller font
var threeDigitMmol = decimal.RequireFromString("9.9")

var (
	dangerFill  = color.RGBA{R: 0xFF, G: 0x45, B: 0x00, A: 0xFF} // OrangeRed
	dangerRule  = color.RGBA{A: 0xFF}                            // Black
	dangerText  = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF} // White
	cautionInk  = color.RGBA{R: 0xFF, G: 0xFF, A: 0xFF}          // Yellow
	normalInk   = color.RGBA{R: 0x32, G: 0xCD, B: 0x32, A: 0xFF} // LimeGreen
	dangerRows  = [2]int{2, 13}
	cautionRows = [2]int{0, 15}
)

// Band is the visual severity of a reading
type Band int

const (
	BandNormal Band = iota
	BandCaution
	BandDanger
)

func (b Band) String() string {
	switch b {
	case BandCaution:
		return "caution"
	case BandDanger:
		return "danger"
	default:
		return "normal"
	}
}

// BandFor classifies a value. Danger wins over caution when both hold.
func BandFor(r glucose.Reading, t glucose.Thresholds) Band {
	v := r.Value
	switch {
	case v.LessThanOrEqual(t.DangerLowBg) || v.GreaterThanOrEqual(t.DangerHighBg):
		return BandDanger
	case v.LessThanOrEqual(t.LowBg) || v.GreaterThanOrEqual(t.HighBg):
		return BandCaution
	default:
		return BandNormal
	}
}

// Glyph is one rendered icon
type Glyph struct {
	Image    *image.RGBA
	Band     Band
	Text     string
	FontSize float64
}

// PNG encodes the glyph for icon surfaces that take image bytes
func (g Glyph) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, g.Image); err != nil {
		return nil, fmt.Errorf("failed to encode glyph: %w", err)
	}
	return buf.Bytes(), nil
}

// Renderer draws glyphs. It is safe for concurrent use.
type Renderer struct {
	font *opentype.Font
}

// NewRenderer parses the embedded font once
func NewRenderer() (*Renderer, error) {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse glyph font: %w", err)
	}
	return &Renderer{font: f}, nil
}

// Render draws the current reading. The only error is a failure to allocate the sized
// font face; the face is released before Render returns on every path.
func (r *Renderer) Render(current glucose.Reading, t glucose.Thresholds, isCritical bool) (Glyph, error) {
	text := displayText(current, isCritical)
	offsetX, fontSize := layout(current)

	face, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return Glyph{}, fmt.Errorf("failed to create %.0fpx font face: %w", fontSize, err)
	}
	defer face.Close()

	img := image.NewRGBA(image.Rect(0, 0, Size, Size))
	band := BandFor(current, t)

	var ink color.RGBA
	switch band {
	case BandDanger:
		draw.Draw(img, img.Bounds(), image.NewUniform(dangerFill), image.Point{}, draw.Src)
		drawRules(img, dangerRows, dangerRule)
		ink = dangerText
	case BandCaution:
		drawRules(img, cautionRows, cautionInk)
		ink = cautionInk
	default:
		ink = normalInk
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(ink),
		Face: face,
		Dot: fixed.Point26_6{
			X: toFixed(offsetX + fontSize*layoutPaddingEm),
			Y: fixed.I(textTop) + face.Metrics().Ascent,
		},
	}
	d.DrawString(text)

	return Glyph{Image: img, Band: band, Text: text, FontSize: fontSize}, nil
}

func displayText(current glucose.Reading, isCritical bool) string {
	switch {
	case current.IsEmpty():
		return "ERR"
	case isCritical:
		return "LOW"
	default:
		return current.DisplayValue()
	}
}

// layout picks the pen offset and font size. Only three-digit mmol values shrink the font;
// the offset is the same for every case.
func layout(current glucose.Reading) (float64, float64) {
	if current.Unit == glucose.UnitMgDL {
		return baseOffsetX, defaultFontSize
	}
	if current.Value.GreaterThan(threeDigitMmol) {
		return baseOffsetX, smallerFontSize
	}
	return baseOffsetX, defaultFontSize
}

func drawRules(img *image.RGBA, rows [2]int, c color.RGBA) {
	for _, y := range rows {
		draw.Draw(img, image.Rect(0, y, Size, y+1), image.NewUniform(c), image.Point{}, draw.Src)
	}
}

func toFixed(v float64) fixed.Int26_6 {
	return fixed.Int26_6(math.Round(v * 64))
}
