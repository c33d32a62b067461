package glyph

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/mjasion/glucose-tray/glucose"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func thresholds() glucose.Thresholds {
	return glucose.Thresholds{
		DangerLowBg:   decimal.NewFromInt(40),
		LowBg:         decimal.NewFromInt(70),
		HighBg:        decimal.NewFromInt(180),
		DangerHighBg:  decimal.NewFromInt(250),
		CriticalLowBg: decimal.NewFromInt(55),
	}
}

func mg(v int64) glucose.Reading {
	return glucose.Reading{Value: decimal.NewFromInt(v), Unit: glucose.UnitMgDL, Trend: glucose.TrendFlat}
}

func mmol(v string) glucose.Reading {
	return glucose.Reading{Value: decimal.RequireFromString(v), Unit: glucose.UnitMmolL, Trend: glucose.TrendFlat}
}

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer()
	require.NoError(t, err)
	return r
}

func TestRender_CautionScenario(t *testing.T) {
	g, err := newRenderer(t).Render(mg(68), thresholds(), false)
	require.NoError(t, err)

	assert.Equal(t, BandCaution, g.Band)
	assert.Equal(t, "68", g.Text)
	assert.Equal(t, defaultFontSize, g.FontSize)
	assert.Equal(t, image.Rect(0, 0, Size, Size), g.Image.Bounds())

	for x := 0; x < Size; x++ {
		assert.Equal(t, cautionInk, g.Image.RGBAAt(x, 0), "top rule x=%d", x)
		assert.Equal(t, cautionInk, g.Image.RGBAAt(x, 15), "bottom rule x=%d", x)
	}
	assert.Equal(t, color.RGBA{}, g.Image.RGBAAt(15, 7), "background stays transparent")

	inked := 0
	for y := 1; y < 15; y++ {
		for x := 0; x < Size; x++ {
			c := g.Image.RGBAAt(x, y)
			if c.A == 0 {
				continue
			}
			inked++
			assert.Zero(t, c.B, "caution text is yellow at (%d,%d)", x, y)
		}
	}
	assert.NotZero(t, inked, "text was drawn")
}

func TestRender_CriticalShowsLow(t *testing.T) {
	g, err := newRenderer(t).Render(mg(50), thresholds(), true)
	require.NoError(t, err)
	assert.Equal(t, "LOW", g.Text)
	assert.Equal(t, BandCaution, g.Band)
}

func TestRender_EmptyShowsErr(t *testing.T) {
	r := newRenderer(t)
	for _, critical := range []bool{false, true} {
		g, err := r.Render(mg(0), thresholds(), critical)
		require.NoError(t, err)
		assert.Equal(t, "ERR", g.Text)
		assert.Equal(t, BandDanger, g.Band)
	}

	g, err := r.Render(mmol("0"), thresholds(), true)
	require.NoError(t, err)
	assert.Equal(t, "ERR", g.Text)
}

func TestRender_Danger(t *testing.T) {
	g, err := newRenderer(t).Render(mg(30), thresholds(), true)
	require.NoError(t, err)

	assert.Equal(t, BandDanger, g.Band)
	assert.Equal(t, dangerFill, g.Image.RGBAAt(15, 15), "solid fill")
	assert.Equal(t, dangerFill, g.Image.RGBAAt(15, 0), "solid fill")
	for x := 0; x < Size; x++ {
		assert.Equal(t, dangerRule, g.Image.RGBAAt(x, 13), "lower rule x=%d", x)
	}
	assert.Equal(t, dangerRule, g.Image.RGBAAt(15, 2), "upper rule")
}

func TestRender_Normal(t *testing.T) {
	g, err := newRenderer(t).Render(mg(120), thresholds(), false)
	require.NoError(t, err)

	assert.Equal(t, BandNormal, g.Band)
	assert.Equal(t, "120", g.Text)
	for x := 0; x < Size; x++ {
		assert.Equal(t, uint8(0), g.Image.RGBAAt(x, 0).A, "no top rule")
		assert.Equal(t, uint8(0), g.Image.RGBAAt(x, 15).A, "no bottom rule")
	}
	for i := 0; i < len(g.Image.Pix); i += 4 {
		px := g.Image.Pix[i : i+4]
		if px[3] == 0 {
			continue
		}
		assert.Equal(t, px[0], px[2], "lime green keeps red and blue equal")
		assert.GreaterOrEqual(t, px[1], px[0])
	}
}

func TestRender_MmolFontSelection(t *testing.T) {
	r := newRenderer(t)
	cfg := glucose.Thresholds{
		DangerLowBg:   decimal.RequireFromString("2.2"),
		LowBg:         decimal.RequireFromString("3.9"),
		HighBg:        decimal.RequireFromString("10.0"),
		DangerHighBg:  decimal.RequireFromString("13.9"),
		CriticalLowBg: decimal.RequireFromString("3.0"),
	}

	g, err := r.Render(mmol("11.2"), cfg, false)
	require.NoError(t, err)
	assert.Equal(t, smallerFontSize, g.FontSize)
	assert.Equal(t, "11'2", g.Text)

	g, err = r.Render(mmol("8.3"), cfg, false)
	require.NoError(t, err)
	assert.Equal(t, defaultFontSize, g.FontSize)
	assert.Equal(t, "8'3", g.Text)
	assert.Equal(t, BandNormal, g.Band)

	g, err = r.Render(mmol("9.9"), cfg, false)
	require.NoError(t, err)
	assert.Equal(t, defaultFontSize, g.FontSize, "9.9 still fits at full size")
}

func TestLayout(t *testing.T) {
	x, size := layout(mg(400))
	assert.Equal(t, baseOffsetX, x)
	assert.Equal(t, defaultFontSize, size)

	x, size = layout(mmol("15.0"))
	assert.Equal(t, baseOffsetX, x)
	assert.Equal(t, smallerFontSize, size)

	x, size = layout(mmol("5.5"))
	assert.Equal(t, baseOffsetX, x)
	assert.Equal(t, defaultFontSize, size)
}

func TestRender_IsPure(t *testing.T) {
	r := newRenderer(t)
	for _, reading := range []glucose.Reading{mg(68), mg(120), mg(300), mg(0), mmol("11.2")} {
		a, err := r.Render(reading, thresholds(), false)
		require.NoError(t, err)
		b, err := r.Render(reading, thresholds(), false)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(a.Image.Pix, b.Image.Pix), "reading %s", reading.FormattedValue())
	}
}

func TestBandFor_ExhaustiveAndExclusive(t *testing.T) {
	cfg := thresholds()
	for v := int64(0); v <= 400; v++ {
		band := BandFor(mg(v), cfg)
		switch {
		case v <= 40 || v >= 250:
			assert.Equal(t, BandDanger, band, "value %d", v)
		case v <= 70 || v >= 180:
			assert.Equal(t, BandCaution, band, "value %d", v)
		default:
			assert.Equal(t, BandNormal, band, "value %d", v)
		}
	}
}

func TestBandFor_DangerWinsOnDegenerateConfig(t *testing.T) {
	cfg := thresholds()
	cfg.DangerLowBg = cfg.LowBg
	assert.Equal(t, BandDanger, BandFor(mg(70), cfg))
	assert.Equal(t, BandNormal, BandFor(mg(71), cfg))
}

func TestGlyphPNG(t *testing.T) {
	g, err := newRenderer(t).Render(mg(200), thresholds(), false)
	require.NoError(t, err)

	data, err := g.PNG()
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, Size, Size), decoded.Bounds())
}

func TestBandString(t *testing.T) {
	assert.Equal(t, "normal", BandNormal.String())
	assert.Equal(t, "caution", BandCaution.String())
	assert.Equal(t, "danger", BandDanger.String())
}
