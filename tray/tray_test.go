package tray

import (
	"bytes"
	"errors"
	"image/png"
	"net/url"
	"testing"
	"time"

	fyne "fyne.io/fyne/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mjasion/glucose-tray/alert"
	"github.com/mjasion/glucose-tray/glucose"
	"github.com/mjasion/glucose-tray/glyph"
)

type notification struct {
	title string
	body  string
}

type fakeHost struct {
	iconName      string
	icon          []byte
	menu          *fyne.Menu
	notifications []notification
	opened        []string
	openErr       error
	quits         int
}

func (h *fakeHost) setIcon(name string, png []byte) { h.iconName, h.icon = name, png }
func (h *fakeHost) setMenu(menu *fyne.Menu)         { h.menu = menu }
func (h *fakeHost) updateMenu(_ *fyne.Menu, update func()) {
	update()
}
func (h *fakeHost) notify(title, body string) {
	h.notifications = append(h.notifications, notification{title, body})
}
func (h *fakeHost) openURL(u *url.URL) error {
	h.opened = append(h.opened, u.String())
	return h.openErr
}
func (h *fakeHost) quit() { h.quits++ }

type staticAccessor struct {
	reading *glucose.Reading
}

func (a staticAccessor) Latest() (glucose.Reading, bool) {
	if a.reading == nil {
		return glucose.Reading{}, false
	}
	return *a.reading, true
}

func thresholds() glucose.Thresholds {
	return glucose.Thresholds{
		DangerLowBg:   decimal.NewFromInt(55),
		LowBg:         decimal.NewFromInt(70),
		HighBg:        decimal.NewFromInt(180),
		DangerHighBg:  decimal.NewFromInt(250),
		CriticalLowBg: decimal.NewFromInt(55),
	}
}

func mgdl(v int64, trend glucose.Trend) *glucose.Reading {
	return &glucose.Reading{
		Value:     decimal.NewFromInt(v),
		Unit:      glucose.UnitMgDL,
		Trend:     trend,
		Timestamp: time.Date(2024, 5, 1, 7, 45, 0, 0, time.Local),
	}
}

func menuItem(t *testing.T, menu *fyne.Menu, label string) *fyne.MenuItem {
	t.Helper()
	for _, item := range menu.Items {
		if item.Label == label {
			return item
		}
	}
	t.Fatalf("menu item %q not found", label)
	return nil
}

func newTestTray(t *testing.T, opts Options) (*Tray, *fakeHost) {
	t.Helper()
	h := &fakeHost{}
	opts.Thresholds = thresholds()
	tr, err := newTray(h, opts, zap.NewNop())
	require.NoError(t, err)
	return tr, h
}

func TestNewTray_Menu(t *testing.T) {
	_, h := newTestTray(t, Options{})
	require.NotNil(t, h.menu)

	labels := make([]string, 0, len(h.menu.Items))
	for _, item := range h.menu.Items {
		if !item.IsSeparator {
			labels = append(labels, item.Label)
		}
	}
	assert.Equal(t, []string{"Waiting for first reading", "Show reading", "Exit"}, labels)
	assert.True(t, menuItem(t, h.menu, "Exit").IsQuit)

	_, h = newTestTray(t, Options{NightscoutURL: "https://ns.example.com"})
	menuItem(t, h.menu, "Nightscout")
}

func TestShowGlyph(t *testing.T) {
	tr, h := newTestTray(t, Options{})
	renderer, err := glyph.NewRenderer()
	require.NoError(t, err)

	reading := mgdl(68, glucose.TrendFalling)
	g, err := renderer.Render(*reading, thresholds(), false)
	require.NoError(t, err)

	require.NoError(t, tr.ShowGlyph(g, reading.Detail()))
	assert.Equal(t, "glucose-caution.png", h.iconName)

	img, err := png.Decode(bytes.NewReader(h.icon))
	require.NoError(t, err)
	assert.Equal(t, glyph.Size, img.Bounds().Dx())

	assert.Equal(t, "↓68  07:45:00", h.menu.Items[0].Label)
}

func TestNotify(t *testing.T) {
	tr, h := newTestTray(t, Options{})
	reading := mgdl(185, glucose.TrendRising)
	event := alert.Event{Kind: alert.KindHighCrossed, Reading: *reading}

	tr.Notify(event, event.Summary())
	assert.Equal(t, []notification{{"Glucose", "↑185"}}, h.notifications)
}

func TestShowReading(t *testing.T) {
	tests := []struct {
		name    string
		reading *glucose.Reading
		want    notification
	}{
		{"no reading", nil, notification{"Glucose", "No reading yet"}},
		{"normal", mgdl(110, glucose.TrendFlat), notification{"Glucose", "→110\n07:45:00"}},
		{"caution", mgdl(190, glucose.TrendRising), notification{"Glucose - caution", "↑190\n07:45:00"}},
		{"danger", mgdl(50, glucose.TrendFallingFast), notification{"Glucose - danger", "⮇50\n07:45:00"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, h := newTestTray(t, Options{})
			tr.Bind(staticAccessor{reading: tt.reading}, nil)

			menuItem(t, h.menu, "Show reading").Action()
			assert.Equal(t, []notification{tt.want}, h.notifications)
		})
	}
}

func TestShowReading_Unbound(t *testing.T) {
	tr, h := newTestTray(t, Options{})
	tr.showReading()
	assert.Equal(t, "No reading yet", h.notifications[0].body)
}

func TestOpenDashboard(t *testing.T) {
	tr, h := newTestTray(t, Options{NightscoutURL: "https://ns.example.com"})
	h.openErr = errors.New("no browser")

	menuItem(t, h.menu, "Nightscout").Action()
	assert.Equal(t, []string{"https://ns.example.com"}, h.opened)
	_ = tr
}

func TestExitStopsCycleOnce(t *testing.T) {
	tr, h := newTestTray(t, Options{})
	stops := 0
	tr.Bind(staticAccessor{}, func() { stops++ })

	menuItem(t, h.menu, "Exit").Action()
	tr.Hide()

	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, h.quits)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	reading := mgdl(250, glucose.TrendRisingFast)
	g := glyph.Glyph{Band: glyph.BandDanger, Text: "250"}
	require.NoError(t, sink.ShowGlyph(g, reading.Detail()))

	event := alert.Event{Kind: alert.KindTrendReversal, Reading: *reading}
	sink.Notify(event, event.Summary())
	sink.Hide()
	sink.Hide()

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "glucose updated", entries[0].Message)
	assert.Equal(t, "danger", entries[0].ContextMap()["band"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "⮅250", entries[1].ContextMap()["summary"])
	assert.Equal(t, "glucose display closed", entries[2].Message)
}
