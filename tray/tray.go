// Package tray shows glyphs and notifications on the desktop system tray, or in the log
// when running headless.
package tray

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	fyne "fyne.io/fyne/v2"
	"fyne.io/fyne/v2/driver/desktop"
	"go.uber.org/zap"

	"github.com/mjasion/glucose-tray/alert"
	"github.com/mjasion/glucose-tray/glucose"
	"github.com/mjasion/glucose-tray/glyph"
)

const notificationTitle = "Glucose"

// Accessor returns the latest reading without waiting for a fetch
type Accessor interface {
	Latest() (glucose.Reading, bool)
}

// host is the slice of the fyne app the tray drives
type host interface {
	setIcon(name string, png []byte)
	setMenu(menu *fyne.Menu)
	updateMenu(menu *fyne.Menu, update func())
	notify(title, body string)
	openURL(u *url.URL) error
	quit()
}

// fyneHost forwards to a desktop fyne app, handing UI work to the fyne goroutine
type fyneHost struct {
	app  fyne.App
	desk desktop.App
}

func (h fyneHost) setIcon(name string, png []byte) {
	res := fyne.NewStaticResource(name, png)
	fyne.Do(func() { h.desk.SetSystemTrayIcon(res) })
}

func (h fyneHost) setMenu(menu *fyne.Menu) {
	fyne.Do(func() { h.desk.SetSystemTrayMenu(menu) })
}

func (h fyneHost) updateMenu(menu *fyne.Menu, update func()) {
	fyne.Do(func() {
		update()
		menu.Refresh()
	})
}

func (h fyneHost) notify(title, body string) {
	n := fyne.NewNotification(title, body)
	fyne.Do(func() { h.app.SendNotification(n) })
}

func (h fyneHost) openURL(u *url.URL) error {
	return h.app.OpenURL(u)
}

func (h fyneHost) quit() {
	fyne.Do(h.app.Quit)
}

// Options configures the tray menu
type Options struct {
	Thresholds    glucose.Thresholds
	NightscoutURL string
}

// Tray is the system-tray icon sink and notifier
type Tray struct {
	host       host
	thresholds glucose.Thresholds
	dashboard  *url.URL
	logger     *zap.Logger

	menu   *fyne.Menu
	status *fyne.MenuItem

	mu       sync.Mutex
	accessor Accessor
	stop     func()
	quitOnce sync.Once
}

// New attaches a tray to a fyne app. The app's driver must support system trays.
func New(a fyne.App, opts Options, logger *zap.Logger) (*Tray, error) {
	desk, ok := a.(desktop.App)
	if !ok {
		return nil, errors.New("fyne driver has no system tray support")
	}
	return newTray(fyneHost{app: a, desk: desk}, opts, logger)
}

func newTray(h host, opts Options, logger *zap.Logger) (*Tray, error) {
	t := &Tray{
		host:       h,
		thresholds: opts.Thresholds,
		logger:     logger,
	}

	if opts.NightscoutURL != "" {
		u, err := url.Parse(opts.NightscoutURL)
		if err != nil {
			return nil, fmt.Errorf("invalid nightscout url: %w", err)
		}
		t.dashboard = u
	}

	t.status = fyne.NewMenuItem("Waiting for first reading", nil)
	t.status.Disabled = true

	items := []*fyne.MenuItem{
		t.status,
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Show reading", t.showReading),
	}
	if t.dashboard != nil {
		items = append(items, fyne.NewMenuItem("Nightscout", t.openDashboard))
	}
	exit := fyne.NewMenuItem("Exit", t.exit)
	exit.IsQuit = true
	items = append(items, fyne.NewMenuItemSeparator(), exit)

	t.menu = fyne.NewMenu("Glucose", items...)
	t.host.setMenu(t.menu)
	return t, nil
}

// Bind connects the on-demand menu items to the running cycle. stop is called from Exit.
func (t *Tray) Bind(accessor Accessor, stop func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accessor = accessor
	t.stop = stop
}

// ShowGlyph swaps the tray icon and the status line
func (t *Tray) ShowGlyph(g glyph.Glyph, tooltip string) error {
	png, err := g.PNG()
	if err != nil {
		return err
	}

	t.host.setIcon("glucose-"+g.Band.String()+".png", png)
	label := strings.ReplaceAll(tooltip, "\n", "  ")
	t.host.updateMenu(t.menu, func() { t.status.Label = label })
	return nil
}

// Notify raises a desktop notification with the event summary
func (t *Tray) Notify(event alert.Event, summary string) {
	t.logger.Debug("sending desktop notification", zap.Stringer("kind", event.Kind))
	t.host.notify(notificationTitle, summary)
}

// Hide removes the tray icon by quitting the app
func (t *Tray) Hide() {
	t.quitOnce.Do(t.host.quit)
}

func (t *Tray) showReading() {
	t.mu.Lock()
	accessor := t.accessor
	t.mu.Unlock()

	if accessor == nil {
		t.host.notify(notificationTitle, "No reading yet")
		return
	}
	reading, ok := accessor.Latest()
	if !ok {
		t.host.notify(notificationTitle, "No reading yet")
		return
	}

	t.host.notify(severityTitle(glyph.BandFor(reading, t.thresholds)), reading.Detail())
}

// severityTitle stands in for balloon severity icons, which fyne notifications lack
func severityTitle(band glyph.Band) string {
	switch band {
	case glyph.BandDanger:
		return notificationTitle + " - danger"
	case glyph.BandCaution:
		return notificationTitle + " - caution"
	default:
		return notificationTitle
	}
}

func (t *Tray) openDashboard() {
	if err := t.host.openURL(t.dashboard); err != nil {
		t.logger.Warn("failed to open nightscout dashboard", zap.Error(err))
	}
}

func (t *Tray) exit() {
	t.mu.Lock()
	stop := t.stop
	t.mu.Unlock()

	t.logger.Info("exit requested from tray menu")
	if stop != nil {
		stop()
	}
	t.Hide()
}
