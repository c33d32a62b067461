package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mjasion/glucose-tray/alert"
	"github.com/mjasion/glucose-tray/glucose"
	"github.com/mjasion/glucose-tray/glyph"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fetchResult struct {
	reading glucose.Reading
	err     error
}

type scriptedFetcher struct {
	results []fetchResult
	calls   int
}

func (f *scriptedFetcher) Fetch(ctx context.Context) (glucose.Reading, error) {
	f.calls++
	if f.calls > len(f.results) {
		return glucose.Reading{}, errors.New("script exhausted")
	}
	r := f.results[f.calls-1]
	return r.reading, r.err
}

type recordingIcon struct {
	mu       sync.Mutex
	glyphs   []glyph.Glyph
	tooltips []string
	hidden   int
	onShow   func(n int)
	showErr  error
}

func (i *recordingIcon) ShowGlyph(g glyph.Glyph, tooltip string) error {
	i.mu.Lock()
	i.glyphs = append(i.glyphs, g)
	i.tooltips = append(i.tooltips, tooltip)
	n := len(i.glyphs)
	i.mu.Unlock()

	if i.onShow != nil {
		i.onShow(n)
	}
	return i.showErr
}

func (i *recordingIcon) Hide() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.hidden++
}

type recordingNotifier struct {
	events    []alert.Event
	summaries []string
}

func (n *recordingNotifier) Notify(event alert.Event, summary string) {
	n.events = append(n.events, event)
	n.summaries = append(n.summaries, summary)
}

type readingSlice struct {
	readings []*glucose.Reading
}

func (r *readingSlice) Add(reading *glucose.Reading) {
	r.readings = append(r.readings, reading)
}

type failingRenderer struct{}

func (failingRenderer) Render(glucose.Reading, glucose.Thresholds, bool) (glyph.Glyph, error) {
	return glyph.Glyph{}, errors.New("face allocation failed")
}

func thresholds() glucose.Thresholds {
	return glucose.Thresholds{
		DangerLowBg:   decimal.NewFromInt(40),
		LowBg:         decimal.NewFromInt(70),
		HighBg:        decimal.NewFromInt(180),
		DangerHighBg:  decimal.NewFromInt(250),
		CriticalLowBg: decimal.NewFromInt(55),
	}
}

func ok(value int64, trend glucose.Trend) fetchResult {
	return fetchResult{reading: glucose.Reading{
		Value:     decimal.NewFromInt(value),
		Unit:      glucose.UnitMgDL,
		Trend:     trend,
		Timestamp: time.Now(),
	}}
}

func fail(msg string) fetchResult {
	return fetchResult{err: errors.New(msg)}
}

func newTestCycle(t *testing.T, fetcher Fetcher, icon *recordingIcon, notifier *recordingNotifier, policy Policy) (*Cycle, *observer.ObservedLogs) {
	t.Helper()
	renderer, err := glyph.NewRenderer()
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	c := New(Config{
		Fetcher:    fetcher,
		Renderer:   renderer,
		Icon:       icon,
		Notifier:   notifier,
		Policy:     policy,
		Thresholds: thresholds(),
		Interval:   time.Millisecond,
	}, zap.New(core))
	return c, logs
}

func stopAfter(c **Cycle, n int) func(int) {
	return func(shown int) {
		if shown == n {
			(*c).Stop()
		}
	}
}

func TestRun_LowCrossingScenario(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{ok(72, glucose.TrendFlat), ok(68, glucose.TrendFlat)}}
	icon := &recordingIcon{}
	notifier := &recordingNotifier{}
	recorder := &readingSlice{}

	var c *Cycle
	icon.onShow = stopAfter(&c, 2)
	c, _ = newTestCycle(t, fetcher, icon, notifier, nil)
	c.recorder = recorder

	_, hasReading := c.Latest()
	assert.False(t, hasReading)

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, StatusStopped, c.Status())
	assert.Equal(t, 2, fetcher.calls)
	require.Len(t, icon.glyphs, 2)
	assert.Equal(t, "72", icon.glyphs[0].Text)
	assert.Equal(t, "68", icon.glyphs[1].Text)
	assert.Equal(t, glyph.BandCaution, icon.glyphs[1].Band)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, alert.KindLowCrossed, notifier.events[0].Kind)
	assert.Equal(t, "→68", notifier.summaries[0])

	snap := c.Snapshot()
	require.NotNil(t, snap.Current)
	require.NotNil(t, snap.Previous)
	assert.Equal(t, "68", snap.Current.FormattedValue())
	assert.Equal(t, "72", snap.Previous.FormattedValue())
	assert.Len(t, recorder.readings, 2)
	assert.Equal(t, 0, icon.hidden)
}

func TestRun_FirstCycleNeverNotifies(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{ok(300, glucose.TrendRisingFast)}}
	icon := &recordingIcon{}
	notifier := &recordingNotifier{}

	var c *Cycle
	icon.onShow = stopAfter(&c, 1)
	c, _ = newTestCycle(t, fetcher, icon, notifier, nil)

	require.NoError(t, c.Run(context.Background()))
	assert.Empty(t, notifier.events)
	assert.Equal(t, glyph.BandDanger, icon.glyphs[0].Band)
}

func TestRun_CriticalAndEmptyReadings(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{ok(58, glucose.TrendFalling), ok(50, glucose.TrendFalling), ok(0, glucose.TrendUnknown)}}
	icon := &recordingIcon{}
	notifier := &recordingNotifier{}

	var c *Cycle
	icon.onShow = stopAfter(&c, 3)
	c, logs := newTestCycle(t, fetcher, icon, notifier, nil)

	require.NoError(t, c.Run(context.Background()))

	require.Len(t, icon.glyphs, 3)
	assert.Equal(t, "LOW", icon.glyphs[1].Text)
	assert.Equal(t, "ERR", icon.glyphs[2].Text)

	assert.Equal(t, 1, logs.FilterMessage("critical low glucose read").Len())
	warnings := logs.FilterMessage("empty glucose result received").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zapcore.WarnLevel, warnings[0].Level)
}

func TestRun_FetchErrorIsFatal(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{ok(120, glucose.TrendFlat), fail("dexcom unreachable"), ok(130, glucose.TrendFlat)}}
	icon := &recordingIcon{}
	notifier := &recordingNotifier{}
	c, logs := newTestCycle(t, fetcher, icon, notifier, nil)

	err := c.Run(context.Background())

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.EqualError(t, fetchErr.Err, "dexcom unreachable")
	assert.Equal(t, 2, fetcher.calls, "no iteration after the failure")
	assert.Equal(t, 1, icon.hidden)
	assert.Equal(t, StatusStopped, c.Status())

	latest, hasReading := c.Latest()
	require.True(t, hasReading)
	assert.Equal(t, "120", latest.FormattedValue(), "failed fetch leaves state untouched")
	assert.Nil(t, c.Snapshot().Previous)

	errorsLogged := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, errorsLogged, 1)
	assert.Equal(t, "glucose polling cycle terminated", errorsLogged[0].Message)
}

func TestRun_RenderErrorIsFatal(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{ok(120, glucose.TrendFlat)}}
	icon := &recordingIcon{}
	c, _ := newTestCycle(t, fetcher, icon, &recordingNotifier{}, nil)
	c.renderer = failingRenderer{}

	err := c.Run(context.Background())

	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Empty(t, icon.glyphs)
	assert.Equal(t, 1, icon.hidden)
}

func TestRun_IconFailureIsRenderError(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{ok(120, glucose.TrendFlat)}}
	icon := &recordingIcon{showErr: errors.New("icon handle leaked")}
	c, _ := newTestCycle(t, fetcher, icon, &recordingNotifier{}, nil)

	var renderErr *RenderError
	require.ErrorAs(t, c.Run(context.Background()), &renderErr)
	assert.Equal(t, 1, icon.hidden)
}

func TestRun_RetryPolicyRecovers(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{fail("timeout"), fail("timeout"), ok(110, glucose.TrendFlat)}}
	icon := &recordingIcon{}

	var c *Cycle
	icon.onShow = stopAfter(&c, 1)
	c, logs := newTestCycle(t, fetcher, icon, &recordingNotifier{}, NewRetryPolicy(2, time.Millisecond, 2*time.Millisecond))

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 3, fetcher.calls)
	assert.Equal(t, 0, icon.hidden)
	assert.Equal(t, 2, logs.FilterMessage("polling iteration failed, retrying").Len())
}

func TestRun_RetryPolicyGivesUp(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{fail("a"), fail("b"), fail("c"), ok(110, glucose.TrendFlat)}}
	icon := &recordingIcon{}
	c, _ := newTestCycle(t, fetcher, icon, &recordingNotifier{}, NewRetryPolicy(2, time.Millisecond, 2*time.Millisecond))

	var fetchErr *FetchError
	require.ErrorAs(t, c.Run(context.Background()), &fetchErr)
	assert.EqualError(t, fetchErr.Err, "c")
	assert.Equal(t, 3, fetcher.calls)
	assert.Equal(t, 1, icon.hidden)
}

func TestRun_StopBeforeStart(t *testing.T) {
	fetcher := &scriptedFetcher{}
	c, _ := newTestCycle(t, fetcher, &recordingIcon{}, &recordingNotifier{}, nil)

	c.Stop()
	c.Stop()
	require.NoError(t, c.Run(context.Background()))
	assert.Zero(t, fetcher.calls)
	assert.Equal(t, StatusStopped, c.Status())
}

func TestRun_ContextCancelDuringDelay(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{ok(100, glucose.TrendFlat)}}
	icon := &recordingIcon{}
	ctx, cancel := context.WithCancel(context.Background())
	icon.onShow = func(int) { cancel() }

	c, _ := newTestCycle(t, fetcher, icon, &recordingNotifier{}, nil)
	c.interval = time.Hour

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("cycle did not stop at the delay")
	}
	assert.Equal(t, 1, fetcher.calls)
}

func TestLatest_ConcurrentReads(t *testing.T) {
	results := make([]fetchResult, 50)
	for i := range results {
		results[i] = ok(int64(100+i), glucose.TrendFlat)
	}
	fetcher := &scriptedFetcher{results: results}
	icon := &recordingIcon{}

	var c *Cycle
	icon.onShow = stopAfter(&c, len(results))
	c, _ = newTestCycle(t, fetcher, icon, &recordingNotifier{}, nil)

	stopReaders := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stopReaders:
					return
				default:
				}
				snap := c.Snapshot()
				if snap.Current != nil && snap.Previous != nil {
					assert.True(t, snap.Current.Value.GreaterThan(snap.Previous.Value))
				}
			}
		}()
	}

	require.NoError(t, c.Run(context.Background()))
	close(stopReaders)
	wg.Wait()

	latest, _ := c.Latest()
	assert.Equal(t, "149", latest.FormattedValue())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "idle", StatusIdle.String())
	assert.Equal(t, "running", StatusRunning.String())
	assert.Equal(t, "stopped", StatusStopped.String())
}
