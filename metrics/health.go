package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mjasion/glucose-tray/glucose"
	"github.com/mjasion/glucose-tray/poller"
)

// minStaleAfter covers the sensor's own five-minute cadence when polling faster
const minStaleAfter = 15 * time.Minute

// Accessor is the read side of the polling cycle
type Accessor interface {
	Latest() (glucose.Reading, bool)
	Status() poller.Status
	Interval() time.Duration
}

// HealthStatus is the /health response body
type HealthStatus struct {
	Status            string    `json:"status"`
	Loop              string    `json:"loop"`
	LastReadingTime   time.Time `json:"lastReadingTime,omitzero"`
	ReadingAgeSeconds float64   `json:"readingAgeSeconds,omitempty"`
	LastPushTime      time.Time `json:"lastPushTime,omitzero"`
	BufferedReadings  int       `json:"bufferedReadings,omitempty"`
	DroppedReadings   uint64    `json:"droppedReadings,omitempty"`
}

// ReadingResponse is the /reading response body
type ReadingResponse struct {
	Value       string    `json:"value"`
	Unit        string    `json:"unit"`
	Trend       string    `json:"trend"`
	TrendSymbol string    `json:"trendSymbol"`
	Summary     string    `json:"summary"`
	Timestamp   time.Time `json:"timestamp"`
}

// HealthServer serves /health and /reading over the cycle accessor
type HealthServer struct {
	cycle  Accessor
	pusher *Pusher
	server *http.Server
	logger *zap.Logger
	now    func() time.Time
}

// NewHealthServer creates the server; pusher may be nil when remote-write is disabled
func NewHealthServer(cycle Accessor, pusher *Pusher, port int, logger *zap.Logger) *HealthServer {
	hs := &HealthServer{
		cycle:  cycle,
		pusher: pusher,
		logger: logger,
		now:    time.Now,
	}

	hs.server = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      hs.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return hs
}

// Handler exposes the routes for embedding and tests
func (hs *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", hs.handleHealth)
	mux.HandleFunc("GET /reading", hs.handleReading)
	return mux
}

// Start serves until Stop is called
func (hs *HealthServer) Start() error {
	hs.logger.Info("starting health check server", zap.String("addr", hs.server.Addr))
	if err := hs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health check server error: %w", err)
	}
	return nil
}

// Stop closes the listener
func (hs *HealthServer) Stop() error {
	return hs.server.Close()
}

func (hs *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	loop := hs.cycle.Status()
	status := HealthStatus{Status: "healthy", Loop: loop.String()}

	staleAfter := 3 * hs.cycle.Interval()
	if staleAfter < minStaleAfter {
		staleAfter = minStaleAfter
	}

	if reading, ok := hs.cycle.Latest(); ok {
		status.LastReadingTime = reading.Timestamp
		age := hs.now().Sub(reading.Timestamp)
		status.ReadingAgeSeconds = age.Seconds()
		if age > staleAfter {
			status.Status = "stale"
		}
	} else if loop != poller.StatusStopped {
		status.Status = "starting"
	}

	if hs.pusher != nil {
		status.LastPushTime = hs.pusher.LastPushTime()
		status.BufferedReadings = hs.pusher.Buffered()
		status.DroppedReadings = hs.pusher.Dropped()
	}

	code := http.StatusOK
	if loop == poller.StatusStopped {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	} else if status.Status == "stale" {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, status, hs.logger)
}

func (hs *HealthServer) handleReading(w http.ResponseWriter, _ *http.Request) {
	reading, ok := hs.cycle.Latest()
	if !ok {
		http.Error(w, "no reading yet", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, ReadingResponse{
		Value:       reading.FormattedValue(),
		Unit:        string(reading.Unit),
		Trend:       reading.Trend.String(),
		TrendSymbol: reading.Trend.Symbol(),
		Summary:     reading.Summary(),
		Timestamp:   reading.Timestamp,
	}, hs.logger)
}

func writeJSON(w http.ResponseWriter, code int, body any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("failed to write response", zap.Error(err))
	}
}
