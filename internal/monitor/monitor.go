// Package monitor exposes the engine's read-only state and UI-triggered
// commands over HTTP, and relays the event bus to websocket clients. It is
// the only package that touches chi/cors/websocket — every handler calls
// back into the narrow controller interfaces below rather than reaching
// into dmx/scheduler/fixture internals directly.
package monitor

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/veilstage/pulsegrid/internal/bridge"
	"github.com/veilstage/pulsegrid/internal/dmx"
	"github.com/veilstage/pulsegrid/internal/events"
	"github.com/veilstage/pulsegrid/internal/fixture"
	"github.com/veilstage/pulsegrid/internal/sustain"
	"github.com/veilstage/pulsegrid/internal/version"
)

// EngineControl starts and stops the audio-reactive pipeline (dmx refresh +
// scheduler tick) as a unit. main wires the engine itself; tests can supply
// a fake.
type EngineControl interface {
	Start()
	Stop()
}

// ThresholdInfo is a band's current auto/manual threshold state.
type ThresholdInfo struct {
	Value float64 `json:"value"`
	Auto  bool    `json:"auto"`
}

// ThresholdStore guards concurrent access to the per-band sustain
// detectors: T-audio calls Update on them every chunk, while HTTP handlers
// call SetManualThreshold/SetAutoThreshold from a different goroutine. A
// single mutex here is the only thing making that safe, mirroring how
// dmx.Buffer and scheduler.Scheduler each guard their own state.
type ThresholdStore struct {
	mu        sync.Mutex
	detectors map[fixture.Band]*sustain.Detector
}

// NewThresholdStore wraps a band's worth of sustain detectors.
func NewThresholdStore(detectors map[fixture.Band]*sustain.Detector) *ThresholdStore {
	return &ThresholdStore{detectors: detectors}
}

// WithDetector runs fn with exclusive access to band's detector. T-audio's
// per-chunk Update call must also go through this, not call the detector
// directly, or the mutex stops being the single gate it's meant to be.
func (t *ThresholdStore) WithDetector(band fixture.Band, fn func(*sustain.Detector)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.detectors[band]
	if !ok {
		return false
	}
	fn(d)
	return true
}

// Snapshot returns every band's current threshold state.
func (t *ThresholdStore) Snapshot() map[fixture.Band]ThresholdInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[fixture.Band]ThresholdInfo, len(t.detectors))
	for band, d := range t.detectors {
		out[band] = ThresholdInfo{Value: d.Threshold(), Auto: d.AutoMode()}
	}
	return out
}

// MonitorSettings is the UI's audio-monitor selection: which band is being
// listened to and at what volume. The engine has no audio output device of
// its own, so these values are stored purely for the UI to read back.
type MonitorSettings struct {
	mu     sync.Mutex
	Band   string  `json:"band"`
	Volume float64 `json:"volume"`
}

func (m *MonitorSettings) set(band string, volume float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Band = band
	m.Volume = volume
}

func (m *MonitorSettings) get() MonitorSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MonitorSettings{Band: m.Band, Volume: m.Volume}
}

// LevelsFn returns the most recently computed per-band levels as a generic
// map, avoiding a dependency from monitor on audioband's concrete Levels
// type (kept narrow, same spirit as bridge's scheduler/registry interfaces).
type LevelsFn func() map[string]float64

// AudioSink receives one mono float32 chunk decoded off the /ws/audio
// ingest stream — the concrete stand-in for "the audio capture layer hands
// us mono float32 chunks": there is no OS audio device in this repo, so a
// collaborator (a capture client, a test harness) streams PCM over this
// websocket instead of a callback.
type AudioSink func(samples []float32)

// Config wires a Server to the running engine's components.
type Config struct {
	CORSOrigin string
	Version    string
	DMXBuffer  *dmx.Buffer
	Registry   *fixture.Registry
	Bridge     *bridge.Bridge
	Thresholds *ThresholdStore
	Bus        *events.Bus
	Engine     EngineControl
	Levels     LevelsFn
	DroppedFn  func() uint64
	AudioSink  AudioSink

	// OnKickFlashChange, if set, is called after every successful
	// POST /api/kick-flash with the newly applied config, so the caller can
	// persist it (main saves it to the settings table).
	OnKickFlashChange func(bridge.FlashConfig)
}

// Server is the chi-routed HTTP+WS API described by the monitor/control
// component.
type Server struct {
	cfg       Config
	router    *chi.Mux
	monitor   *MonitorSettings
	running   int32
	upgrader  websocket.Upgrader
}

// New builds a Server and registers every route.
func New(cfg Config) *Server {
	s := &Server{
		cfg:     cfg,
		monitor: &MonitorSettings{},
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.CORSOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	})
	r.Use(corsMiddleware.Handler)

	r.Get("/health", s.handleHealth)
	r.Get("/api/universe", s.handleUniverse)
	r.Get("/api/fixtures", s.handleFixtures)
	r.Get("/api/bands", s.handleBands)
	r.Post("/api/threshold", s.handleSetThreshold)
	r.Post("/api/monitor", s.handleSetMonitor)
	r.Post("/api/engine/start", s.handleEngineStart)
	r.Post("/api/engine/stop", s.handleEngineStop)
	r.Post("/api/kick-flash", s.handleKickFlash)
	r.Get("/ws/events", s.handleWS)
	r.Get("/ws/audio", s.handleAudioWS)

	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var dropped uint64
	if s.cfg.DroppedFn != nil {
		dropped = s.cfg.DroppedFn()
	}
	build := version.GetBuildInfo()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"version":       s.cfg.Version,
		"gitCommit":     build.GitCommit,
		"buildTime":     build.BuildTime,
		"droppedEvents": dropped,
	})
}

func (s *Server) handleUniverse(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.DMXBuffer.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{"universe": snap[:]})
}

type fixtureStatus struct {
	Name            string `json:"name"`
	Band            string `json:"band"`
	RespondsToKicks bool   `json:"respondsToKicks"`
}

func (s *Server) handleFixtures(w http.ResponseWriter, r *http.Request) {
	names := s.cfg.Registry.Names()
	out := make([]fixtureStatus, 0, len(names))
	for _, name := range names {
		f, ok := s.cfg.Registry.Get(name)
		if !ok {
			continue
		}
		out = append(out, fixtureStatus{Name: f.Name, Band: string(f.Band), RespondsToKicks: f.RespondsToKicks})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"fixtures": out})
}

func (s *Server) handleBands(w http.ResponseWriter, r *http.Request) {
	var levels map[string]float64
	if s.cfg.Levels != nil {
		levels = s.cfg.Levels()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bands": levels})
}

type thresholdRequest struct {
	Band  string  `json:"band"`
	Value float64 `json:"value"`
	Auto  bool    `json:"auto"`
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	band := fixture.Band(req.Band)
	ok := s.cfg.Thresholds.WithDetector(band, func(d *sustain.Detector) {
		if req.Auto {
			d.SetAutoThreshold(true)
		} else {
			d.SetManualThreshold(req.Value)
		}
	})
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown band")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Thresholds.Snapshot())
}

type monitorRequest struct {
	Band   string  `json:"band"`
	Volume float64 `json:"volume"`
}

func (s *Server) handleSetMonitor(w http.ResponseWriter, r *http.Request) {
	var req monitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.monitor.set(req.Band, req.Volume)
	writeJSON(w, http.StatusOK, s.monitor.get())
}

func (s *Server) handleEngineStart(w http.ResponseWriter, r *http.Request) {
	s.cfg.Engine.Start()
	atomic.StoreInt32(&s.running, 1)
	s.cfg.Bus.Publish(events.TopicEngineState, map[string]bool{"running": true})
	writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (s *Server) handleEngineStop(w http.ResponseWriter, r *http.Request) {
	s.cfg.Engine.Stop()
	atomic.StoreInt32(&s.running, 0)
	s.cfg.Bus.Publish(events.TopicEngineState, map[string]bool{"running": false})
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

type kickFlashRequest struct {
	Enabled   bool     `json:"enabled"`
	Intensity float64  `json:"intensity"`
	Mode      string   `json:"mode"`
	Scenes    []string `json:"scenes"`
}

func (s *Server) handleKickFlash(w http.ResponseWriter, r *http.Request) {
	var req kickFlashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	newCfg := bridge.FlashConfig{
		Enabled:   req.Enabled,
		Intensity: req.Intensity,
		Mode:      bridge.Mode(req.Mode),
		Scenes:    req.Scenes,
	}
	s.cfg.Bridge.SetFlashConfig(newCfg)
	if s.cfg.OnKickFlashChange != nil {
		s.cfg.OnKickFlashChange(newCfg)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var relayedTopics = []events.Topic{
	events.TopicDMXFrameSent,
	events.TopicBandLevels,
	events.TopicKick,
	events.TopicSustainedEdge,
	events.TopicFadeProgress,
	events.TopicEngineState,
}

type wsFrame struct {
	Topic   events.Topic `json:"topic"`
	Payload interface{}  `json:"payload"`
}

// handleWS upgrades the connection and relays every topic in relayedTopics
// as JSON frames until the client disconnects. Writes are serialized with
// writeMu since gorilla/websocket connections aren't safe for concurrent
// writers.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	subs := make([]*events.Subscriber, len(relayedTopics))
	for i, topic := range relayedTopics {
		subs[i] = s.cfg.Bus.Subscribe(topic, 32)
	}
	defer func() {
		for _, sub := range subs {
			s.cfg.Bus.Unsubscribe(sub)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var writeMu sync.Mutex
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *events.Subscriber) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				case payload, ok := <-sub.Channel:
					if !ok {
						return
					}
					writeMu.Lock()
					err := conn.WriteJSON(wsFrame{Topic: sub.Topic, Payload: payload})
					writeMu.Unlock()
					if err != nil {
						return
					}
				}
			}
		}(sub)
	}
	wg.Wait()
}

// handleAudioWS upgrades the connection and treats every binary message as
// one chunk of little-endian float32 mono samples, handed to AudioSink in
// order. Non-binary messages are ignored.
func (s *Server) handleAudioWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AudioSink == nil {
		writeError(w, http.StatusServiceUnavailable, "audio ingest not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		s.cfg.AudioSink(decodeFloat32LE(data))
	}
}

// decodeFloat32LE interprets data as a sequence of little-endian float32
// samples, truncating any trailing partial sample.
func decodeFloat32LE(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
