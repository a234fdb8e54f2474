// Package engine is the composition root for the audio-reactive pipeline:
// it owns the band analyzer, kick and sustain detectors, the event queue
// and bus, and the bridge that drives the scheduler, wiring them together
// the way cmd/server/main.go used to wire dmxService/fadeEngine/playback
// directly.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/veilstage/pulsegrid/internal/audioband"
	"github.com/veilstage/pulsegrid/internal/bridge"
	"github.com/veilstage/pulsegrid/internal/dmx"
	"github.com/veilstage/pulsegrid/internal/events"
	"github.com/veilstage/pulsegrid/internal/fixture"
	"github.com/veilstage/pulsegrid/internal/kick"
	"github.com/veilstage/pulsegrid/internal/monitor"
	"github.com/veilstage/pulsegrid/internal/scheduler"
	"github.com/veilstage/pulsegrid/internal/sustain"
)

// Config tunes every stage of the pipeline; see internal/config for the
// env-driven defaults that populate this.
type Config struct {
	SampleRate    float64
	Gain          float64 // input gain applied before FFT/kick analysis, default 1.0
	Analyzer      audioband.Config
	Kick          kick.Config
	Sustain       sustain.Config
	Flash         bridge.FlashConfig
	BandSequences map[fixture.Band]string
	QueueCapacity int
}

func (c Config) withDefaults() Config {
	if c.Gain <= 0 {
		c.Gain = 1.0
	}
	return c
}

// Engine is the running audio-reactive pipeline: T-audio's entry point
// (ProcessAudioChunk) and T-scheduler's event-dispatch hook (dispatchTick),
// connected through a bounded events.Queue.
type Engine struct {
	cfg Config

	buffer    *dmx.Buffer
	sched     *scheduler.Scheduler
	bridgeVal *bridge.Bridge

	analyzer     *audioband.Analyzer
	kickDetector *kick.Detector
	thresholds   *monitor.ThresholdStore

	queue *events.Queue
	bus   *events.Bus

	mu         sync.Mutex
	lastLevels audioband.Levels

	onError func(error)
}

// New constructs an Engine bound to an already-built buffer, registry, and
// scheduler (the scheduler must have been constructed with the same
// buffer/registry/catalog). It installs itself as the scheduler's OnTick
// hook.
func New(buffer *dmx.Buffer, registry *fixture.Registry, sched *scheduler.Scheduler, cfg Config) *Engine {
	cfg = cfg.withDefaults()

	detectors := make(map[fixture.Band]*sustain.Detector, len(fixture.ValidBands))
	for _, b := range fixture.ValidBands {
		detectors[b] = sustain.New(cfg.Sustain)
	}

	e := &Engine{
		cfg:          cfg,
		buffer:       buffer,
		sched:        sched,
		bridgeVal:    bridge.New(sched, registry, cfg.Flash, cfg.BandSequences),
		analyzer:     audioband.New(cfg.Analyzer),
		kickDetector: kick.New(cfg.Kick),
		thresholds:   monitor.NewThresholdStore(detectors),
		queue:        events.NewQueue(cfg.QueueCapacity),
		bus:          events.NewBus(),
	}
	sched.OnTick(e.dispatchTick)
	return e
}

// SetErrorHandler installs a callback invoked when dispatching a drained
// event to the bridge fails (e.g. a kick on a band with no configured
// flash scenes). Never fatal, matching the bridge's own error taxonomy.
func (e *Engine) SetErrorHandler(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = fn
}

func (e *Engine) reportError(err error) {
	e.mu.Lock()
	fn := e.onError
	e.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Bridge returns the bridge, for callers (the monitor API) that need to
// reconfigure kick-flash behavior.
func (e *Engine) Bridge() *bridge.Bridge { return e.bridgeVal }

// Bus returns the observability event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Thresholds returns the band threshold store, for the monitor API.
func (e *Engine) Thresholds() *monitor.ThresholdStore { return e.thresholds }

// DroppedEvents reports how many queued detector events have been evicted
// for overflow since startup.
func (e *Engine) DroppedEvents() uint64 { return e.queue.Dropped() }

// Levels returns the most recently computed per-band levels, keyed by band
// name, for the monitor API.
func (e *Engine) Levels() map[string]float64 {
	e.mu.Lock()
	l := e.lastLevels
	e.mu.Unlock()
	return l.AsMap()
}

// Start begins the DMX refresh worker and the scheduler tick loop.
func (e *Engine) Start() {
	e.buffer.Start()
	e.sched.Start()
}

// Stop halts the scheduler before the DMX refresh worker, so the refresh
// worker's shutdown blackout is the last frame transmitted.
func (e *Engine) Stop() {
	e.sched.Stop()
	e.buffer.Stop()
}

// ProcessAudioChunk is T-audio's entry point: one mono float32 chunk in,
// every pipeline stage (C6, C7, C8) run, their outputs enqueued for
// T-scheduler to dispatch on its own cadence. It never blocks beyond the
// bounded work of its own stages; it does not wait on the scheduler.
func (e *Engine) ProcessAudioChunk(samples []float32, now time.Time) {
	if len(samples) == 0 {
		return
	}

	levels := e.analyzer.Process(samples, e.cfg.Gain)
	e.mu.Lock()
	e.lastLevels = levels
	e.mu.Unlock()
	e.bus.Publish(events.TopicBandLevels, levels.AsMap())

	if result := e.kickDetector.Process(samples); result.Kick {
		e.queue.Publish(events.Message{Kind: events.Kick, Band: string(fixture.Bass)})
		e.bus.Publish(events.TopicKick, map[string]interface{}{"band": fixture.Bass, "combined": result.Combined})
	}

	dt := time.Duration(float64(len(samples)) / e.cfg.SampleRate * float64(time.Second))
	for _, band := range fixture.ValidBands {
		level := levels.Get(audioband.Band(band))

		var sustainEvents []sustain.Event
		e.thresholds.WithDetector(band, func(d *sustain.Detector) {
			sustainEvents = d.Update(level, dt, now)
		})

		for _, ev := range sustainEvents {
			e.publishSustainEvent(band, ev)
		}
	}
}

func (e *Engine) publishSustainEvent(band fixture.Band, ev sustain.Event) {
	var kind events.Kind
	var topic events.Topic
	switch ev.Kind {
	case sustain.SustainedStart:
		kind, topic = events.SustainedStart, events.TopicSustainedEdge
	case sustain.SustainedUpdate:
		kind, topic = events.SustainedUpdate, events.TopicSustainedEdge
	case sustain.SustainedEnd:
		kind, topic = events.SustainedEnd, events.TopicSustainedEdge
	case sustain.FadeUpdate:
		kind, topic = events.FadeUpdate, events.TopicFadeProgress
	case sustain.FadeComplete:
		kind, topic = events.FadeComplete, events.TopicFadeProgress
	default:
		return
	}
	e.queue.Publish(events.Message{Kind: kind, Band: string(band), Intensity: ev.Intensity})
	e.bus.Publish(topic, map[string]interface{}{"kind": kind, "band": band, "intensity": ev.Intensity})
}

// dispatchTick drains every event queued since the last tick and feeds it
// to the bridge, then flushes the bridge's coalesced sustained_update
// values. Installed as the scheduler's OnTick hook, so it runs once per
// tick, synchronized with — but not holding — the scheduler's own lock.
func (e *Engine) dispatchTick() {
	for _, m := range e.queue.Drain() {
		band := fixture.Band(m.Band)
		var err error
		switch m.Kind {
		case events.Kick:
			err = e.bridgeVal.HandleKick(band)
		case events.SustainedStart:
			err = e.bridgeVal.HandleSustainedStart(band, m.Intensity)
		case events.SustainedUpdate:
			e.bridgeVal.HandleSustainedUpdate(band, m.Intensity)
		case events.SustainedEnd:
			e.bridgeVal.HandleSustainedEnd(band)
		case events.FadeUpdate:
			e.bridgeVal.HandleFadeUpdate(band, m.Intensity)
		case events.FadeComplete:
			e.bridgeVal.HandleFadeComplete(band)
		}
		if err != nil {
			e.reportError(fmt.Errorf("engine: dispatching %s: %w", m.Kind, err))
		}
	}
	e.bridgeVal.FlushPending()
}
