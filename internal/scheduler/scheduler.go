// Package scheduler is the lighting engine's heart: it owns per-band
// sequence playback and per-fixture flash state, and arbitrates between them
// so that, at every tick, each DMX cell has exactly one effective writer.
package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veilstage/pulsegrid/internal/catalog"
	"github.com/veilstage/pulsegrid/internal/dmx"
	"github.com/veilstage/pulsegrid/internal/fixture"
)

// flashRegime is the boundary below which the intensity pipeline drops the
// normal-regime 25% floor, allowing visible dimming to black.
const flashRegime = 0.2

type flashRecord struct {
	start, target catalog.Channels
	duration      time.Duration
	startedAt     time.Time
	easing        catalog.EasingType
}

type bandState struct {
	activeSequence string
	stepIndex      int
	stepEnteredAt  time.Time
	intensity      float64
	baseIntensity  float64
	lastPainted    catalog.Channels
}

// Scheduler owns the universe buffer and arbitrates flash vs. sequence
// writes onto it. The zero value is not usable; construct with New.
type Scheduler struct {
	mu       sync.Mutex
	buffer   *dmx.Buffer
	registry *fixture.Registry
	catalog  *catalog.Catalog

	bandStates map[fixture.Band]*bandState
	flashes    map[string]*flashRecord // keyed by fixture name

	tickInterval time.Duration
	clock        func() time.Time

	stopCh  chan struct{}
	doneCh  chan struct{}
	running int32

	onTick func() // called once per completed tick, after all painting is done
}

// OnTick installs fn to run at the end of every Tick, after flashes and
// sequences have been painted (Tick does not flush the buffer; the DMX
// refresh worker picks the changes up). internal/engine uses this to drain the event queue and dispatch to the bridge in lock-step
// with the scheduler's own cadence, so a burst of detector events between
// two ticks collapses naturally instead of needing a second ticker.
func (s *Scheduler) OnTick(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTick = fn
}

// New constructs a Scheduler. tickInterval should be in [5ms,40ms] per the
// external config knobs (default 10ms).
func New(buffer *dmx.Buffer, registry *fixture.Registry, cat *catalog.Catalog, tickInterval time.Duration) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = 10 * time.Millisecond
	}
	return &Scheduler{
		buffer:       buffer,
		registry:     registry,
		catalog:      cat,
		bandStates:   make(map[fixture.Band]*bandState),
		flashes:      make(map[string]*flashRecord),
		tickInterval: tickInterval,
		clock:        time.Now,
	}
}

func (s *Scheduler) bandStateLocked(band fixture.Band) *bandState {
	bs, ok := s.bandStates[band]
	if !ok {
		bs = &bandState{}
		s.bandStates[band] = bs
	}
	return bs
}

// clampToBase implements the shared clamping rule for start_sequence and
// update_intensity: raised to at least base_intensity, unless the caller is
// asking for less than half of base (a deliberate deep dim, e.g. a fade to
// black), in which case the raw value passes through untouched.
func clampToBase(intensity, base float64) float64 {
	if intensity < 0.5*base {
		return intensity
	}
	if intensity < base {
		return base
	}
	return intensity
}

// pipelineIntensity is the §4.5.1 intensity pipeline: fade regime below 0.2
// has no floor (so a sequence can visibly dim to black); the normal regime
// applies a 25% floor so "on" always reads as on.
func pipelineIntensity(intensity, multiplier float64) float64 {
	if intensity < flashRegime {
		return intensity * multiplier
	}
	return (0.25 + 0.75*intensity) * multiplier
}

func lerpByte(a, b uint8, p float64) uint8 {
	v := float64(a) + (float64(b)-float64(a))*p
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

func interpolateChannels(start, target catalog.Channels, p float64) catalog.Channels {
	return catalog.Channels{
		Red:   lerpByte(start.Red, target.Red, p),
		Green: lerpByte(start.Green, target.Green, p),
		Blue:  lerpByte(start.Blue, target.Blue, p),
		White: lerpByte(start.White, target.White, p),
	}
}

func (s *Scheduler) paintFixtureLocked(f fixture.Fixture, c catalog.Channels) {
	addrs := f.Addresses()
	s.buffer.SetMany(map[int]byte{
		addrs[0]: c.Red,
		addrs[1]: c.Green,
		addrs[2]: c.Blue,
		addrs[3]: c.White,
	})
}

func (s *Scheduler) paintFixtureByNameLocked(name string, c catalog.Channels) {
	f, ok := s.registry.Get(name)
	if !ok {
		return
	}
	s.paintFixtureLocked(f, c)
}

func (s *Scheduler) currentBufferChannelsLocked(f fixture.Fixture) catalog.Channels {
	addrs := f.Addresses()
	return catalog.Channels{
		Red:   s.buffer.Get(addrs[0]),
		Green: s.buffer.Get(addrs[1]),
		Blue:  s.buffer.Get(addrs[2]),
		White: s.buffer.Get(addrs[3]),
	}
}

// flashedFixtureNamesLocked is the set of fixtures currently under an active
// priority flash; sequence painting must never touch them.
func (s *Scheduler) flashedFixtureNamesLocked() map[string]bool {
	skip := make(map[string]bool, len(s.flashes))
	for name := range s.flashes {
		skip[name] = true
	}
	return skip
}

// paintStepLocked paints the given step's scene onto every fixture in band,
// except those currently under a priority flash, applying the intensity
// pipeline. It also records the result as the band's lastPainted channels,
// the source fire_flash samples as a flash's target.
func (s *Scheduler) paintStepLocked(band fixture.Band, bs *bandState, step catalog.Step, skip map[string]bool) {
	scene, ok := s.catalog.Scene(step.SceneName)
	if !ok {
		return
	}
	effective := pipelineIntensity(bs.intensity, step.Multiplier())
	painted := scene.Channels.Scale(effective)
	bs.lastPainted = painted

	for _, f := range s.registry.ByBand(band) {
		if skip[f.Name] {
			continue
		}
		s.paintFixtureLocked(f, painted)
	}
}

// StartSequence loads sequenceName for band, resets step index/entry time,
// and immediately paints the first step (subject to the flash priority
// rule) so the band doesn't sit dark until the first tick boundary.
func (s *Scheduler) StartSequence(band fixture.Band, sequenceName string, intensity float64) error {
	seq, ok := s.catalog.Sequence(sequenceName)
	if !ok {
		return fmt.Errorf("scheduler: unknown sequence %q", sequenceName)
	}
	if seq.Band != band {
		return fmt.Errorf("scheduler: sequence %q is bound to band %q, not %q", sequenceName, seq.Band, band)
	}

	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()

	bs := s.bandStateLocked(band)
	bs.activeSequence = sequenceName
	bs.stepIndex = 0
	bs.stepEnteredAt = now
	bs.baseIntensity = seq.BaseIntensity
	bs.intensity = clampToBase(intensity, seq.BaseIntensity)

	s.paintStepLocked(band, bs, seq.StepAt(0), s.flashedFixtureNamesLocked())
	return nil
}

// StopSequence clears band's state and writes black to every fixture in
// that band. Fixtures currently mid-flash are repainted black here too, but
// the next tick's flash pass runs first and will immediately overwrite them
// with their in-flight decay value — by design, a stopped sequence does not
// truncate an active flash, which keeps decaying toward the color it
// sampled at flash start.
func (s *Scheduler) StopSequence(band fixture.Band) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs := s.bandStateLocked(band)
	bs.activeSequence = ""
	bs.lastPainted = catalog.Channels{}

	for _, f := range s.registry.ByBand(band) {
		s.paintFixtureLocked(f, catalog.Channels{})
	}
}

// BaseIntensity returns the base_intensity a prior StartSequence call
// established for band, or 0 if the band has never had a sequence started.
func (s *Scheduler) BaseIntensity(band fixture.Band) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	bs, ok := s.bandStates[band]
	if !ok {
		return 0
	}
	return bs.baseIntensity
}

// UpdateIntensity applies the same clamping rule as StartSequence. The new
// intensity takes effect on the next step application (tick boundary or the
// next StartSequence), not immediately — painting only happens when a step
// is (re)applied.
func (s *Scheduler) UpdateIntensity(band fixture.Band, intensity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bs := s.bandStateLocked(band)
	bs.intensity = clampToBase(intensity, bs.baseIntensity)
}

// FireFlash installs or replaces a priority flash on every fixture in
// targets. target_channels is sampled from the fixture's band's
// currently-painted sequence step (black if the band is idle), so the flash
// decays into the sequence rather than to black. start_channels is the
// scene's own channels scaled by intensity — unless a flash is already
// active on that fixture, in which case the replacement samples its start
// from the fixture's *current* DMX values, avoiding a visual pop back to
// full brightness mid-decay.
func (s *Scheduler) FireFlash(sceneName string, targets []fixture.Fixture, intensity float64) error {
	scene, ok := s.catalog.Scene(sceneName)
	if !ok {
		return fmt.Errorf("scheduler: unknown scene %q", sceneName)
	}

	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range targets {
		bs := s.bandStateLocked(f.Band)
		target := catalog.Channels{}
		if bs.activeSequence != "" {
			target = bs.lastPainted
		}

		var start catalog.Channels
		if _, active := s.flashes[f.Name]; active {
			start = s.currentBufferChannelsLocked(f)
		} else {
			start = scene.Channels.Scale(intensity)
		}

		s.flashes[f.Name] = &flashRecord{
			start:     start,
			target:    target,
			duration:  scene.Decay,
			startedAt: now,
			easing:    scene.Easing,
		}
		s.paintFixtureLocked(f, start)
	}
	return nil
}

// Tick runs one full scheduler pass at the given instant: flash decay first
// (so flashes always win the tick), then sequence step advancement. It is
// exported, taking an explicit instant, so tests can drive it
// deterministically; Start/Stop wrap it in a real-time ticker loop.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()

	// 1. Flash decay, always before sequence advancement.
	for name, fr := range s.flashes {
		p := float64(now.Sub(fr.startedAt)) / float64(fr.duration)
		if p >= 1 {
			s.paintFixtureByNameLocked(name, fr.target)
			delete(s.flashes, name)
			continue
		}
		s.paintFixtureByNameLocked(name, interpolateChannels(fr.start, fr.target, catalog.ApplyEasing(p, fr.easing)))
	}

	// 2. Sequence step advancement, skipping fixtures under an active flash.
	skip := s.flashedFixtureNamesLocked()
	for band, bs := range s.bandStates {
		if bs.activeSequence == "" {
			continue
		}
		seq, ok := s.catalog.Sequence(bs.activeSequence)
		if !ok {
			bs.activeSequence = ""
			continue
		}
		step := seq.StepAt(bs.stepIndex)
		if now.Sub(bs.stepEnteredAt) < step.Duration {
			continue
		}

		bs.stepIndex++
		if bs.stepIndex >= len(seq.Steps) {
			if seq.Loop {
				bs.stepIndex = 0
			} else {
				bs.activeSequence = ""
				continue
			}
		}
		bs.stepEnteredAt = now
		s.paintStepLocked(band, bs, seq.StepAt(bs.stepIndex), skip)
	}

	onTick := s.onTick
	s.mu.Unlock()

	// onTick runs outside the lock: it typically dispatches detector events
	// back into this same Scheduler's exported methods, which would
	// deadlock on a reentrant Lock if called while still held.
	if onTick != nil {
		onTick()
	}
}

// Start launches the dedicated scheduler goroutine (T-scheduler), ticking
// at tickInterval until Stop is called.
func (s *Scheduler) Start() {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case now := <-ticker.C:
				s.Tick(now)
			}
		}
	}()
}

// Stop signals the scheduler goroutine to exit and waits up to 1s.
func (s *Scheduler) Stop() {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return
	}
	close(s.stopCh)
	select {
	case <-s.doneCh:
	case <-time.After(time.Second):
	}
}
