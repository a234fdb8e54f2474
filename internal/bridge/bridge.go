// Package bridge is the trivial-but-load-bearing glue that translates
// detector events (kick, sustained, fade) into scheduler operations. It
// never holds DMX or audio state of its own beyond what's needed to pick the
// next flash scene and coalesce intensity updates between scheduler ticks.
package bridge

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/veilstage/pulsegrid/internal/fixture"
)

// Mode selects how next_flash_scene walks the configured scene list.
type Mode string

const (
	ModeSingle    Mode = "single"
	ModeAlternate Mode = "alternate"
	ModeRandom    Mode = "random"
)

// kickAmplification is the factor applied to a kick's flash intensity before
// clamping to 1.0, ensuring a kick flash visually dominates its surroundings.
const kickAmplification = 1.5

// FlashConfig is the `kick_flash_config` persisted file: which scenes a kick
// cycles through, how it picks among them, and whether kicks drive a flash
// at all.
type FlashConfig struct {
	Enabled        bool
	Intensity      float64
	Mode           Mode
	Scenes         []string
	AlternateIndex int // round-robin cursor, only meaningful for ModeAlternate; held in memory only, not part of the stored kick_flash_config setting
}

// scheduler is the subset of *scheduler.Scheduler the bridge depends on,
// kept narrow so tests can supply a recording fake instead of a real buffer
// and catalog.
type scheduler interface {
	FireFlash(sceneName string, targets []fixture.Fixture, intensity float64) error
	StartSequence(band fixture.Band, sequenceName string, intensity float64) error
	StopSequence(band fixture.Band)
	UpdateIntensity(band fixture.Band, intensity float64)
	BaseIntensity(band fixture.Band) float64
}

// registry is the subset of *fixture.Registry the bridge depends on.
type registry interface {
	KickResponsiveInBand(band fixture.Band) []fixture.Fixture
}

// Bridge wires detector events to scheduler calls. The zero value is not
// usable; construct with New.
type Bridge struct {
	sched    scheduler
	registry registry

	mu            sync.Mutex
	flash         FlashConfig
	bandSequences map[fixture.Band]string
	rng           *rand.Rand
	pendingBand   map[fixture.Band]float64 // sustained_update values not yet flushed to the scheduler
}

// New constructs a Bridge. bandSequences maps each band to the sequence
// name sustained_start should hand the scheduler.
func New(sched scheduler, reg registry, flash FlashConfig, bandSequences map[fixture.Band]string) *Bridge {
	return &Bridge{
		sched:         sched,
		registry:      reg,
		flash:         flash,
		bandSequences: bandSequences,
		rng:           rand.New(rand.NewSource(1)),
		pendingBand:   make(map[fixture.Band]float64),
	}
}

// SetFlashConfig swaps the kick-flash configuration (the UI command
// `configure_kick_flash`). The whole config is replaced, including the
// alternate-mode cursor, which takes the caller's AlternateIndex.
func (b *Bridge) SetFlashConfig(cfg FlashConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flash = cfg
}

// nextFlashScene draws a scene name from the configured list per the
// configured mode. The caller holds b.mu.
func (b *Bridge) nextFlashScene() (string, bool) {
	if len(b.flash.Scenes) == 0 {
		return "", false
	}
	switch b.flash.Mode {
	case ModeAlternate:
		idx := b.flash.AlternateIndex % len(b.flash.Scenes)
		b.flash.AlternateIndex = (b.flash.AlternateIndex + 1) % len(b.flash.Scenes)
		return b.flash.Scenes[idx], true
	case ModeRandom:
		return b.flash.Scenes[b.rng.Intn(len(b.flash.Scenes))], true
	default: // ModeSingle and unrecognized modes both pin to the first scene
		return b.flash.Scenes[0], true
	}
}

// HandleKick maps a `kick` event on band to
// fire_flash(next_flash_scene(), kick_responsive_fixtures_of_band, intensity*1.5 clamped to 1.0).
func (b *Bridge) HandleKick(band fixture.Band) error {
	b.mu.Lock()
	if !b.flash.Enabled {
		b.mu.Unlock()
		return nil
	}
	scene, ok := b.nextFlashScene()
	intensity := b.flash.Intensity * kickAmplification
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("bridge: kick on band %q with no configured flash scenes", band)
	}
	if intensity > 1.0 {
		intensity = 1.0
	}

	targets := b.registry.KickResponsiveInBand(band)
	if len(targets) == 0 {
		return nil
	}
	return b.sched.FireFlash(scene, targets, intensity)
}

// HandleSustainedStart maps `sustained_start(b, i)` to
// start_sequence(b, sequence_for_band(b), i).
func (b *Bridge) HandleSustainedStart(band fixture.Band, intensity float64) error {
	b.mu.Lock()
	seqName, ok := b.bandSequences[band]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("bridge: no configured sequence for band %q", band)
	}
	return b.sched.StartSequence(band, seqName, intensity)
}

// HandleSustainedUpdate maps `sustained_update(b, i)`. Per the recommended
// resolution to the source's open question on update volume, it does not
// call update_intensity immediately: it stores the latest value per band and
// waits for FlushPending, so bursts of updates between scheduler ticks
// collapse to the single latest value.
func (b *Bridge) HandleSustainedUpdate(band fixture.Band, intensity float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pendingBand[band] = intensity
}

// FlushPending applies every band's latest pending sustained_update value to
// the scheduler and clears the pending set. Intended to be called once per
// scheduler tick.
func (b *Bridge) FlushPending() {
	b.mu.Lock()
	pending := b.pendingBand
	b.pendingBand = make(map[fixture.Band]float64)
	b.mu.Unlock()

	for band, intensity := range pending {
		b.sched.UpdateIntensity(band, intensity)
	}
}

// HandleSustainedEnd maps `sustained_end(b)` to stop_sequence(b).
func (b *Bridge) HandleSustainedEnd(band fixture.Band) {
	b.mu.Lock()
	delete(b.pendingBand, band)
	b.mu.Unlock()
	b.sched.StopSequence(band)
}

// HandleFadeUpdate maps `fade_update(b, i)` to
// update_intensity(b, base_intensity(b) * i). Fade updates bypass the
// pending-coalescing path: a fade's whole point is a smooth, monotonic
// ramp, so every sample should land on the wire.
func (b *Bridge) HandleFadeUpdate(band fixture.Band, i float64) {
	base := b.sched.BaseIntensity(band)
	b.sched.UpdateIntensity(band, base*i)
}

// HandleFadeComplete maps `fade_complete(b)` to stop_sequence(b).
func (b *Bridge) HandleFadeComplete(band fixture.Band) {
	b.sched.StopSequence(band)
}
