// Package sustain implements the adaptive per-band threshold, sustained-
// level latch, and silence-triggered fade-to-black state machine. One
// Detector instance tracks exactly one band.
package sustain

import (
	"math"
	"time"
)

// EventKind identifies which of the five detector events fired.
type EventKind string

const (
	SustainedStart  EventKind = "sustained_start"
	SustainedUpdate EventKind = "sustained_update"
	SustainedEnd    EventKind = "sustained_end"
	FadeUpdate      EventKind = "fade_update"
	FadeComplete    EventKind = "fade_complete"
)

// Event is one emission from Update; Intensity is meaningful for every kind
// except SustainedEnd and FadeComplete.
type Event struct {
	Kind      EventKind
	Intensity float64
}

// Config holds every tunable named in the external config knobs
// (`sustained{...}`, `fade{...}`) plus the adaptive-threshold constants.
type Config struct {
	WindowSize          int           // rolling level window, default 40
	StabilityWindow     int           // mean/variance lookback, default 20
	StabilityThreshold  float64       // max variance to call "stable", default 0.1
	SilenceThreshold    float64       // level below which counts as silence, default 0.05
	FadeStartDelay      time.Duration // silence duration before a fade begins, default 3s
	FadeDuration        time.Duration // fade length, default 5s
	ThresholdHistory    int           // adaptive-threshold history size, default 300
	ThresholdRateLimit  float64       // max per-update threshold movement, default 0.03
	ThresholdMin        float64       // default 0.05
	ThresholdMax        float64       // default 0.7
	ThresholdIQRFactor  float64       // default 0.15
	InitialThreshold    float64       // default 0.1
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 40
	}
	if c.StabilityWindow <= 0 {
		c.StabilityWindow = 20
	}
	if c.StabilityThreshold <= 0 {
		c.StabilityThreshold = 0.1
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 0.05
	}
	if c.FadeStartDelay <= 0 {
		c.FadeStartDelay = 3 * time.Second
	}
	if c.FadeDuration <= 0 {
		c.FadeDuration = 5 * time.Second
	}
	if c.ThresholdHistory <= 0 {
		c.ThresholdHistory = 300
	}
	if c.ThresholdRateLimit <= 0 {
		c.ThresholdRateLimit = 0.03
	}
	if c.ThresholdMin <= 0 {
		c.ThresholdMin = 0.05
	}
	if c.ThresholdMax <= 0 {
		c.ThresholdMax = 0.7
	}
	if c.ThresholdIQRFactor <= 0 {
		c.ThresholdIQRFactor = 0.15
	}
	if c.InitialThreshold <= 0 {
		c.InitialThreshold = 0.1
	}
	return c
}

// Detector tracks one band's adaptive threshold, sustained-level state, and
// fade-to-black progress across successive Update calls.
type Detector struct {
	cfg Config

	threshold float64
	autoMode  bool

	levelHistory     []float64
	thresholdHistory []float64

	sustained bool

	inFade          bool
	fadeDone        bool
	silenceDuration time.Duration
	fadeStart       time.Time
}

// New constructs a Detector in auto-threshold mode.
func New(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{cfg: cfg, threshold: cfg.InitialThreshold, autoMode: true}
}

// Threshold returns the band's current threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// AutoMode reports whether the threshold is still being adapted
// automatically.
func (d *Detector) AutoMode() bool { return d.autoMode }

// SetManualThreshold pins the threshold and disables automatic adaptation.
func (d *Detector) SetManualThreshold(value float64) {
	d.threshold = clamp(value, d.cfg.ThresholdMin, d.cfg.ThresholdMax)
	d.autoMode = false
}

// SetAutoThreshold re-enables (or disables) automatic threshold adaptation.
func (d *Detector) SetAutoThreshold(enabled bool) {
	d.autoMode = enabled
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func pushBounded(hist []float64, v float64, cap int) []float64 {
	hist = append(hist, v)
	if len(hist) > cap {
		hist = hist[len(hist)-cap:]
	}
	return hist
}

func meanVar(values []float64) (mean, variance float64) {
	n := len(values)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(n)
	var sqSum float64
	for _, v := range values {
		d := v - mean
		sqSum += d * d
	}
	variance = sqSum / float64(n)
	return mean, variance
}

func sortFloats(values []float64) {
	for i := 1; i < len(values); i++ {
		for j := i; j > 0 && values[j-1] > values[j]; j-- {
			values[j-1], values[j] = values[j], values[j-1]
		}
	}
}

func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sortFloats(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// quartiles returns Q1 and Q3 via linear interpolation over the sorted copy.
func quartiles(values []float64) (q1, q3 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), values...)
	sortFloats(sorted)
	q1 = percentile(sorted, 0.25)
	q3 = percentile(sorted, 0.75)
	return q1, q3
}

func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// updateThreshold pushes level onto the adaptive-threshold history and, once
// it is full, rate-limits the threshold toward median+IQRFactor*IQR.
func (d *Detector) updateThreshold(level float64) {
	if !d.autoMode {
		return
	}
	d.thresholdHistory = pushBounded(d.thresholdHistory, level, d.cfg.ThresholdHistory)
	if len(d.thresholdHistory) < d.cfg.ThresholdHistory {
		return
	}
	q1, q3 := quartiles(d.thresholdHistory)
	proposed := median(d.thresholdHistory) + d.cfg.ThresholdIQRFactor*(q3-q1)

	delta := proposed - d.threshold
	if delta > d.cfg.ThresholdRateLimit {
		delta = d.cfg.ThresholdRateLimit
	} else if delta < -d.cfg.ThresholdRateLimit {
		delta = -d.cfg.ThresholdRateLimit
	}
	d.threshold = clamp(d.threshold+delta, d.cfg.ThresholdMin, d.cfg.ThresholdMax)
}

// sustainedIntensity maps how far mu sits above the 0.6*threshold floor
// into [0.3,1.0] via a 0.7 power curve (a soft compression so near-threshold
// levels don't read as barely-on).
func sustainedIntensity(mu, threshold float64) float64 {
	floor := 0.6 * threshold
	denom := 1 - floor
	if denom <= 0 {
		return 1.0
	}
	ratio := (mu - floor) / denom
	if ratio < 0 {
		ratio = 0
	}
	v := math.Pow(ratio, 0.7)
	return clamp(v, 0.3, 1.0)
}

// Update feeds one new smoothed level sample (and the elapsed wall time
// since the previous call) through the adaptive threshold, sustained-level
// latch, and fade-to-black state machine, returning whatever events fired
// this call (zero, one, or both a sustained-* and a fade-* event).
func (d *Detector) Update(level float64, dt time.Duration, now time.Time) []Event {
	var events []Event

	d.updateThreshold(level)

	d.levelHistory = pushBounded(d.levelHistory, level, d.cfg.WindowSize)
	lookback := d.levelHistory
	if len(lookback) > d.cfg.StabilityWindow {
		lookback = lookback[len(lookback)-d.cfg.StabilityWindow:]
	}
	mu, variance := meanVar(lookback)

	wasSustained := d.sustained
	nowSustained := mu >= 0.6*d.threshold && variance <= d.cfg.StabilityThreshold
	switch {
	case nowSustained && !wasSustained:
		events = append(events, Event{Kind: SustainedStart, Intensity: sustainedIntensity(mu, d.threshold)})
	case nowSustained && wasSustained:
		events = append(events, Event{Kind: SustainedUpdate, Intensity: sustainedIntensity(mu, d.threshold)})
	case !nowSustained && wasSustained:
		events = append(events, Event{Kind: SustainedEnd})
	}
	d.sustained = nowSustained

	if level < d.cfg.SilenceThreshold {
		d.silenceDuration += dt
	} else {
		d.silenceDuration = 0
		// Any non-silent sample cancels an in-progress fade — the
		// recommended resolution where the source was ambiguous about
		// in-flight cancellation (it only toggled in_fade=false on the
		// silence-counter path).
		d.inFade = false
		d.fadeDone = false
	}

	if !d.inFade && !d.fadeDone && d.silenceDuration >= d.cfg.FadeStartDelay {
		d.inFade = true
		d.fadeStart = now
	}

	if d.inFade {
		p := float64(now.Sub(d.fadeStart)) / float64(d.cfg.FadeDuration)
		if p >= 1 {
			d.inFade = false
			d.fadeDone = true
			events = append(events, Event{Kind: FadeComplete})
		} else {
			events = append(events, Event{Kind: FadeUpdate, Intensity: 1 - p})
		}
	}

	return events
}
