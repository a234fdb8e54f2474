// Package kick detects transient low-frequency "kick" onsets by fusing a
// low-passed energy envelope with spectral flux, normalized against their
// own recent robust statistics.
package kick

import (
	"math"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	robustK          = 2.0 // median + k*MAD threshold for the adaptive norm
	minHistoryForNorm = 10
	maxHistory        = 100
	onsetCheckWindow  = 20
	onsetRecheckEvery = 100 * time.Millisecond
)

// Config tunes a Detector. Zero values fall back to the defaults noted.
type Config struct {
	SampleRate      float64
	CutoffHz        float64       // default 170
	Threshold       float64       // default 0.3
	MinEnergy       float64       // default 0.005
	Refractory      time.Duration // default 150ms
	OnsetCrossCheck bool
}

func (c Config) withDefaults() Config {
	if c.CutoffHz <= 0 {
		c.CutoffHz = 170
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.3
	}
	if c.MinEnergy <= 0 {
		c.MinEnergy = 0.005
	}
	if c.Refractory <= 0 {
		c.Refractory = 150 * time.Millisecond
	}
	return c
}

// Detector is stateful across calls to Process: it owns the persistent
// Butterworth filter state and the rolling envelope/flux histories that
// drive adaptive normalization.
type Detector struct {
	cfg Config

	lowpass *LowpassFilter

	envHistory  []float64
	fluxHistory []float64

	fft     *fourier.FFT
	fftN    int
	prevMag []float64

	lastKick    time.Time
	hasLastKick bool
	lastOnsetAt time.Time

	clock func() time.Time
}

// New constructs a Detector for the given config.
func New(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{
		cfg:     cfg,
		lowpass: NewLowpassFilter(cfg.CutoffHz, cfg.SampleRate),
		clock:   time.Now,
	}
}

// AdjustSensitivity maps sensitivity in [0,1] onto threshold, min_energy,
// and a refractory floor: higher sensitivity lowers the score threshold and
// minimum energy gate (more triggers) while raising the refractory floor,
// so the extra sensitivity doesn't manifest as chattering double-triggers.
func (d *Detector) AdjustSensitivity(sensitivity float64) {
	if sensitivity < 0 {
		sensitivity = 0
	}
	if sensitivity > 1 {
		sensitivity = 1
	}
	d.cfg.Threshold = 0.5 + (1-sensitivity)*0.5
	d.cfg.MinEnergy = 0.008 + (1-sensitivity)*0.012

	floor := 100*time.Millisecond + time.Duration(sensitivity*100)*time.Millisecond
	if d.cfg.Refractory < floor {
		d.cfg.Refractory = floor
	}
}

// Result is one block's detector output.
type Result struct {
	Kick     bool
	Combined float64
	Energy   float64
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func sanitizeBlock(block []float32) []float64 {
	out := make([]float64, len(block))
	for i, v := range block {
		out[i] = sanitize(float64(v))
	}
	return out
}

func rms(block []float64) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, v := range block {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(block)))
}

func pushBounded(hist []float64, v float64) []float64 {
	hist = append(hist, v)
	if len(hist) > maxHistory {
		hist = hist[len(hist)-maxHistory:]
	}
	return hist
}

// median computes the median of a copy of values (values is not mutated).
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

// sortFloats is a small insertion sort: histories here are bounded to
// maxHistory (100) entries, so an O(n^2) sort is cheap and avoids pulling
// in sort.Float64s purely for this.
func sortFloats(values []float64) {
	for i := 1; i < len(values); i++ {
		for j := i; j > 0 && values[j-1] > values[j]; j-- {
			values[j-1], values[j] = values[j], values[j-1]
		}
	}
}

func mad(values []float64, med float64) float64 {
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - med)
	}
	return median(devs)
}

// robustNorm computes (x - (median(H)+k*MAD(H))) / MAD(H), only valid once
// |H| >= minHistoryForNorm.
func robustNorm(x float64, hist []float64) (norm float64, ok bool) {
	if len(hist) < minHistoryForNorm {
		return 0, false
	}
	med := median(hist)
	m := mad(hist, med)
	if m == 0 {
		return 0, false
	}
	return (x - (med + robustK*m)) / m, true
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// computeFlux returns the half-wave-rectified spectral flux of the filtered
// block's low-band spectrum (the first 1/8 of bins) against the previous
// call's spectrum. The FFT plan and previous-spectrum buffer are rebuilt
// whenever the block size changes.
func (d *Detector) computeFlux(filtered []float64) float64 {
	n := len(filtered)
	if n < 2 {
		return 0
	}
	windowed := make([]float64, n)
	for i, x := range filtered {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		windowed[i] = x * w
	}

	if d.fft == nil || d.fftN != n {
		d.fft = fourier.NewFFT(n)
		d.fftN = n
		d.prevMag = nil
	}
	spectrum := d.fft.Coefficients(nil, windowed)

	lowBins := len(spectrum) / 8
	if lowBins < 1 {
		lowBins = 1
	}
	mag := make([]float64, lowBins)
	for i := 0; i < lowBins; i++ {
		mag[i] = math.Hypot(real(spectrum[i]), imag(spectrum[i]))
	}

	var flux float64
	if len(d.prevMag) == lowBins {
		for i := 0; i < lowBins; i++ {
			diff := mag[i] - d.prevMag[i]
			if diff > 0 {
				flux += diff
			}
		}
	}
	d.prevMag = mag
	return flux
}

// onsetStrength approximates a librosa-style onset-strength envelope as the
// clamped ratio by which the latest envelope sample exceeds the mean of its
// preceding window — a running local-max-over-energy-derivative proxy.
func (d *Detector) onsetStrength() (float64, bool) {
	if len(d.envHistory) < onsetCheckWindow+1 {
		return 0, false
	}
	recent := d.envHistory[len(d.envHistory)-1]
	window := d.envHistory[len(d.envHistory)-1-onsetCheckWindow : len(d.envHistory)-1]
	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(len(window))
	if mean <= 0 {
		return 0, false
	}
	ratio := (recent - mean) / mean
	return clampNonNegative(ratio), true
}

// Process runs one audio block through the detector: sanitize, low-pass,
// envelope + flux extraction, adaptive normalization, fusion, and the
// energy/threshold/refractory gate.
func (d *Detector) Process(block []float32) Result {
	samples := sanitizeBlock(block)
	filtered := d.lowpass.ProcessBlock(samples)

	env := sanitize(rms(filtered))
	flux := sanitize(d.computeFlux(filtered))

	d.envHistory = pushBounded(d.envHistory, env)
	d.fluxHistory = pushBounded(d.fluxHistory, flux)

	envNorm, envOK := robustNorm(env, d.envHistory)
	fluxNorm, fluxOK := robustNorm(flux, d.fluxHistory)
	if !envOK || !fluxOK {
		return Result{Energy: env}
	}

	envTerm := clampNonNegative(envNorm)
	now := d.clock()
	if d.cfg.OnsetCrossCheck && now.Sub(d.lastOnsetAt) >= onsetRecheckEvery {
		if onset, ok := d.onsetStrength(); ok {
			envTerm = onset
		}
		d.lastOnsetAt = now
	}

	combined := sanitize(0.6*envTerm + 0.4*clampNonNegative(fluxNorm))

	refractoryOK := !d.hasLastKick || now.Sub(d.lastKick) >= d.cfg.Refractory
	isKick := env > d.cfg.MinEnergy && combined > d.cfg.Threshold && refractoryOK
	if isKick {
		d.lastKick = now
		d.hasLastKick = true
	}

	return Result{Kick: isKick, Combined: combined, Energy: env}
}
