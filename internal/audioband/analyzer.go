// Package audioband turns raw mono audio chunks into smoothed per-band
// energy levels via a windowed FFT.
package audioband

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Band is one of the four fixed frequency partitions. Mirrors
// internal/fixture.Band's string values so events can cross the package
// boundary without translation.
type Band string

const (
	Bass    Band = "Bass"
	LowMid  Band = "Low-Mid"
	HighMid Band = "High-Mid"
	Treble  Band = "Treble"
)

// Bands lists all four, in the fixed reduction order.
var Bands = []Band{Bass, LowMid, HighMid, Treble}

type freqRange struct{ lo, hi float64 }

var bandRanges = map[Band]freqRange{
	Bass:    {20, 150},
	LowMid:  {150, 500},
	HighMid: {500, 2500},
	Treble:  {2500, 20000},
}

const (
	bandGain       = 10.0
	minThreshold   = 1e-3
	historySize    = 100
	defaultAlpha   = 0.4
	clampInputAbs  = 0.9
)

// Config tunes the analyzer's sample rate and smoothing factor.
type Config struct {
	SampleRate      float64
	SmoothingAlpha  float64 // (0,1), default 0.4
}

func (c Config) withDefaults() Config {
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha >= 1 {
		c.SmoothingAlpha = defaultAlpha
	}
	return c
}

// Analyzer holds the rolling state needed across chunks: per-band peak
// history for normalization and the previous smoothed level.
type Analyzer struct {
	cfg Config

	fft        *fourier.FFT
	lastChunkN int

	peakHistory map[Band][]float64
	prevLevel   map[Band]float64
}

// New constructs an Analyzer. The FFT plan is built lazily on the first call
// to Process, sized to that chunk's length, and rebuilt if chunk length
// changes.
func New(cfg Config) *Analyzer {
	cfg = cfg.withDefaults()
	a := &Analyzer{
		cfg:         cfg,
		peakHistory: make(map[Band][]float64, len(Bands)),
		prevLevel:   make(map[Band]float64, len(Bands)),
	}
	for _, b := range Bands {
		a.peakHistory[b] = make([]float64, 0, historySize)
	}
	return a
}

// Levels is one set of per-band smoothed levels, in Bands order.
type Levels struct {
	Bass, LowMid, HighMid, Treble float64
}

func (l Levels) get(b Band) float64 {
	return l.Get(b)
}

// Get returns the smoothed level for band.
func (l Levels) Get(b Band) float64 {
	switch b {
	case Bass:
		return l.Bass
	case LowMid:
		return l.LowMid
	case HighMid:
		return l.HighMid
	case Treble:
		return l.Treble
	}
	return 0
}

// AsMap returns every band's level keyed by its string name, for callers
// (like the monitor API) that want a generic snapshot without importing
// this package's Band type.
func (l Levels) AsMap() map[string]float64 {
	m := make(map[string]float64, len(Bands))
	for _, b := range Bands {
		m[string(b)] = l.Get(b)
	}
	return m
}

func (l *Levels) set(b Band, v float64) {
	switch b {
	case Bass:
		l.Bass = v
	case LowMid:
		l.LowMid = v
	case HighMid:
		l.HighMid = v
	case Treble:
		l.Treble = v
	}
}

// Process runs one audio chunk through the pipeline: gain/clamp, Hann
// window, real FFT, per-band bin averaging, rolling-peak normalization, and
// exponential smoothing. Returns the new smoothed levels.
func (a *Analyzer) Process(samples []float32, gain float64) Levels {
	n := len(samples)
	if n == 0 {
		return a.currentLevels()
	}
	if a.fft == nil || a.lastChunkN != n {
		a.fft = fourier.NewFFT(n)
		a.lastChunkN = n
	}

	windowed := make([]float64, n)
	for i, s := range samples {
		v := float64(s) * gain
		if v > clampInputAbs {
			v = clampInputAbs
		} else if v < -clampInputAbs {
			v = -clampInputAbs
		}
		// Hann window.
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		windowed[i] = v * w
	}

	spectrum := a.fft.Coefficients(nil, windowed)
	freqStep := a.cfg.SampleRate / float64(n)

	var out Levels
	for _, band := range Bands {
		rng := bandRanges[band]
		raw := averageMagnitudeInRange(spectrum, freqStep, rng) * bandGain
		norm := a.normalize(band, raw)
		prev := a.prevLevel[band]
		level := a.cfg.SmoothingAlpha*prev + (1-a.cfg.SmoothingAlpha)*norm
		a.prevLevel[band] = level
		out.set(band, level)
	}
	return out
}

func averageMagnitudeInRange(spectrum []complex128, freqStep float64, rng freqRange) float64 {
	var sum float64
	var count int
	for i, c := range spectrum {
		f := float64(i) * freqStep
		if f < rng.lo || f > rng.hi {
			continue
		}
		sum += math.Hypot(real(c), imag(c))
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// normalize pushes raw onto band's bounded peak history and returns
// clamp(raw/peak, 0, 1), where peak = max(minThreshold, max(history)).
func (a *Analyzer) normalize(band Band, raw float64) float64 {
	hist := append(a.peakHistory[band], raw)
	if len(hist) > historySize {
		hist = hist[len(hist)-historySize:]
	}
	a.peakHistory[band] = hist

	peak := minThreshold
	for _, v := range hist {
		if v > peak {
			peak = v
		}
	}
	norm := raw / peak
	if norm < 0 {
		return 0
	}
	if norm > 1 {
		return 1
	}
	return norm
}

func (a *Analyzer) currentLevels() Levels {
	var out Levels
	for _, b := range Bands {
		out.set(b, a.prevLevel[b])
	}
	return out
}
