package kick

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

func quietBlock(n int, seed int64) []float32 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(r.Float64()*0.01 - 0.005)
	}
	return out
}

func impulseBlock(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / 44100
		out[i] = float32(math.Sin(2*math.Pi*60*t) * 1.5)
	}
	return out
}

// TestRefractory is scenario 3: two synthetic kick impulses 80ms apart with
// the default 150ms refractory yield exactly one kick event.
func TestRefractory(t *testing.T) {
	d := New(Config{SampleRate: 44100})
	now := time.Now()
	d.clock = func() time.Time { return now }

	for i := 0; i < 15; i++ {
		d.Process(quietBlock(512, int64(i)))
	}

	kicks := 0
	r1 := d.Process(impulseBlock(512))
	if r1.Kick {
		kicks++
	}

	now = now.Add(80 * time.Millisecond)
	r2 := d.Process(impulseBlock(512))
	if r2.Kick {
		kicks++
	}

	if kicks != 1 {
		t.Errorf("kicks within refractory window = %d, want 1 (got r1.Kick=%v r2.Kick=%v combined=%v,%v)", kicks, r1.Kick, r2.Kick, r1.Combined, r2.Combined)
	}
}

func TestProcess_NotEnoughHistoryNeverKicks(t *testing.T) {
	d := New(Config{SampleRate: 44100})
	for i := 0; i < 5; i++ {
		if r := d.Process(impulseBlock(512)); r.Kick {
			t.Errorf("block %d: kick fired before history warmed up", i)
		}
	}
}

func TestProcess_SanitizesNaNInf(t *testing.T) {
	d := New(Config{SampleRate: 44100})
	block := []float32{float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1)), 0.5}
	r := d.Process(block)
	if math.IsNaN(r.Combined) || math.IsInf(r.Combined, 0) {
		t.Errorf("Combined = %v, want finite", r.Combined)
	}
	if math.IsNaN(r.Energy) || math.IsInf(r.Energy, 0) {
		t.Errorf("Energy = %v, want finite", r.Energy)
	}
}

func TestAdjustSensitivity_RaisesRefractoryFloor(t *testing.T) {
	d := New(Config{SampleRate: 44100, Refractory: 50 * time.Millisecond})
	d.AdjustSensitivity(1.0)
	if d.cfg.Refractory < 100*time.Millisecond {
		t.Errorf("Refractory = %v, want >= 100ms floor after max sensitivity", d.cfg.Refractory)
	}
	if d.cfg.Threshold != 0.5 {
		t.Errorf("Threshold = %v, want 0.5 at max sensitivity", d.cfg.Threshold)
	}
}

func TestRobustNorm_RequiresMinimumHistory(t *testing.T) {
	hist := []float64{0.1, 0.2, 0.1, 0.15}
	if _, ok := robustNorm(0.5, hist); ok {
		t.Error("robustNorm should refuse with <10 samples of history")
	}
}
