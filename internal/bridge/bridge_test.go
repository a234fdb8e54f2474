package bridge

import (
	"testing"

	"github.com/veilstage/pulsegrid/internal/fixture"
)

type fakeCall struct {
	method string
	band   fixture.Band
	scene  string
	names  []string
	value  float64
}

type fakeScheduler struct {
	calls        []fakeCall
	baseIntensity map[fixture.Band]float64
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{baseIntensity: make(map[fixture.Band]float64)}
}

func (f *fakeScheduler) FireFlash(sceneName string, targets []fixture.Fixture, intensity float64) error {
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Name
	}
	f.calls = append(f.calls, fakeCall{method: "FireFlash", scene: sceneName, names: names, value: intensity})
	return nil
}

func (f *fakeScheduler) StartSequence(band fixture.Band, sequenceName string, intensity float64) error {
	f.calls = append(f.calls, fakeCall{method: "StartSequence", band: band, scene: sequenceName, value: intensity})
	return nil
}

func (f *fakeScheduler) StopSequence(band fixture.Band) {
	f.calls = append(f.calls, fakeCall{method: "StopSequence", band: band})
}

func (f *fakeScheduler) UpdateIntensity(band fixture.Band, intensity float64) {
	f.calls = append(f.calls, fakeCall{method: "UpdateIntensity", band: band, value: intensity})
}

func (f *fakeScheduler) BaseIntensity(band fixture.Band) float64 {
	return f.baseIntensity[band]
}

type fakeRegistry struct {
	kickResponsive map[fixture.Band][]fixture.Fixture
}

func (r *fakeRegistry) KickResponsiveInBand(band fixture.Band) []fixture.Fixture {
	return r.kickResponsive[band]
}

func TestHandleKick_FiresFlashWithAmplifiedClampedIntensity(t *testing.T) {
	sched := newFakeScheduler()
	reg := &fakeRegistry{kickResponsive: map[fixture.Band][]fixture.Fixture{
		fixture.Bass: {{Name: "F1", Band: fixture.Bass, RespondsToKicks: true}},
	}}
	b := New(sched, reg, FlashConfig{Enabled: true, Intensity: 0.8, Mode: ModeSingle, Scenes: []string{"white_flash"}}, nil)

	if err := b.HandleKick(fixture.Bass); err != nil {
		t.Fatalf("HandleKick: %v", err)
	}
	if len(sched.calls) != 1 || sched.calls[0].method != "FireFlash" {
		t.Fatalf("calls = %+v, want one FireFlash", sched.calls)
	}
	if sched.calls[0].scene != "white_flash" {
		t.Errorf("scene = %q, want white_flash", sched.calls[0].scene)
	}
	if sched.calls[0].value != 1.0 {
		t.Errorf("intensity = %v, want clamped to 1.0 (0.8*1.5=1.2)", sched.calls[0].value)
	}
	if len(sched.calls[0].names) != 1 || sched.calls[0].names[0] != "F1" {
		t.Errorf("targets = %v, want [F1]", sched.calls[0].names)
	}
}

func TestHandleKick_DisabledIsNoOp(t *testing.T) {
	sched := newFakeScheduler()
	reg := &fakeRegistry{}
	b := New(sched, reg, FlashConfig{Enabled: false}, nil)
	if err := b.HandleKick(fixture.Bass); err != nil {
		t.Fatalf("HandleKick: %v", err)
	}
	if len(sched.calls) != 0 {
		t.Errorf("calls = %+v, want none while disabled", sched.calls)
	}
}

func TestNextFlashScene_AlternateRoundRobins(t *testing.T) {
	sched := newFakeScheduler()
	reg := &fakeRegistry{kickResponsive: map[fixture.Band][]fixture.Fixture{
		fixture.Bass: {{Name: "F1", Band: fixture.Bass, RespondsToKicks: true}},
	}}
	b := New(sched, reg, FlashConfig{Enabled: true, Intensity: 0.2, Mode: ModeAlternate, Scenes: []string{"a", "b", "c"}}, nil)

	var got []string
	for i := 0; i < 4; i++ {
		b.HandleKick(fixture.Bass)
		got = append(got, sched.calls[i].scene)
	}
	want := []string{"a", "b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d scene = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestHandleSustainedStart_UsesConfiguredSequence(t *testing.T) {
	sched := newFakeScheduler()
	b := New(sched, &fakeRegistry{}, FlashConfig{}, map[fixture.Band]string{fixture.Bass: "bass_pulse"})
	if err := b.HandleSustainedStart(fixture.Bass, 0.6); err != nil {
		t.Fatalf("HandleSustainedStart: %v", err)
	}
	if len(sched.calls) != 1 || sched.calls[0].method != "StartSequence" || sched.calls[0].scene != "bass_pulse" || sched.calls[0].value != 0.6 {
		t.Errorf("calls = %+v, want StartSequence(Bass, bass_pulse, 0.6)", sched.calls)
	}
}

func TestHandleSustainedStart_UnconfiguredBandErrors(t *testing.T) {
	sched := newFakeScheduler()
	b := New(sched, &fakeRegistry{}, FlashConfig{}, nil)
	if err := b.HandleSustainedStart(fixture.Treble, 0.5); err == nil {
		t.Error("expected an error for an unconfigured band")
	}
}

func TestSustainedUpdate_CoalescesUntilFlush(t *testing.T) {
	sched := newFakeScheduler()
	b := New(sched, &fakeRegistry{}, FlashConfig{}, nil)

	b.HandleSustainedUpdate(fixture.Bass, 0.3)
	b.HandleSustainedUpdate(fixture.Bass, 0.5)
	b.HandleSustainedUpdate(fixture.Bass, 0.9)
	if len(sched.calls) != 0 {
		t.Fatalf("calls = %+v, want none before FlushPending", sched.calls)
	}

	b.FlushPending()
	if len(sched.calls) != 1 {
		t.Fatalf("calls = %+v, want exactly one UpdateIntensity after flush", sched.calls)
	}
	if sched.calls[0].value != 0.9 {
		t.Errorf("flushed intensity = %v, want the latest value 0.9", sched.calls[0].value)
	}

	b.FlushPending()
	if len(sched.calls) != 1 {
		t.Error("a second flush with nothing pending should not add a call")
	}
}

func TestHandleSustainedEnd_StopsSequenceAndDropsPending(t *testing.T) {
	sched := newFakeScheduler()
	b := New(sched, &fakeRegistry{}, FlashConfig{}, nil)

	b.HandleSustainedUpdate(fixture.Bass, 0.7)
	b.HandleSustainedEnd(fixture.Bass)
	b.FlushPending()

	if len(sched.calls) != 1 || sched.calls[0].method != "StopSequence" {
		t.Errorf("calls = %+v, want exactly one StopSequence and no stale UpdateIntensity", sched.calls)
	}
}

func TestHandleFadeUpdate_ScalesByBaseIntensity(t *testing.T) {
	sched := newFakeScheduler()
	sched.baseIntensity[fixture.LowMid] = 0.4
	b := New(sched, &fakeRegistry{}, FlashConfig{}, nil)

	b.HandleFadeUpdate(fixture.LowMid, 0.5)
	if len(sched.calls) != 1 || sched.calls[0].method != "UpdateIntensity" {
		t.Fatalf("calls = %+v, want one UpdateIntensity", sched.calls)
	}
	if got, want := sched.calls[0].value, 0.2; got != want {
		t.Errorf("UpdateIntensity value = %v, want %v (0.4*0.5)", got, want)
	}
}

func TestHandleFadeComplete_StopsSequence(t *testing.T) {
	sched := newFakeScheduler()
	b := New(sched, &fakeRegistry{}, FlashConfig{}, nil)
	b.HandleFadeComplete(fixture.Treble)
	if len(sched.calls) != 1 || sched.calls[0].method != "StopSequence" || sched.calls[0].band != fixture.Treble {
		t.Errorf("calls = %+v, want one StopSequence(Treble)", sched.calls)
	}
}
