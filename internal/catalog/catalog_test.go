package catalog

import (
	"testing"
	"time"

	"github.com/veilstage/pulsegrid/internal/fixture"
)

func TestNew_IndexesScenesAndSequences(t *testing.T) {
	scenes := []Scene{
		{Name: "white", Type: SceneFlash, Channels: Channels{Red: 255, Green: 255, Blue: 255, White: 255}, Decay: 200 * time.Millisecond},
		{Name: "red-static", Type: SceneStatic, Channels: Channels{Red: 200}},
	}
	seqs := []Sequence{
		{Name: "bass-loop", Band: fixture.Bass, Loop: true, Steps: []Step{{SceneName: "red-static", Duration: time.Second}}},
	}

	c, err := New(scenes, seqs)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := c.Scene("white"); !ok {
		t.Error("Scene(white) not found")
	}
	if _, ok := c.Sequence("bass-loop"); !ok {
		t.Error("Sequence(bass-loop) not found")
	}
	if got := c.SequencesForBand(fixture.Bass); len(got) != 1 {
		t.Errorf("SequencesForBand(Bass) = %v, want 1 entry", got)
	}
}

func TestNew_RejectsFlashWithoutDecay(t *testing.T) {
	scenes := []Scene{{Name: "bad-flash", Type: SceneFlash, Channels: Channels{}}}
	if _, err := New(scenes, nil); err == nil {
		t.Error("expected error for flash scene without decay")
	}
}

func TestNew_RejectsSequenceReferencingUnknownScene(t *testing.T) {
	seqs := []Sequence{
		{Name: "s", Band: fixture.Bass, Loop: true, Steps: []Step{{SceneName: "ghost", Duration: time.Second}}},
	}
	if _, err := New(nil, seqs); err == nil {
		t.Error("expected error for sequence referencing unknown scene")
	}
}

func TestChannels_Scale(t *testing.T) {
	c := Channels{Red: 200}
	got := c.Scale(0.5)
	if got.Red != 100 {
		t.Errorf("Scale(0.5).Red = %d, want 100", got.Red)
	}
}

func TestChannels_ScaleClampsToByteRange(t *testing.T) {
	c := Channels{Red: 200}
	if got := c.Scale(2.0); got.Red != 255 {
		t.Errorf("Scale(2.0).Red = %d, want 255", got.Red)
	}
}

func TestChannelsFromRaw_AcceptsShortAndFullKeys(t *testing.T) {
	short := ChannelsFromRaw(map[string]interface{}{"r": 255.0, "g": 0.0, "b": 0.0, "w": 0.0})
	if short.Red != 255 {
		t.Errorf("ChannelsFromRaw(short).Red = %d, want 255", short.Red)
	}
	full := ChannelsFromRaw(map[string]interface{}{"red": 0.0, "green": 255.0})
	if full.Green != 255 {
		t.Errorf("ChannelsFromRaw(full).Green = %d, want 255", full.Green)
	}
}

func TestStepAt_Wraps(t *testing.T) {
	sq := Sequence{Steps: []Step{{SceneName: "a"}, {SceneName: "b"}}}
	if got := sq.StepAt(2).SceneName; got != "a" {
		t.Errorf("StepAt(2) = %q, want a", got)
	}
}

func TestDefault_IsValid(t *testing.T) {
	c := Default()
	if _, ok := c.Sequence("bass-loop"); !ok {
		t.Error("Default() missing bass-loop sequence")
	}
}
