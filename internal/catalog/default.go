package catalog

import (
	"time"

	"github.com/veilstage/pulsegrid/internal/fixture"
)

// Default returns a small, deterministic catalog used when no scene/sequence
// file is supplied. Its exact contents are not part of the contract — only
// that the engine has something sane to run with — so this is intentionally
// minimal: one looping sequence per band and a single shared flash scene.
func Default() *Catalog {
	scenes := []Scene{
		{Name: "flash-white", Type: SceneFlash, Channels: Channels{Red: 255, Green: 255, Blue: 255, White: 255}, Decay: 200 * time.Millisecond},
		{Name: "bass-glow", Type: SceneStatic, Channels: Channels{Red: 200, Green: 0, Blue: 0}},
		{Name: "low-mid-glow", Type: SceneStatic, Channels: Channels{Green: 200}},
		{Name: "high-mid-glow", Type: SceneStatic, Channels: Channels{Blue: 200}},
		{Name: "treble-glow", Type: SceneStatic, Channels: Channels{White: 200}},
		{Name: "black", Type: SceneStatic, Channels: Channels{}},
	}
	sequences := []Sequence{
		{Name: "bass-loop", Band: fixture.Bass, Loop: true, BaseIntensity: 0.4,
			Steps: []Step{{SceneName: "bass-glow", Duration: time.Second}, {SceneName: "black", Duration: time.Second}}},
		{Name: "low-mid-loop", Band: fixture.LowMid, Loop: true, BaseIntensity: 0.4,
			Steps: []Step{{SceneName: "low-mid-glow", Duration: time.Second}, {SceneName: "black", Duration: time.Second}}},
		{Name: "high-mid-loop", Band: fixture.HighMid, Loop: true, BaseIntensity: 0.4,
			Steps: []Step{{SceneName: "high-mid-glow", Duration: time.Second}, {SceneName: "black", Duration: time.Second}}},
		{Name: "treble-loop", Band: fixture.Treble, Loop: true, BaseIntensity: 0.4,
			Steps: []Step{{SceneName: "treble-glow", Duration: time.Second}, {SceneName: "black", Duration: time.Second}}},
	}

	c, err := New(scenes, sequences)
	if err != nil {
		// The default catalog is constructed from literals above; a failure
		// here means the literals themselves are inconsistent, a programmer
		// error rather than a runtime condition.
		panic("catalog: default catalog is invalid: " + err.Error())
	}
	return c
}
