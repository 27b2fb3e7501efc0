package controller

import (
	"math"

	"github.com/san-kum/wbcsim/internal/config"
)

// Heights are the vertical targets tracked in one tick. CoM is used by
// the floating-base profile, the toes by the fixed-base profile.
type Heights struct {
	CoM      float64 `json:"com"`
	LeftToe  float64 `json:"left_toe"`
	RightToe float64 `json:"right_toe"`
}

// Reference is the motion intent passed to Run. A nil Heights selects
// the built-in sinusoid at the current tick.
type Reference struct {
	Heights *Heights
}

// Sinusoid generates the periodic vertical reference. The toes move in
// antiphase so their heights always sum to 2·ToeHeight.
type Sinusoid struct {
	ToeHeight    float64
	ToeAmplitude float64
	CoMHeight    float64
	CoMAmplitude float64
	Frequency    float64
}

func SinusoidFromConfig(c config.ReferenceConfig) Sinusoid {
	return Sinusoid{
		ToeHeight:    c.ToeHeight,
		ToeAmplitude: c.ToeAmplitude,
		CoMHeight:    c.CoMHeight,
		CoMAmplitude: c.CoMAmplitude,
		Frequency:    c.Frequency,
	}
}

// At returns the targets of tick k.
func (s Sinusoid) At(k int) Heights {
	phase := math.Sin(s.Frequency * float64(k))
	return Heights{
		CoM:      s.CoMHeight + s.CoMAmplitude*phase,
		RightToe: s.ToeHeight + s.ToeAmplitude*phase,
		LeftToe:  s.ToeHeight - s.ToeAmplitude*phase,
	}
}
