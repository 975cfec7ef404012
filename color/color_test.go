package color

import (
	"math"
	"testing"
)

func TestEaseEndpoints(t *testing.T) {
	if got := Ease(0); got != 0 {
		t.Errorf("Ease(0) = %v, want 0", got)
	}
	if got := Ease(1); got != 1 {
		t.Errorf("Ease(1) = %v, want 1", got)
	}
}

func TestEaseMonotonic(t *testing.T) {
	prev := -1.0
	for i := 0; i <= 1000; i++ {
		p := float64(i) / 1000
		w := Ease(p)
		if w < prev-1e-9 {
			t.Fatalf("Ease not monotonic at %v: %v < %v", p, w, prev)
		}
		if w < 0 || w > 1 {
			t.Fatalf("Ease(%v) = %v out of range", p, w)
		}
		prev = w
	}
}

func TestInterpolateEndpoints(t *testing.T) {
	from := State{Temperature: 6500, Gamma: 100}
	to := State{Temperature: 3300, Gamma: 90}
	if got := Interpolate(from, to, 0); !got.Equal(from) {
		t.Errorf("progress 0: got %+v, want %+v", got, from)
	}
	if got := Interpolate(from, to, 1); !got.Equal(to) {
		t.Errorf("progress 1: got %+v, want %+v", got, to)
	}
}

func TestInterpolateWithinBounds(t *testing.T) {
	from := State{Temperature: 6500, Gamma: 100}
	to := State{Temperature: 3300, Gamma: 90}
	for i := 0; i <= 100; i++ {
		got := Interpolate(from, to, float64(i)/100)
		if got.Temperature < to.Temperature || got.Temperature > from.Temperature {
			t.Fatalf("temperature %d out of [%d, %d]", got.Temperature, to.Temperature, from.Temperature)
		}
		if got.Gamma < to.Gamma || got.Gamma > from.Gamma {
			t.Fatalf("gamma %v out of [%v, %v]", got.Gamma, to.Gamma, from.Gamma)
		}
	}
}

func TestWhitePointNeutral(t *testing.T) {
	white := StateWhitePoint(Neutral)
	for c, v := range white {
		if math.Abs(v-1) > 1e-9 {
			t.Errorf("channel %d at 6500K/100%%: got %v, want 1", c, v)
		}
	}
}

func TestWhitePointWarmReducesBlue(t *testing.T) {
	white := StateWhitePoint(State{Temperature: 3300, Gamma: 100})
	if white[0] < white[2] {
		t.Errorf("warm white point should favor red over blue: %v", white)
	}
	if white[2] >= 1 {
		t.Errorf("blue channel should be attenuated at 3300K: %v", white[2])
	}
}

func TestGammaScalesChannels(t *testing.T) {
	full := StateWhitePoint(State{Temperature: 6500, Gamma: 100})
	half := StateWhitePoint(State{Temperature: 6500, Gamma: 50})
	for c := range full {
		if math.Abs(half[c]-full[c]/2) > 1e-9 {
			t.Errorf("channel %d: 50%% gamma got %v, want %v", c, half[c], full[c]/2)
		}
	}
}

func TestRampIdentity(t *testing.T) {
	ramp := make([]uint16, 256)
	Ramp(ramp, 1)
	if ramp[0] != 0 {
		t.Errorf("ramp[0] = %d, want 0", ramp[0])
	}
	if ramp[255] != math.MaxUint16 {
		t.Errorf("ramp[255] = %d, want %d", ramp[255], math.MaxUint16)
	}
	for i := 1; i < len(ramp); i++ {
		if ramp[i] < ramp[i-1] {
			t.Fatalf("ramp not monotonic at %d", i)
		}
	}
}

func TestRampClampsOverdrive(t *testing.T) {
	ramp := make([]uint16, 64)
	Ramp(ramp, 2) // 200% gamma
	if ramp[63] != math.MaxUint16 {
		t.Errorf("overdriven ramp should clamp to max, got %d", ramp[63])
	}
}

func TestCTMDiagonal(t *testing.T) {
	mat := CTM(State{Temperature: 4000, Gamma: 110})
	for i, v := range mat {
		onDiag := i == 0 || i == 4 || i == 8
		if !onDiag && v != 0 {
			t.Errorf("off-diagonal entry %d = %v, want 0", i, v)
		}
		if onDiag && v <= 0 {
			t.Errorf("diagonal entry %d = %v, want > 0", i, v)
		}
	}
}
