package backend

import (
	"testing"

	"github.com/psi4j/sunsetr/color"
)

func TestNullDedupesEqualStates(t *testing.T) {
	d := NewNull(Capabilities{SupportsSmoothing: true})
	s := color.State{Temperature: 4500, Gamma: 95}
	for range 3 {
		if err := d.Set(s); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.Set(color.State{Temperature: 4400, Gamma: 95}); err != nil {
		t.Fatal(err)
	}
	if err := d.Set(color.State{Temperature: 4400, Gamma: 95}); err != nil {
		t.Fatal(err)
	}
	if got := len(d.Applied()); got != 2 {
		t.Errorf("applied %d distinct states, want 2: %v", got, d.Applied())
	}
	last, ok := d.Last()
	if !ok || last.Temperature != 4400 {
		t.Errorf("last = %+v, %v", last, ok)
	}
}
