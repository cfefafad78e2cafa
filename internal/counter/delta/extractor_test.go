package delta

import (
	"errors"
	"testing"

	"github.com/HerbHall/tally/internal/counter/baseline"
	"github.com/HerbHall/tally/internal/counter/settle"
)

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := New(Config{History: 4, TareThreshold: 0.1, Alpha: 0.02})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

// feed runs samples through e and collects emitted events.
func feed(e *Extractor, samples ...float64) []Event {
	var events []Event
	for _, s := range samples {
		if ev, ok := e.Step(s); ok {
			events = append(events, ev)
		}
	}
	return events
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "zero tare", cfg: Config{History: 4, Alpha: 0.1}, wantErr: ErrInvalidTare},
		{name: "negative tare", cfg: Config{History: 4, TareThreshold: -1, Alpha: 0.1}, wantErr: ErrInvalidTare},
		{name: "bad alpha", cfg: Config{History: 4, TareThreshold: 0.1, Alpha: 2}, wantErr: baseline.ErrInvalidAlpha},
		{name: "short history", cfg: Config{History: 1, TareThreshold: 0.1, Alpha: 0.1}, wantErr: settle.ErrInvalidHistory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtractor_SeeksBaseline(t *testing.T) {
	e := newTestExtractor(t)

	if e.Mode() != SeekingBaseline {
		t.Fatalf("initial Mode() = %v, want %v", e.Mode(), SeekingBaseline)
	}

	// Noise wider than the settle range keeps it seeking.
	if got := feed(e, 0, 0.5, 0, 0.5, 0); len(got) != 0 {
		t.Fatalf("events while seeking = %v", got)
	}
	if e.Mode() != SeekingBaseline {
		t.Fatalf("Mode() = %v after noisy input, want %v", e.Mode(), SeekingBaseline)
	}

	feed(e, 1.00, 1.02, 0.98, 1.00)
	if e.Mode() != Tracking {
		t.Fatalf("Mode() = %v, want %v", e.Mode(), Tracking)
	}
	if !e.BaselineValid() {
		t.Fatal("BaselineValid() = false after settling")
	}
	if got := e.BaselineValue(); got < 0.99 || got > 1.01 {
		t.Errorf("BaselineValue() = %v, want mean of settled window ~1.0", got)
	}
	if e.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after transition", e.Pending())
	}
}

func TestExtractor_EmitsSettledStep(t *testing.T) {
	e := newTestExtractor(t)
	feed(e, repeat(0, 4)...)

	events := feed(e, repeat(5.0, 3)...)
	if len(events) != 0 {
		t.Fatalf("emitted before window filled: %v", events)
	}

	ev, ok := e.Step(5.0)
	if !ok {
		t.Fatal("no event after history settled samples")
	}
	if ev.Value < 4.999 || ev.Value > 5.001 {
		t.Errorf("event Value = %v, want ~5.0", ev.Value)
	}
	if ev.Baseline != 0 {
		t.Errorf("event Baseline = %v, want 0", ev.Baseline)
	}
	if e.BaselineValue() != 5.0 {
		t.Errorf("BaselineValue() = %v, want re-zeroed at 5.0", e.BaselineValue())
	}

	// The next in-band sample drifts the new zero.
	if _, ok := e.Step(5.01); ok {
		t.Fatal("in-band sample emitted an event")
	}
	if got := e.BaselineValue(); got < 5.0 || got > 5.01 {
		t.Errorf("BaselineValue() = %v, want near 5.0", got)
	}
}

func TestExtractor_EmitsNegativeStep(t *testing.T) {
	e := newTestExtractor(t)
	feed(e, repeat(10, 4)...)

	events := feed(e, 7.52, 7.49, 7.5, 7.51)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if got := events[0].Value; got > -2.49 || got < -2.51 {
		t.Errorf("event Value = %v, want ~-2.5", got)
	}
}

func TestExtractor_TransientDoesNotEmit(t *testing.T) {
	e := newTestExtractor(t)
	feed(e, repeat(0, 4)...)

	// A bump that returns to zero before settling clears the window.
	events := feed(e, 3, 3, 3, 0.02, 3, 3, 3)
	if len(events) != 0 {
		t.Fatalf("events = %v, want none", events)
	}
	if e.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3", e.Pending())
	}
}

func TestExtractor_UnsettledStepDoesNotEmit(t *testing.T) {
	e := newTestExtractor(t)
	feed(e, repeat(0, 4)...)

	// Mechanical ringing while placing an item.
	events := feed(e, 4.0, 6.0, 4.5, 5.5, 4.9, 5.1)
	if len(events) != 0 {
		t.Fatalf("events = %v, want none while ringing", events)
	}
	events = feed(e, repeat(5.0, 4)...)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 once settled", len(events))
	}
}

func TestExtractor_BaselineFollowsDrift(t *testing.T) {
	e := newTestExtractor(t)
	feed(e, repeat(0, 4)...)

	// Slow drift inside the tare band never produces events.
	x := 0.0
	for i := 0; i < 500; i++ {
		x += 0.001
		if _, ok := e.Step(x); ok {
			t.Fatalf("drift produced an event at step %d (x=%v)", i, x)
		}
	}
	if x-e.BaselineValue() > 0.1 {
		t.Errorf("baseline %v lags drifting input %v by more than the tare band", e.BaselineValue(), x)
	}
}

func TestExtractor_Reset(t *testing.T) {
	e := newTestExtractor(t)
	feed(e, repeat(0, 4)...)
	feed(e, 5, 5)

	e.Reset()

	if e.Mode() != SeekingBaseline {
		t.Errorf("Mode() = %v after Reset, want %v", e.Mode(), SeekingBaseline)
	}
	if e.BaselineValid() {
		t.Error("BaselineValid() = true after Reset")
	}
	if e.Pending() != 0 {
		t.Errorf("Pending() = %d after Reset, want 0", e.Pending())
	}
}

func TestMode_String(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{SeekingBaseline, "seeking_baseline"},
		{Tracking, "tracking"},
		{Mode(7), "mode(7)"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("Mode(%d).String() = %q, want %q", int(tt.mode), got, tt.want)
		}
	}
}
