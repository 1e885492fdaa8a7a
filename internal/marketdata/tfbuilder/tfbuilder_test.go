package tfbuilder

import (
	"context"
	"errors"
	"testing"
	"time"

	"chartcore/internal/model"
)

// makeBar creates a test base bar at the given Unix second.
func makeBar(ts, open, high, low, close_, vol float64) model.Bar {
	return model.Bar{Timestamp: ts, Open: open, High: high, Low: low, Close: close_, Volume: vol}
}

const baseTS = 1699999800 // aligned to 5m

func finalized(ups []Update) []Update {
	var out []Update
	for _, u := range ups {
		if !u.Forming {
			out = append(out, u)
		}
	}
	return out
}

func TestBuilder_5m_Resampling(t *testing.T) {
	b, err := New(model.M1, []model.Timeframe{model.M5})
	if err != nil {
		t.Fatal(err)
	}

	// Feed five 1m bars, all in one 5m bucket
	for i := 0.0; i < 5; i++ {
		ups := b.Process(makeBar(baseTS+i*60, 500+i, 510+i, 490+i, 505+i, 100))
		if len(ups) != 1 || !ups[0].Forming {
			t.Fatalf("bar %v: expected one forming update, got %+v", i, ups)
		}
	}

	// Trigger new bucket
	ups := b.Process(makeBar(baseTS+300, 600, 610, 590, 605, 100))
	done := finalized(ups)
	if len(done) != 1 {
		t.Fatalf("expected 1 finalized bar, got %d", len(done))
	}
	c := done[0]
	if c.TF != model.M5 {
		t.Errorf("expected TF=5m, got %s", c.TF)
	}
	want := makeBar(baseTS, 500, 514, 490, 509, 500)
	if c.Bar != want {
		t.Errorf("finalized bar %+v, want %+v", c.Bar, want)
	}
	if c.Count != 5 {
		t.Errorf("expected count=5, got %d", c.Count)
	}

	forming, ok := b.Forming(model.M5)
	if !ok || forming.Open != 600 || forming.Timestamp != baseTS+300 {
		t.Errorf("forming bar %+v", forming)
	}
}

func TestBuilder_MultipleTFs(t *testing.T) {
	var hooked []Update
	b, err := New(model.M1, []model.Timeframe{model.M5, model.M15})
	if err != nil {
		t.Fatal(err)
	}
	b.OnBar = func(u Update) { hooked = append(hooked, u) }

	start := float64(1699999200) // aligned to 15m
	var done5, done15 []Update
	for i := 0.0; i <= 15; i++ {
		for _, u := range finalized(b.Process(makeBar(start+i*60, 10, 12, 8, 11, 1))) {
			if u.TF == model.M5 {
				done5 = append(done5, u)
			} else {
				done15 = append(done15, u)
			}
		}
	}

	if len(done5) != 3 {
		t.Errorf("expected 3 finalized 5m bars, got %d", len(done5))
	}
	if len(done15) != 1 {
		t.Fatalf("expected 1 finalized 15m bar, got %d", len(done15))
	}
	if done15[0].Count != 15 || done15[0].Bar.Volume != 15 {
		t.Errorf("15m bar: count=%d volume=%v", done15[0].Count, done15[0].Bar.Volume)
	}
	if len(hooked) != 4 {
		t.Errorf("OnBar called %d times, want 4", len(hooked))
	}
}

func TestBuilder_StaleBar_Rejected(t *testing.T) {
	b, err := New(model.M1, []model.Timeframe{model.M5})
	if err != nil {
		t.Fatal(err)
	}
	var stale []model.Bar
	b.OnStaleBar = func(bar model.Bar) { stale = append(stale, bar) }

	b.Process(makeBar(baseTS, 100, 110, 90, 105, 1))
	b.Process(makeBar(baseTS+300, 200, 210, 190, 205, 1))

	late := makeBar(baseTS+60, 50, 60, 40, 55, 1)
	if ups := b.Process(late); len(ups) != 0 {
		t.Errorf("stale bar should produce no updates, got %+v", ups)
	}
	if len(stale) != 1 || stale[0] != late {
		t.Errorf("expected stale hook for the late bar, got %+v", stale)
	}

	forming, _ := b.Forming(model.M5)
	if forming.Low != 190 {
		t.Errorf("forming bar corrupted by stale bar: %+v", forming)
	}
}

func TestBuilder_FormingIsSnapshot(t *testing.T) {
	b, err := New(model.M1, []model.Timeframe{model.M5})
	if err != nil {
		t.Fatal(err)
	}
	first := b.Process(makeBar(baseTS, 100, 100, 100, 100, 1))[0]
	b.Process(makeBar(baseTS+60, 100, 150, 50, 120, 1))
	if first.Bar.High != 100 || first.Bar.Volume != 1 {
		t.Errorf("earlier forming snapshot changed: %+v", first.Bar)
	}
}

func TestBuilder_Flush(t *testing.T) {
	b, err := New(model.M1, []model.Timeframe{model.M5, model.H1})
	if err != nil {
		t.Fatal(err)
	}
	b.Process(makeBar(baseTS, 1, 2, 0.5, 1.5, 3))
	out := b.Flush()
	if len(out) != 2 {
		t.Fatalf("expected 2 flushed bars, got %d", len(out))
	}
	for _, u := range out {
		if u.Forming {
			t.Errorf("flushed bar should be final: %+v", u)
		}
	}
	if _, ok := b.Forming(model.M5); ok {
		t.Error("flush should reset forming state")
	}
	if len(b.Flush()) != 0 {
		t.Error("second flush should be empty")
	}
}

func TestNew_Validation(t *testing.T) {
	cases := []struct {
		base model.Timeframe
		tfs  []model.Timeframe
		want error
	}{
		{model.M5, []model.Timeframe{model.M1}, ErrMisalignedTimeframe},
		{model.Timeframe(120), []model.Timeframe{model.M5}, ErrMisalignedTimeframe},
		{0, []model.Timeframe{model.M5}, model.ErrInvalidParameter},
		{model.M1, []model.Timeframe{model.M5, model.M5}, model.ErrInvalidParameter},
	}
	for i, c := range cases {
		if _, err := New(c.base, c.tfs); !errors.Is(err, c.want) {
			t.Errorf("case %d: err=%v, want %v", i, err, c.want)
		}
	}
}

func TestResample(t *testing.T) {
	var bars []model.Bar
	for i := 0.0; i < 12; i++ {
		bars = append(bars, makeBar(baseTS+i*60, 10+i, 11+i, 9+i, 10.5+i, 2))
	}
	out, err := Resample(bars, model.M1, model.M5)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 bars (2 full + 1 partial), got %d", len(out))
	}
	if out[0] != makeBar(baseTS, 10, 15, 9, 14.5, 10) {
		t.Errorf("first 5m bar %+v", out[0])
	}
	if out[2] != makeBar(baseTS+600, 20, 22, 19, 21.5, 4) {
		t.Errorf("partial 5m bar %+v", out[2])
	}

	same, err := Resample(bars, model.M1, model.M1)
	if err != nil || len(same) != len(bars) {
		t.Errorf("identity resample: %d bars, err %v", len(same), err)
	}
	if _, err := Resample(bars, model.M5, model.M1); !errors.Is(err, ErrMisalignedTimeframe) {
		t.Errorf("finer target: err=%v", err)
	}
	empty, err := Resample(nil, model.M1, model.M5)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty resample: %v, %v", empty, err)
	}
}

func TestBuilder_Run(t *testing.T) {
	b, err := New(model.M1, []model.Timeframe{model.M5})
	if err != nil {
		t.Fatal(err)
	}
	barCh := make(chan model.Bar, 20)
	outCh := make(chan Update, 100)

	for i := 0.0; i < 6; i++ {
		barCh <- makeBar(baseTS+i*60, 100, 110, 90, 105, 1)
	}
	close(barCh)

	done := make(chan struct{})
	go func() {
		b.Run(context.Background(), barCh, outCh)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after barCh closed")
	}

	final := 0
	for len(outCh) > 0 {
		if u := <-outCh; !u.Forming {
			final++
		}
	}
	// One rollover plus the flushed partial bucket
	if final != 2 {
		t.Errorf("expected 2 finalized bars, got %d", final)
	}
}
