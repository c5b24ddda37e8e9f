package train

import (
	"math"
	"testing"
)

func TestNoamScheduleShape(t *testing.T) {
	s := NewNoamSchedule(512, 4000)

	// Warmup phase: rates climb.
	prev := 0.0
	for step := 1; step <= 4000; step += 100 {
		r := s.Rate(step)
		if r <= prev {
			t.Fatalf("rate at step %d is %v, not above %v", step, r, prev)
		}
		prev = r
	}

	// The peak sits at step == warmup, where the two branches meet.
	peak := s.Rate(4000)
	want := (1 / math.Sqrt(512)) / math.Sqrt(4000)
	if math.Abs(peak-want) > 1e-12 {
		t.Errorf("peak rate = %v, want %v", peak, want)
	}

	// Decay phase: rates shrink with the inverse square root of the step.
	if r := s.Rate(16000); math.Abs(r-peak/2) > 1e-12 {
		t.Errorf("rate at 4*warmup = %v, want half the peak %v", r, peak/2)
	}
}

func TestNoamScheduleFirstStep(t *testing.T) {
	s := NewNoamSchedule(512, 4000)
	want := (1 / math.Sqrt(512)) * math.Sqrt(1/(4000.0*4000*4000))
	if r := s.Rate(1); math.Abs(r-want) > 1e-15 {
		t.Errorf("Rate(1) = %v, want %v", r, want)
	}
}

func TestNoamScheduleNext(t *testing.T) {
	s := NewNoamSchedule(8, 10)
	if s.Step() != 0 {
		t.Fatalf("fresh schedule at step %d, want 0", s.Step())
	}
	first := s.Next()
	if s.Step() != 1 {
		t.Errorf("after one Next step = %d, want 1", s.Step())
	}
	if first != s.Rate(1) {
		t.Errorf("Next returned %v, want Rate(1) = %v", first, s.Rate(1))
	}
	second := s.Next()
	if second <= first {
		t.Errorf("second warmup rate %v not above first %v", second, first)
	}
}

func TestNoamSchedulePanics(t *testing.T) {
	for _, tt := range []struct {
		name        string
		dim, warmup int
	}{
		{"zero dim", 0, 10},
		{"zero warmup", 8, 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			NewNoamSchedule(tt.dim, tt.warmup)
		})
	}

	t.Run("zero step", func(t *testing.T) {
		s := NewNoamSchedule(8, 10)
		defer func() {
			if recover() == nil {
				t.Error("expected panic for step 0")
			}
		}()
		s.Rate(0)
	})
}
