package layers

import (
	"math"
	"testing"

	"gorgonia.org/tensor"
)

func TestSinusoidalEncodingValues(t *testing.T) {
	enc := NewSinusoidalEncoding(50, 4)

	// Position 0 alternates sin(0)=0 and cos(0)=1.
	row, err := enc.At(0)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{0, 1, 0, 1}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("PE[0][%d] = %v, want %v", i, row[i], want[i])
		}
	}

	// Spot check a later position against the closed form.
	pos := 7
	row, err = enc.At(pos)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		angle := float64(pos) / math.Pow(10000, float64(2*(i/2))/4)
		want := math.Sin(angle)
		if i%2 == 1 {
			want = math.Cos(angle)
		}
		if diff := math.Abs(float64(row[i]) - want); diff > 1e-5 {
			t.Errorf("PE[%d][%d] = %v, want %v", pos, i, row[i], want)
		}
	}
}

func TestSinusoidalEncodingCacheShared(t *testing.T) {
	a := NewSinusoidalEncoding(64, 8)
	b := NewSinusoidalEncoding(64, 8)
	if a.table != b.table {
		t.Error("same (maxLen, dim) should share one cached table")
	}
	c := NewSinusoidalEncoding(64, 16)
	if a.table == c.table {
		t.Error("different dims must not share a table")
	}
}

func TestSinusoidalEncodingBounds(t *testing.T) {
	enc := NewSinusoidalEncoding(10, 4)
	if _, err := enc.Rows(0); err == nil {
		t.Error("expected error for zero length")
	}
	if _, err := enc.Rows(11); err == nil {
		t.Error("expected error for length beyond table")
	}
	if _, err := enc.At(10); err == nil {
		t.Error("expected error for out-of-range position")
	}
	rows, err := enc.Rows(10)
	if err != nil {
		t.Fatal(err)
	}
	if !rows.Shape().Eq(tensor.Shape{10, 4}) {
		t.Errorf("rows shape = %v, want (10, 4)", rows.Shape())
	}
}
