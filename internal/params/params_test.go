package params

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func newTestCollection() *Collection {
	return NewCollection(rand.New(rand.NewSource(42)))
}

func TestAddAndLookup(t *testing.T) {
	c := newTestCollection()
	w := c.Add("w", tensor.Shape{2, 3}, Constant(0.5))

	if w.Name() != "w" {
		t.Errorf("name = %q, want w", w.Name())
	}
	if !w.Shape().Eq(tensor.Shape{2, 3}) {
		t.Errorf("shape = %v, want (2, 3)", w.Shape())
	}
	for i, v := range w.Data() {
		if v != 0.5 {
			t.Fatalf("data[%d] = %v, want 0.5", i, v)
		}
	}
	got, ok := c.Param("w")
	if !ok || got != w {
		t.Errorf("Param(w) = %v, %v", got, ok)
	}
	if c.Len() != 1 || c.NumValues() != 6 {
		t.Errorf("Len = %d NumValues = %d, want 1 and 6", c.Len(), c.NumValues())
	}
}

func TestAddPanics(t *testing.T) {
	cases := []struct {
		name string
		fn   func(c *Collection)
	}{
		{"empty name", func(c *Collection) { c.Add("", tensor.Shape{1}, nil) }},
		{"duplicate", func(c *Collection) {
			c.Add("x", tensor.Shape{1}, nil)
			c.Add("x", tensor.Shape{1}, nil)
		}},
		{"bad shape", func(c *Collection) { c.Add("y", tensor.Shape{0, 2}, nil) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("expected panic")
				}
			}()
			tc.fn(newTestCollection())
		})
	}
}

func TestNilRNGPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic for nil rng")
		}
	}()
	NewCollection(nil)
}

func TestBindCreatesNodes(t *testing.T) {
	c := newTestCollection()
	w := c.Add("w", tensor.Shape{4}, Ones())

	g := gorgonia.NewGraph()
	c.Bind(g)
	if w.Node() == nil {
		t.Fatal("node not bound")
	}
	if !w.Node().Shape().Eq(tensor.Shape{4}) {
		t.Errorf("node shape = %v, want (4)", w.Node().Shape())
	}

	// Rebinding on a fresh graph replaces the node but keeps the values.
	old := w.Node()
	c.Bind(gorgonia.NewGraph())
	if w.Node() == old {
		t.Error("rebinding did not produce a fresh node")
	}
}

func TestInitializers(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	data := make([]float32, 100)

	Uniform(0.1)(rng, data, tensor.Shape{100})
	for i, v := range data {
		if v < -0.1 || v > 0.1 {
			t.Fatalf("uniform sample %d = %v outside [-0.1, 0.1]", i, v)
		}
	}

	Glorot()(rng, data, tensor.Shape{10, 10})
	limit := float32(0.5477226) // sqrt(6/20)
	for i, v := range data {
		if v < -limit || v > limit {
			t.Fatalf("glorot sample %d = %v outside limit %v", i, v, limit)
		}
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.dynn")

	c := newTestCollection()
	c.Add("a", tensor.Shape{2, 2}, Normal(1))
	c.Add("b", tensor.Shape{3}, Uniform(0.5))
	want := [][]float32{
		append([]float32(nil), c.Parameters()[0].Data()...),
		append([]float32(nil), c.Parameters()[1].Data()...),
	}
	if err := c.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	// A same-architecture collection with different init gets populated.
	c2 := NewCollection(rand.New(rand.NewSource(99)))
	c2.Add("a", tensor.Shape{2, 2}, Zeros())
	c2.Add("b", tensor.Shape{3}, Zeros())
	if err := c2.Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	for i, p := range c2.Parameters() {
		for j, v := range p.Data() {
			if v != want[i][j] {
				t.Fatalf("param %d value %d = %v, want %v", i, j, v, want[i][j])
			}
		}
	}
}

func TestLoadDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.dynn")

	c := newTestCollection()
	c.Add("a", tensor.Shape{4}, Ones())
	if err := c.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)/2] ^= 0xff
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.Load(path); err == nil {
		t.Fatal("expected checksum error on corrupted file")
	}
}

func TestLoadRejectsShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.dynn")

	c := newTestCollection()
	c.Add("a", tensor.Shape{4}, Ones())
	if err := c.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	c2 := newTestCollection()
	c2.Add("a", tensor.Shape{5}, Ones())
	if err := c2.Load(path); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}
