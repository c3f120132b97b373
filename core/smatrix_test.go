package core

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// randomSystem builds a connected random graph over n rows and returns its
// link endpoints plus per-link conductances and per-row diagonal extras.
func randomSystem(rng *rand.Rand, n, extra int) ([][2]int, []float64, []float64) {
	var ends [][2]int
	for i := 1; i < n; i++ {
		ends = append(ends, [2]int{rng.Intn(i), i})
	}
	for k := 0; k < extra; k++ {
		a, b := rng.Intn(n), rng.Intn(n)
		if a == b {
			continue
		}
		ends = append(ends, [2]int{a, b})
	}
	// a link to a fixed-grade node on a few rows keeps the matrix definite
	for i := 0; i < n; i += 5 {
		ends = append(ends, [2]int{i, -1})
	}
	g := make([]float64, len(ends))
	for k := range g {
		g[k] = 0.1 + rng.Float64()*10
	}
	d := make([]float64, n)
	for i := range d {
		d[i] = rng.Float64() * 0.01
	}
	return ends, g, d
}

func assemble(s *sparseSystem, n int, ends [][2]int, g, d []float64) *mat.SymDense {
	dense := mat.NewSymDense(n, nil)
	s.reset()
	for i := 0; i < n; i++ {
		s.addDiag(i, d[i])
		dense.SetSym(i, i, dense.At(i, i)+d[i])
	}
	for k, e := range ends {
		a, b := e[0], e[1]
		if a >= 0 {
			s.addDiag(a, g[k])
			dense.SetSym(a, a, dense.At(a, a)+g[k])
		}
		if b >= 0 {
			s.addDiag(b, g[k])
			dense.SetSym(b, b, dense.At(b, b)+g[k])
		}
		if a >= 0 && b >= 0 {
			s.addOff(k, -g[k])
			dense.SetSym(a, b, dense.At(a, b)-g[k])
		}
	}
	return dense
}

func TestSparseSolveMatchesDenseCholesky(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		n := 5 + rng.Intn(40)
		ends, g, d := randomSystem(rng, n, n)
		s := newSparseSystem(n, ends)
		dense := assemble(s, n, ends, g, d)

		b := make([]float64, n)
		for i := range b {
			b[i] = rng.Float64()*20 - 10
		}
		x := append([]float64(nil), b...)
		if bad := s.solve(x); bad >= 0 {
			t.Fatalf("trial %d: sparse solve reported bad row %d", trial, bad)
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(dense); !ok {
			t.Fatalf("trial %d: dense matrix not positive definite", trial)
		}
		var want mat.VecDense
		if err := chol.SolveVecTo(&want, mat.NewVecDense(n, b)); err != nil {
			t.Fatalf("trial %d: dense solve error: %v", trial, err)
		}
		for i := 0; i < n; i++ {
			if diff := math.Abs(x[i] - want.AtVec(i)); diff > 1e-8*math.Max(1, math.Abs(want.AtVec(i))) {
				t.Fatalf("trial %d row %d: sparse=%v dense=%v", trial, i, x[i], want.AtVec(i))
			}
		}
	}
}

func TestSparseParallelLinksShareEntry(t *testing.T) {
	ends := [][2]int{{0, 1}, {1, 0}, {0, -1}}
	s := newSparseSystem(2, ends)
	if s.link[0] < 0 || s.link[0] != s.link[1] {
		t.Fatalf("parallel links map to entries %d and %d, want one shared entry", s.link[0], s.link[1])
	}
	if s.link[2] != -1 {
		t.Fatalf("link to fixed-grade node has entry %d, want -1", s.link[2])
	}
	if s.nonzeros() != 1 {
		t.Fatalf("nonzeros = %d, want 1", s.nonzeros())
	}
}

func TestSparseReportsNonPositivePivot(t *testing.T) {
	ends := [][2]int{{0, 1}, {1, -1}}
	s := newSparseSystem(2, ends)
	s.reset()
	s.addDiag(1, 1)
	b := []float64{1, 1}
	if bad := s.solve(b); bad != 0 {
		t.Fatalf("solve bad row = %d, want 0", bad)
	}
}

func TestMinimumDegreeFillOnStar(t *testing.T) {
	// A star eliminated from its leaves needs no fill.
	n := 6
	var ends [][2]int
	for i := 1; i < n; i++ {
		ends = append(ends, [2]int{0, i})
	}
	s := newSparseSystem(n, ends)
	if s.order[n-1] != 0 && s.order[n-2] != 0 {
		t.Fatalf("hub eliminated at position %d, want one of the last two", s.perm[0])
	}
	if s.nonzeros() != n-1 {
		t.Fatalf("nonzeros = %d, want %d (no fill)", s.nonzeros(), n-1)
	}
}
