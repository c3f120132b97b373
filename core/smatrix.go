package core

import (
	"container/heap"
	"math"
	"sort"
)

// sparseSystem is the symmetric positive definite system of junction head
// equations. Its structure is fixed by the network topology: rows are
// reordered by minimum degree, fill-in is computed once, and each
// iteration refills the numeric values, factors them in place by Cholesky
// and solves.
type sparseSystem struct {
	n     int
	perm  []int // perm[row] = pivot position
	order []int // order[pos] = row

	// Strict lower triangle of the factor, compressed by column. Row
	// indices are pivot positions in ascending order.
	colStart []int
	rowPos   []int
	val      []float64
	diag     []float64

	link []int // per link, index into val or -1
	work []int
	y    []float64
}

// newSparseSystem builds the symbolic structure for n junction rows. ends
// holds, per link, the junction rows of its endpoints or -1 for a
// fixed-grade endpoint.
func newSparseSystem(n int, ends [][2]int) *sparseSystem {
	adj := make([]map[int]struct{}, n)
	for i := range adj {
		adj[i] = make(map[int]struct{})
	}
	for _, e := range ends {
		a, b := e[0], e[1]
		if a < 0 || b < 0 || a == b {
			continue
		}
		adj[a][b] = struct{}{}
		adj[b][a] = struct{}{}
	}

	s := &sparseSystem{
		n:     n,
		perm:  make([]int, n),
		order: make([]int, 0, n),
		diag:  make([]float64, n),
		work:  make([]int, n),
		y:     make([]float64, n),
	}
	cols := s.minimumDegree(adj)

	s.colStart = make([]int, n+1)
	for pos, rows := range cols {
		pp := make([]int, len(rows))
		for k, r := range rows {
			pp[k] = s.perm[r]
		}
		sort.Ints(pp)
		s.colStart[pos+1] = s.colStart[pos] + len(pp)
		s.rowPos = append(s.rowPos, pp...)
	}
	s.val = make([]float64, len(s.rowPos))

	s.link = make([]int, len(ends))
	for k, e := range ends {
		s.link[k] = -1
		a, b := e[0], e[1]
		if a < 0 || b < 0 || a == b {
			continue
		}
		pa, pb := s.perm[a], s.perm[b]
		col, row := pa, pb
		if pb < pa {
			col, row = pb, pa
		}
		s.link[k] = s.find(col, row)
	}
	return s
}

// minimumDegree eliminates rows in order of fewest remaining neighbours,
// joining the neighbours of each eliminated row into a clique. It fills
// s.order and s.perm and returns, per pivot position, the rows below the
// diagonal in that column of the factor.
func (s *sparseSystem) minimumDegree(adj []map[int]struct{}) [][]int {
	done := make([]bool, s.n)
	h := &degreeHeap{}
	for i := 0; i < s.n; i++ {
		heap.Push(h, degreeEntry{row: i, degree: len(adj[i])})
	}
	cols := make([][]int, 0, s.n)
	for h.Len() > 0 {
		e := heap.Pop(h).(degreeEntry)
		v := e.row
		if done[v] || e.degree != len(adj[v]) {
			continue
		}
		done[v] = true
		s.perm[v] = len(s.order)
		s.order = append(s.order, v)

		nbrs := make([]int, 0, len(adj[v]))
		for u := range adj[v] {
			nbrs = append(nbrs, u)
		}
		sort.Ints(nbrs)
		cols = append(cols, nbrs)

		for _, u := range nbrs {
			delete(adj[u], v)
		}
		for x := 0; x < len(nbrs); x++ {
			for y := x + 1; y < len(nbrs); y++ {
				a, b := nbrs[x], nbrs[y]
				adj[a][b] = struct{}{}
				adj[b][a] = struct{}{}
			}
		}
		for _, u := range nbrs {
			heap.Push(h, degreeEntry{row: u, degree: len(adj[u])})
		}
		adj[v] = nil
	}
	return cols
}

func (s *sparseSystem) find(col, row int) int {
	lo, hi := s.colStart[col], s.colStart[col+1]
	k := lo + sort.SearchInts(s.rowPos[lo:hi], row)
	if k < hi && s.rowPos[k] == row {
		return k
	}
	return -1
}

// nonzeros returns the number of stored off-diagonal factor entries.
func (s *sparseSystem) nonzeros() int { return len(s.rowPos) }

func (s *sparseSystem) reset() {
	for i := range s.val {
		s.val[i] = 0
	}
	for i := range s.diag {
		s.diag[i] = 0
	}
}

func (s *sparseSystem) addDiag(row int, v float64) { s.diag[s.perm[row]] += v }

func (s *sparseSystem) addOff(link int, v float64) {
	if k := s.link[link]; k >= 0 {
		s.val[k] += v
	}
}

// solve factors the assembled matrix and solves A x = b, writing x into b
// (both indexed by row). It returns the row whose pivot was not positive,
// or -1 on success.
func (s *sparseSystem) solve(b []float64) int {
	if bad := s.factor(); bad >= 0 {
		return bad
	}
	y := s.y
	for pos, row := range s.order {
		y[pos] = b[row]
	}
	for j := 0; j < s.n; j++ {
		y[j] /= s.diag[j]
		yj := y[j]
		for p := s.colStart[j]; p < s.colStart[j+1]; p++ {
			y[s.rowPos[p]] -= s.val[p] * yj
		}
	}
	for j := s.n - 1; j >= 0; j-- {
		sum := y[j]
		for p := s.colStart[j]; p < s.colStart[j+1]; p++ {
			sum -= s.val[p] * y[s.rowPos[p]]
		}
		y[j] = sum / s.diag[j]
	}
	for pos, row := range s.order {
		b[row] = y[pos]
	}
	return -1
}

func (s *sparseSystem) factor() int {
	for j := 0; j < s.n; j++ {
		d := s.diag[j]
		if d <= 0 || math.IsNaN(d) {
			return s.order[j]
		}
		ljj := math.Sqrt(d)
		s.diag[j] = ljj
		start, end := s.colStart[j], s.colStart[j+1]
		for p := start; p < end; p++ {
			s.val[p] /= ljj
		}
		for p := start; p < end; p++ {
			i := s.rowPos[p]
			lij := s.val[p]
			s.diag[i] -= lij * lij
			if p+1 == end {
				continue
			}
			for r := s.colStart[i]; r < s.colStart[i+1]; r++ {
				s.work[s.rowPos[r]] = r
			}
			for q := p + 1; q < end; q++ {
				s.val[s.work[s.rowPos[q]]] -= s.val[q] * lij
			}
		}
	}
	return -1
}

type degreeEntry struct {
	row    int
	degree int
}

type degreeHeap []degreeEntry

func (h degreeHeap) Len() int { return len(h) }
func (h degreeHeap) Less(i, j int) bool {
	if h[i].degree != h[j].degree {
		return h[i].degree < h[j].degree
	}
	return h[i].row < h[j].row
}
func (h degreeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *degreeHeap) Push(x any) { *h = append(*h, x.(degreeEntry)) }
func (h *degreeHeap) Pop() any {
	old := *h
	e := old[len(old)-1]
	*h = old[:len(old)-1]
	return e
}
