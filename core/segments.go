package core

// segment is a parcel of water with uniform quality.
type segment struct {
	v float64 // volume, ft3
	c float64 // quality
}

// segRing is a double-ended queue of segments backed by a ring buffer that
// doubles when full. For links the front is the downstream end and the
// back the upstream end; for tanks the front holds the oldest water.
type segRing struct {
	buf  []segment
	head int
	n    int
}

func newSegRing(capacity int) segRing {
	if capacity < 1 {
		capacity = 1
	}
	return segRing{buf: make([]segment, capacity)}
}

func (r *segRing) len() int { return r.n }

func (r *segRing) clear() { r.head, r.n = 0, 0 }

func (r *segRing) at(i int) *segment { return &r.buf[(r.head+i)%len(r.buf)] }

func (r *segRing) front() *segment {
	if r.n == 0 {
		return nil
	}
	return r.at(0)
}

func (r *segRing) back() *segment {
	if r.n == 0 {
		return nil
	}
	return r.at(r.n - 1)
}

func (r *segRing) grow() {
	buf := make([]segment, 2*len(r.buf))
	for i := 0; i < r.n; i++ {
		buf[i] = *r.at(i)
	}
	r.buf, r.head = buf, 0
}

func (r *segRing) pushBack(s segment) {
	if r.n == len(r.buf) {
		r.grow()
	}
	r.buf[(r.head+r.n)%len(r.buf)] = s
	r.n++
}

func (r *segRing) popFront() {
	if r.n == 0 {
		return
	}
	r.head = (r.head + 1) % len(r.buf)
	r.n--
}

func (r *segRing) popBack() {
	if r.n > 0 {
		r.n--
	}
}

// reverse flips the order of the segments.
func (r *segRing) reverse() {
	for i, j := 0, r.n-1; i < j; i, j = i+1, j-1 {
		a, b := r.at(i), r.at(j)
		*a, *b = *b, *a
	}
}

// volume returns the total volume held.
func (r *segRing) volume() float64 {
	v := 0.0
	for i := 0; i < r.n; i++ {
		v += r.at(i).v
	}
	return v
}
