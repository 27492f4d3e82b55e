package conversation

// DefaultHistoryCapacity is used when a machine is built without WithHistoryCapacity
const DefaultHistoryCapacity = 50

// DefaultHistoryLimit is the number of entries History returns for a non-positive limit
const DefaultHistoryLimit = 10

// ring is a fixed-capacity, append-only transition buffer that evicts the
// oldest entry once full
type ring struct {
	buf   []Transition
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]Transition, capacity)}
}

func (r *ring) append(t Transition) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = t
		r.size++
		return
	}
	r.buf[r.start] = t
	r.start = (r.start + 1) % len(r.buf)
}

// recent returns up to limit of the newest entries, most recent last
func (r *ring) recent(limit int) []Transition {
	if limit > r.size {
		limit = r.size
	}
	out := make([]Transition, limit)
	first := r.size - limit
	for i := 0; i < limit; i++ {
		out[i] = r.buf[(r.start+first+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int {
	return r.size
}

func (r *ring) capacity() int {
	return len(r.buf)
}
