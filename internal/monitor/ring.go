package monitor

// Ring keeps the most recent lines, evicting the oldest first.
type Ring struct {
	lines []string
	start int
	size  int
}

// NewRing allocates a ring holding up to capacity lines (minimum 1).
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{lines: make([]string, capacity)}
}

// Push appends line, evicting the oldest entry when full.
func (r *Ring) Push(line string) {
	if r.size < len(r.lines) {
		r.lines[(r.start+r.size)%len(r.lines)] = line
		r.size++
		return
	}
	r.lines[r.start] = line
	r.start = (r.start + 1) % len(r.lines)
}

// Lines returns the buffered lines oldest first.
func (r *Ring) Lines() []string {
	out := make([]string, r.size)
	for i := range r.size {
		out[i] = r.lines[(r.start+i)%len(r.lines)]
	}
	return out
}

// Len returns the number of buffered lines.
func (r *Ring) Len() int { return r.size }

// Reset empties the ring.
func (r *Ring) Reset() {
	clear(r.lines)
	r.start = 0
	r.size = 0
}
