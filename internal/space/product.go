package space

// Product enumerates the Cartesian product of a grid in lexicographic order:
// the last dimension varies fastest. It holds only the current index vector,
// so combinations are produced lazily and enumeration can be restarted with
// Reset.
type Product struct {
	sizes   []int
	indices []int
	started bool
	done    bool
}

// NewProduct creates an enumerator over dimensions of the given sizes.
// A zero-dimension product yields exactly one empty combination; any empty
// dimension yields nothing.
func NewProduct(sizes ...int) *Product {
	p := &Product{
		sizes:   append([]int(nil), sizes...),
		indices: make([]int, len(sizes)),
	}
	p.Reset()
	return p
}

// Combinations returns an enumerator over the space's current grid.
func (s *Space) Combinations() *Product {
	sizes := make([]int, len(s.order))
	for i := range sizes {
		sizes[i] = s.sampleCount
	}
	return NewProduct(sizes...)
}

// Reset rewinds the enumerator to the first combination.
func (p *Product) Reset() {
	for i := range p.indices {
		p.indices[i] = 0
	}
	p.started = false
	p.done = false
	for _, n := range p.sizes {
		if n <= 0 {
			p.done = true
		}
	}
}

// Next advances to the next combination and reports whether one exists.
func (p *Product) Next() bool {
	if p.done {
		return false
	}
	if !p.started {
		p.started = true
		return true
	}
	for d := len(p.indices) - 1; d >= 0; d-- {
		p.indices[d]++
		if p.indices[d] < p.sizes[d] {
			return true
		}
		p.indices[d] = 0
	}
	p.done = true
	return false
}

// Indices returns the current index vector. The slice is reused between
// calls to Next; copy it to keep it.
func (p *Product) Indices() []int {
	return p.indices
}

// Len returns the total number of combinations.
func (p *Product) Len() int {
	total := 1
	for _, n := range p.sizes {
		total *= n
	}
	return total
}
