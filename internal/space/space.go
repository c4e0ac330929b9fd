// Package space holds the named, bounded parameters being searched and
// produces the evenly spaced sample grid for each refinement round.
package space

import "fmt"

// MinSampleCount is the smallest usable grid. Four samples leave at least one
// interior neighbour on each side of an endpoint, which the narrowing rule
// depends on.
const MinSampleCount = 4

// Bounds is a closed interval [Low, High].
type Bounds struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
}

// Parameter is a named input to the evaluator.
type Parameter struct {
	Name   string
	Bounds Bounds
}

// Space is an ordered collection of parameters. Iteration order is
// registration order.
type Space struct {
	sampleCount int
	order       []string
	index       map[string]int
	bounds      []Bounds
}

// ClampSampleCount applies the MinSampleCount floor.
func ClampSampleCount(n int) int {
	if n < MinSampleCount {
		return MinSampleCount
	}
	return n
}

// New creates an empty space. sampleCount is clamped to MinSampleCount.
func New(sampleCount int) *Space {
	return &Space{
		sampleCount: ClampSampleCount(sampleCount),
		index:       make(map[string]int),
	}
}

// SampleCount returns the fixed number of samples per parameter per round.
func (s *Space) SampleCount() int {
	return s.sampleCount
}

// Len returns the number of registered parameters.
func (s *Space) Len() int {
	return len(s.order)
}

// Names returns parameter names in registration order.
func (s *Space) Names() []string {
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// Parameters returns a snapshot of all parameters in registration order.
func (s *Space) Parameters() []Parameter {
	params := make([]Parameter, len(s.order))
	for i, name := range s.order {
		params[i] = Parameter{Name: name, Bounds: s.bounds[i]}
	}
	return params
}

// Register adds a parameter with its initial bounds.
func (s *Space) Register(name string, b Bounds) error {
	if _, exists := s.index[name]; exists {
		return &ConfigError{Param: name, Err: ErrDuplicateParameter}
	}
	if b.Low > b.High {
		return &ConfigError{
			Param: name,
			Err:   fmt.Errorf("%w (%g > %g)", ErrInvalidRange, b.Low, b.High),
		}
	}

	s.index[name] = len(s.order)
	s.order = append(s.order, name)
	s.bounds = append(s.bounds, b)
	return nil
}

// RegisterRange is Register for callers holding a raw value list, such as a
// parsed config file. Exactly two values are required.
func (s *Space) RegisterRange(name string, values []float64) error {
	if len(values) != 2 {
		return &ConfigError{Param: name, Err: ErrMissingRange}
	}
	return s.Register(name, Bounds{Low: values[0], High: values[1]})
}

// Bounds returns the current bounds of a parameter.
func (s *Space) Bounds(name string) (Bounds, error) {
	i, ok := s.index[name]
	if !ok {
		return Bounds{}, &ConfigError{Param: name, Err: ErrUnknownParameter}
	}
	return s.bounds[i], nil
}

// SetBounds replaces a parameter's bounds for the next round.
func (s *Space) SetBounds(name string, b Bounds) error {
	i, ok := s.index[name]
	if !ok {
		return &ConfigError{Param: name, Err: ErrUnknownParameter}
	}
	s.bounds[i] = b
	return nil
}

// Samples returns the current sample sequence of a parameter.
func (s *Space) Samples(name string) ([]float64, error) {
	b, err := s.Bounds(name)
	if err != nil {
		return nil, err
	}
	return Linspace(b.Low, b.High, s.sampleCount), nil
}

// Grid returns the sample sequence of every parameter, in registration order.
func (s *Space) Grid() [][]float64 {
	grid := make([][]float64, len(s.order))
	for i, b := range s.bounds {
		grid[i] = Linspace(b.Low, b.High, s.sampleCount)
	}
	return grid
}

// Linspace returns n evenly spaced values over [low, high]. The endpoints are
// exact.
func Linspace(low, high float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	values := make([]float64, n)
	if n == 1 {
		values[0] = low
		return values
	}
	step := (high - low) / float64(n-1)
	for i := 0; i < n-1; i++ {
		v := low + float64(i)*step
		if v > high {
			v = high
		}
		values[i] = v
	}
	values[n-1] = high
	return values
}
