package enhance

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

// FilterKind selects the Butterworth response
type FilterKind int

const (
	LowPass FilterKind = iota
	HighPass
)

func (k FilterKind) String() string {
	if k == HighPass {
		return "highpass"
	}
	return "lowpass"
}

// ErrSignalTooShort is returned when a signal cannot be padded for zero-phase filtering
var ErrSignalTooShort = errors.New("signal too short for filter padding")

// Section is one second-order stage in transposed direct form II,
// normalized so that a0 = 1
type Section struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// dcGain returns the section's response at z = 1
func (s Section) dcGain() float64 {
	den := 1 + s.A1 + s.A2
	if den == 0 {
		return 0
	}
	return (s.B0 + s.B1 + s.B2) / den
}

// Filter is a cascade of second-order sections
type Filter struct {
	Kind     FilterKind
	Order    int
	Cutoff   float64 // fraction of Nyquist
	sections []Section
}

// Butterworth designs a digital Butterworth filter with the bilinear
// transform. cutoff is relative to Nyquist and must lie in (0, 1).
func Butterworth(kind FilterKind, order int, cutoff float64) (*Filter, error) {
	if order < 1 {
		return nil, fmt.Errorf("filter order must be positive, got %d", order)
	}
	if !(cutoff > 0 && cutoff < 1) {
		return nil, fmt.Errorf("normalized cutoff must be in (0, 1), got %f", cutoff)
	}

	k := math.Tan(math.Pi * cutoff / 2)
	sections := make([]Section, 0, (order+1)/2)

	for i := 0; i < order/2; i++ {
		var phi float64
		if order%2 == 0 {
			phi = math.Pi * float64(2*i+1) / float64(2*order)
		} else {
			phi = math.Pi * float64(i+1) / float64(order)
		}
		q := 1 / (2 * math.Cos(phi))

		norm := 1 / (1 + k/q + k*k)
		s := Section{
			A1: 2 * (k*k - 1) * norm,
			A2: (1 - k/q + k*k) * norm,
		}
		if kind == LowPass {
			s.B0 = k * k * norm
			s.B1 = 2 * s.B0
		} else {
			s.B0 = norm
			s.B1 = -2 * s.B0
		}
		s.B2 = s.B0
		sections = append(sections, s)
	}

	if order%2 == 1 {
		s := Section{A1: (k - 1) / (k + 1)}
		if kind == LowPass {
			s.B0 = k / (1 + k)
			s.B1 = s.B0
		} else {
			s.B0 = 1 / (1 + k)
			s.B1 = -s.B0
		}
		sections = append(sections, s)
	}

	return &Filter{Kind: kind, Order: order, Cutoff: cutoff, sections: sections}, nil
}

// Sections returns a copy of the cascade
func (f *Filter) Sections() []Section {
	out := make([]Section, len(f.sections))
	copy(out, f.sections)
	return out
}

// Response returns the magnitude response at a frequency relative to Nyquist
func (f *Filter) Response(freq float64) float64 {
	z := cmplx.Exp(complex(0, math.Pi*freq))
	zi := 1 / z
	h := complex(1, 0)
	for _, s := range f.sections {
		num := complex(s.B0, 0) + complex(s.B1, 0)*zi + complex(s.B2, 0)*zi*zi
		den := 1 + complex(s.A1, 0)*zi + complex(s.A2, 0)*zi*zi
		h *= num / den
	}
	return cmplx.Abs(h)
}

// PadLen returns the odd-extension length used by FiltFilt
func (f *Filter) PadLen() int {
	return 3 * (f.Order + 1)
}

// Apply runs the cascade forward over x with zero initial state
func (f *Filter) Apply(x []float64) []float64 {
	y := make([]float64, len(x))
	copy(y, x)
	for _, s := range f.sections {
		run(s, y, 0, 0)
	}
	return y
}

// FiltFilt applies the cascade forward and backward for a zero-phase
// response. The signal is extended by odd reflection at both ends and each
// pass starts from the steady state for its first sample.
func (f *Filter) FiltFilt(x []float64) ([]float64, error) {
	padLen := f.PadLen()
	if len(x) <= padLen {
		return nil, fmt.Errorf("%w: need more than %d samples, got %d", ErrSignalTooShort, padLen, len(x))
	}

	ext := oddExtend(x, padLen)

	f.cascade(ext)
	reverse(ext)
	f.cascade(ext)
	reverse(ext)

	out := make([]float64, len(x))
	copy(out, ext[padLen:padLen+len(x)])
	return out, nil
}

// cascade filters y in place, seeding every section with the steady state
// for a constant input equal to the first sample
func (f *Filter) cascade(y []float64) {
	if len(y) == 0 {
		return
	}
	level := y[0]
	for _, s := range f.sections {
		gain := s.dcGain()
		out := level * gain
		z1 := out - s.B0*level
		z2 := s.B2*level - s.A2*out
		run(s, y, z1, z2)
		level = out
	}
}

// run filters y in place through one section starting from state (z1, z2)
func run(s Section, y []float64, z1, z2 float64) {
	for i, x := range y {
		out := s.B0*x + z1
		z1 = s.B1*x - s.A1*out + z2
		z2 = s.B2*x - s.A2*out
		y[i] = out
	}
}

func oddExtend(x []float64, padLen int) []float64 {
	n := len(x)
	ext := make([]float64, n+2*padLen)
	first, last := x[0], x[n-1]
	for i := 0; i < padLen; i++ {
		ext[i] = 2*first - x[padLen-i]
		ext[padLen+n+i] = 2*last - x[n-2-i]
	}
	copy(ext[padLen:], x)
	return ext
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
