package experiment

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is the lifecycle state of an experiment.
type Status string

// Experiment statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Plate geometry. Wells are addressed row-major.
const (
	PlateRows     = 8
	PlateCols     = 12
	PlateCapacity = PlateRows * PlateCols
)

// Default per-channel drop bounds.
const (
	DefaultBoundMin = 0
	DefaultBoundMax = 5
)

// RGB is a colour with channels in [0,255].
type RGB [3]int

// Valid reports whether every channel lies in [0,255].
func (c RGB) Valid() bool {
	for _, v := range c {
		if v < 0 || v > 255 {
			return false
		}
	}
	return true
}

// Hex formats the colour as #rrggbb.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}

// ParseHex parses a #rrggbb colour string. The leading '#' is required.
func ParseHex(s string) (RGB, error) {
	s = strings.TrimSpace(s)
	if len(s) != 7 || s[0] != '#' {
		return RGB{}, fmt.Errorf("%w: %q", ErrInvalidColour, s)
	}
	var c RGB
	for i := range 3 {
		v, err := strconv.ParseUint(s[1+2*i:3+2*i], 16, 8)
		if err != nil {
			return RGB{}, fmt.Errorf("%w: %q", ErrInvalidColour, s)
		}
		c[i] = int(v)
	}
	return c, nil
}

// Candidate is a drop-count vector, one count per dye channel.
type Candidate [3]int

// Sum returns the total number of drops.
func (c Candidate) Sum() int {
	return c[0] + c[1] + c[2]
}

// Bounds is the inclusive per-channel range for candidate drop counts.
type Bounds struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// DefaultBounds returns [0,5] per channel.
func DefaultBounds() Bounds {
	return Bounds{Min: DefaultBoundMin, Max: DefaultBoundMax}
}

// Validate checks that the range is non-negative, non-empty and allows at
// least one drop.
func (b Bounds) Validate() error {
	if b.Min < 0 || b.Max < b.Min || b.Max == 0 {
		return fmt.Errorf("%w: [%d,%d]", ErrInvalidBounds, b.Min, b.Max)
	}
	return nil
}

// Contains reports whether every channel of c lies within the bounds.
func (b Bounds) Contains(c Candidate) bool {
	for _, v := range c {
		if v < b.Min || v > b.Max {
			return false
		}
	}
	return true
}

// Width is the number of integer values per channel.
func (b Bounds) Width() int {
	return b.Max - b.Min + 1
}

// Well is one cell of the plate.
type Well struct {
	Row int `json:"x"`
	Col int `json:"y"`
}

// WellAt maps iteration index i to its well, row-major.
func WellAt(i int) (Well, error) {
	if i < 0 || i >= PlateCapacity {
		return Well{}, fmt.Errorf("%w: index %d", ErrWellOutOfRange, i)
	}
	return Well{Row: i / PlateCols, Col: i % PlateCols}, nil
}

// Valid reports whether the well lies on the plate.
func (w Well) Valid() bool {
	return w.Row >= 0 && w.Row < PlateRows && w.Col >= 0 && w.Col < PlateCols
}

func (w Well) String() string {
	return fmt.Sprintf("(%d,%d)", w.Row, w.Col)
}

// Result is the outcome of a completed experiment.
type Result struct {
	OptimalParams Candidate `json:"optimal_params"`
	BestLoss      float64   `json:"best_loss"`
}

// Loss is the mean squared per-channel difference between two colours.
func Loss(target, observed RGB) float64 {
	var sum float64
	for i := range 3 {
		d := float64(target[i] - observed[i])
		sum += d * d
	}
	return sum / 3
}
