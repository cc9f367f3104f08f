package lab

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/colourlab-core/internal/experiment"
)

// dyes are the pure colours of the three dye reservoirs, in candidate order.
var dyes = [3][3]float64{
	{1, 0, 0},
	{0, 1, 0},
	{0, 0, 1},
}

// VirtualLab simulates a plate of wells in memory.
//
// Each dispense adds every dye's colour weighted by its share of the drops,
// clamped per channel to [0,1]. A dispense with zero drops is refused with
// ErrNoDrops.
type VirtualLab struct {
	mu    sync.Mutex
	plate [experiment.PlateRows][experiment.PlateCols][3]float64
}

// NewVirtualLab creates a simulator with an empty plate.
func NewVirtualLab() *VirtualLab {
	return &VirtualLab{}
}

// ApplyDrops implements Lab.
func (v *VirtualLab) ApplyDrops(_ context.Context, well experiment.Well, counts experiment.Candidate) error {
	if !well.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidWell, well)
	}
	for _, n := range counts {
		if n < 0 {
			return fmt.Errorf("%w: negative drop count %v", ErrUnavailable, [3]int(counts))
		}
	}
	total := counts.Sum()
	if total == 0 {
		return ErrNoDrops
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	cell := &v.plate[well.Row][well.Col]
	for d, n := range counts {
		share := float64(n) / float64(total)
		for ch := range 3 {
			cell[ch] = clamp01(cell[ch] + dyes[d][ch]*share)
		}
	}
	return nil
}

// ReadColor implements Lab.
func (v *VirtualLab) ReadColor(_ context.Context, well experiment.Well) (experiment.RGB, error) {
	if !well.Valid() {
		return experiment.RGB{}, fmt.Errorf("%w: %s", ErrInvalidWell, well)
	}

	v.mu.Lock()
	cell := v.plate[well.Row][well.Col]
	v.mu.Unlock()

	var rgb experiment.RGB
	for ch := range 3 {
		rgb[ch] = int(cell[ch] * 255)
	}
	return rgb, nil
}

// ClearPlate implements PlateClearer.
func (v *VirtualLab) ClearPlate(_ context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.plate = [experiment.PlateRows][experiment.PlateCols][3]float64{}
	return nil
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
