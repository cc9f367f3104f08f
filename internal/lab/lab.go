package lab

import (
	"context"

	"github.com/nerrad567/colourlab-core/internal/experiment"
)

// Lab is the apparatus an experiment drives.
type Lab interface {
	// ApplyDrops dispenses counts[i] drops of dye i into the well.
	ApplyDrops(ctx context.Context, well experiment.Well, counts experiment.Candidate) error

	// ReadColor measures the current colour of the well.
	ReadColor(ctx context.Context, well experiment.Well) (experiment.RGB, error)
}

// PlateClearer is implemented by labs that can reset every well.
type PlateClearer interface {
	ClearPlate(ctx context.Context) error
}
