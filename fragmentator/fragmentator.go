// Package fragmentator implements Relocator's inverse: it deliberately
// scatters each file's cluster chain across the volume for building test
// fixtures and demonstrating what Relocator fixes. It reuses exactly the
// same Volume primitives Relocator does (ReadChain, MoveCluster,
// UpdateDirEntry), just with a different cluster-selection strategy.
package fragmentator

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/dargueta/fatdefrag/codec"
	"github.com/dargueta/fatdefrag/internal/ferrors"
	"github.com/dargueta/fatdefrag/volume"
)

// Result describes what happened to one file during a Scatter run.
type Result struct {
	Path          string `csv:"path"`
	OldStart      uint32 `csv:"old_start_cluster"`
	NewStart      uint32 `csv:"new_start_cluster"`
	ClustersMoved int    `csv:"clusters_moved"`
	Skipped       bool   `csv:"skipped"`
	Reason        string `csv:"reason"`
}

// Report is the outcome of a Scatter run, in the same shape as relocator's
// so fragreport.Write handles either uniformly.
type Report struct {
	Results []Result
	Errors  *multierror.Error
}

// Fragmentator deliberately fragments files on one open Volume.
type Fragmentator struct {
	vol *volume.Volume
}

// New returns a Fragmentator bound to vol. vol must already be open.
func New(vol *volume.Volume) *Fragmentator {
	return &Fragmentator{vol: vol}
}

// Scatter breaks every file and directory with two or more clusters into
// individually-placed, non-adjacent clusters. Files already down to a
// single cluster are left alone: there's nothing to fragment. A per-file
// NoSpace (not enough scattered room left) is recorded in the Report and
// does not abort the run; any other error does.
func (fr *Fragmentator) Scatter() (*Report, error) {
	files, err := fr.vol.WalkTree()
	if err != nil {
		return nil, err
	}

	report := &Report{}

	for _, f := range files {
		if f.Entry.FirstCluster == 0 {
			continue
		}

		chain, err := fr.vol.ReadChain(f.Entry.FirstCluster)
		if err != nil {
			return report, fmt.Errorf("%s: %w", f.Path, err)
		}
		if len(chain) < 2 {
			continue
		}

		scattered, err := fr.pickScattered(len(chain))
		if err != nil {
			if errors.Is(err, ferrors.NoSpace) {
				report.Results = append(report.Results, Result{
					Path:     f.Path,
					OldStart: uint32(f.Entry.FirstCluster),
					Skipped:  true,
					Reason:   err.Error(),
				})
				report.Errors = multierror.Append(report.Errors, fmt.Errorf("%s: %w", f.Path, err))
				continue
			}
			return report, err
		}

		for i, c := range chain {
			pred := volume.NoPredecessor
			if i > 0 {
				pred = scattered[i-1]
			}
			if err := fr.vol.MoveCluster(c, scattered[i], pred); err != nil {
				return report, err
			}
		}

		updated := f.Entry
		updated.FirstCluster = scattered[0]
		if err := fr.vol.UpdateDirEntry(f.Position, updated); err != nil {
			return report, err
		}

		report.Results = append(report.Results, Result{
			Path:          f.Path,
			OldStart:      uint32(f.Entry.FirstCluster),
			NewStart:      uint32(scattered[0]),
			ClustersMoved: len(chain),
		})
	}

	return report, nil
}

// pickScattered chooses count currently-free clusters such that no two
// consecutive picks are adjacent, by alternating between the low and high
// ends of the free list. With fewer than count+1 free clusters available
// it falls back to whatever spread it can manage rather than failing
// outright; it only reports NoSpace when there aren't even count free
// clusters to hand out.
func (fr *Fragmentator) pickScattered(count int) ([]codec.ClusterID, error) {
	free := fr.vol.FreeClusters()
	if len(free) < count {
		return nil, ferrors.NoSpace.WithMessage("not enough free clusters to scatter this file")
	}

	sort.Slice(free, func(i, j int) bool { return free[i] < free[j] })

	picked := make([]codec.ClusterID, 0, count)
	lo, hi := 0, len(free)-1
	for len(picked) < count {
		if lo > hi {
			break
		}
		picked = append(picked, free[lo])
		lo++
		if len(picked) == count {
			break
		}
		if lo > hi {
			break
		}
		picked = append(picked, free[hi])
		hi--
	}

	if err := fr.vol.AllocateExact(picked); err != nil {
		return nil, err
	}
	return picked, nil
}
