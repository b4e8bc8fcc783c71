// Package relocator implements the core defragmentation pass: it walks a
// Volume's directory tree, and for every file or directory whose cluster
// chain is not a single contiguous run, relocates it into one. Moves are
// ordered lowest-start-cluster first so that freed space near the beginning
// of the volume becomes available to later files in the same pass.
package relocator

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/dargueta/fatdefrag/codec"
	"github.com/dargueta/fatdefrag/internal/ferrors"
	"github.com/dargueta/fatdefrag/volume"
)

// Result describes what happened to one file during a Defragment run.
type Result struct {
	Path          string `csv:"path"`
	OldStart      uint32 `csv:"old_start_cluster"`
	NewStart      uint32 `csv:"new_start_cluster"`
	ClustersMoved int    `csv:"clusters_moved"`
	Skipped       bool   `csv:"skipped"`
	Reason        string `csv:"reason"`
}

// Report is the outcome of a full Defragment run: the per-file Results plus
// an aggregated error for every file that had to be skipped, so a caller can
// both print a summary table and check "did everything succeed" in one
// errors.Is-compatible value.
type Report struct {
	Results []Result
	Errors  *multierror.Error
}

// Relocator runs the defragmentation algorithm against one open Volume.
type Relocator struct {
	vol   *volume.Volume
	files []volume.File
}

// New returns a Relocator bound to vol. vol must already be open.
func New(vol *volume.Volume) *Relocator {
	return &Relocator{vol: vol}
}

// Defragment relocates every fragmented file and directory on the volume
// into contiguous runs. Only moved or skipped files appear in the Report's
// Results; files that were already contiguous are omitted. Per-file NoSpace
// conditions are recorded in the Report and do not abort the run. A file
// whose chain cannot be read while checking contiguity is recorded in
// Report.Errors and the run continues with the next file. A non-nil error
// return means a failure while moving a file or rewriting its directory
// entries aborted the run partway through.
func (r *Relocator) Defragment() (*Report, error) {
	files, err := r.vol.WalkTree()
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Entry.FirstCluster < files[j].Entry.FirstCluster
	})
	r.files = files

	report := &Report{}
	displacing := map[string]bool{}

	for _, f := range files {
		if f.Entry.FirstCluster == 0 {
			continue // empty file: no clusters to relocate
		}

		contiguous, err := r.vol.IsContiguous(f.Entry.FirstCluster)
		if err != nil {
			report.Errors = multierror.Append(report.Errors, fmt.Errorf("%s: %w", f.Path, err))
			continue
		}
		if contiguous {
			continue
		}

		moved, newStart, relErr := r.relocateOne(f, displacing)
		if relErr != nil {
			if errors.Is(relErr, ferrors.NoSpace) {
				report.Results = append(report.Results, Result{
					Path:     f.Path,
					OldStart: uint32(f.Entry.FirstCluster),
					Skipped:  true,
					Reason:   relErr.Error(),
				})
				report.Errors = multierror.Append(report.Errors, fmt.Errorf("%s: %w", f.Path, relErr))
				continue
			}
			return report, relErr
		}

		report.Results = append(report.Results, Result{
			Path:          f.Path,
			OldStart:      uint32(f.Entry.FirstCluster),
			NewStart:      uint32(newStart),
			ClustersMoved: moved,
		})
	}

	return report, nil
}

// relocateOne moves f's entire chain into a single contiguous run, updating
// its directory entry and (for directories) the "." and its children's ".."
// back-links. If no contiguous run is immediately free, it makes one bounded
// attempt to displace a single blocking file to the far end of the volume
// before giving up with ferrors.NoSpace.
func (r *Relocator) relocateOne(f volume.File, displacing map[string]bool) (int, codec.ClusterID, error) {
	chain, err := r.vol.ReadChain(f.Entry.FirstCluster)
	if err != nil {
		return 0, 0, err
	}

	newClusters, err := r.vol.AllocateContiguous(uint(len(chain)))
	if errors.Is(err, ferrors.NoSpace) {
		displacing[f.Path] = true
		displaced, dErr := r.displaceOneBlocker(uint(len(chain)), displacing)
		delete(displacing, f.Path)
		if dErr != nil {
			return 0, 0, dErr
		}
		if !displaced {
			return 0, 0, err
		}
		newClusters, err = r.vol.AllocateContiguous(uint(len(chain)))
	}
	if err != nil {
		return 0, 0, err
	}

	for i, c := range chain {
		pred := volume.NoPredecessor
		if i > 0 {
			pred = newClusters[i-1]
		}
		if err := r.vol.MoveCluster(c, newClusters[i], pred); err != nil {
			return i, 0, err
		}
	}

	updated := f.Entry
	oldStart := f.Entry.FirstCluster
	updated.FirstCluster = newClusters[0]
	if err := r.vol.UpdateDirEntry(f.Position, updated); err != nil {
		return len(chain), newClusters[0], err
	}

	if f.Entry.IsDirectory() {
		if err := r.fixupDirectorySelfLinks(oldStart, newClusters[0]); err != nil {
			return len(chain), newClusters[0], err
		}
	}

	return len(chain), newClusters[0], nil
}

// displaceOneBlocker relocates a single other file to the high end of the
// volume to free up its old clusters, giving the caller's AllocateContiguous
// retry a chance to succeed. displacing guards against a file displacing
// itself or re-entering mid-move; it returns false (no error) if every
// candidate was already being displaced or had nowhere to go either.
func (r *Relocator) displaceOneBlocker(needed uint, displacing map[string]bool) (bool, error) {
	for _, f := range r.files {
		if displacing[f.Path] || f.Entry.FirstCluster == 0 {
			continue
		}

		chain, err := r.vol.ReadChain(f.Entry.FirstCluster)
		if err != nil {
			continue
		}

		newClusters, err := r.vol.AllocateContiguousFromEnd(uint(len(chain)))
		if err != nil {
			continue
		}

		displacing[f.Path] = true

		for i, c := range chain {
			pred := volume.NoPredecessor
			if i > 0 {
				pred = newClusters[i-1]
			}
			if err := r.vol.MoveCluster(c, newClusters[i], pred); err != nil {
				delete(displacing, f.Path)
				return false, err
			}
		}

		updated := f.Entry
		oldStart := f.Entry.FirstCluster
		updated.FirstCluster = newClusters[0]
		if err := r.vol.UpdateDirEntry(f.Position, updated); err != nil {
			delete(displacing, f.Path)
			return false, err
		}

		if f.Entry.IsDirectory() {
			if err := r.fixupDirectorySelfLinks(oldStart, newClusters[0]); err != nil {
				delete(displacing, f.Path)
				return false, err
			}
		}

		delete(displacing, f.Path)
		_ = needed // the candidate's own length determined feasibility, not the caller's
		return true, nil
	}
	return false, nil
}

// fixupDirectorySelfLinks rewrites a moved directory's own "." entry and the
// ".." entry in every one of its immediate subdirectories, the two
// back-links that would otherwise still point at the directory's pre-move
// first cluster.
func (r *Relocator) fixupDirectorySelfLinks(oldStart, newStart codec.ClusterID) error {
	children, err := r.vol.WalkDirectory(newStart, false)
	if err != nil {
		return err
	}

	for _, child := range children {
		if child.Path != "." && child.Path != ".." {
			continue
		}
		if child.Entry.FirstCluster != oldStart {
			continue
		}
		updated := child.Entry
		updated.FirstCluster = newStart
		if err := r.vol.UpdateDirEntry(child.Position, updated); err != nil {
			return err
		}
	}

	for _, child := range children {
		if child.Path == "." || child.Path == ".." || !child.Entry.IsDirectory() {
			continue
		}
		grandchildren, err := r.vol.WalkDirectory(child.Entry.FirstCluster, false)
		if err != nil {
			return err
		}
		for _, gc := range grandchildren {
			if gc.Path != ".." || gc.Entry.FirstCluster != oldStart {
				continue
			}
			updated := gc.Entry
			updated.FirstCluster = newStart
			if err := r.vol.UpdateDirEntry(gc.Position, updated); err != nil {
				return err
			}
		}
	}

	return nil
}
