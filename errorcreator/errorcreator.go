// Package errorcreator deliberately corrupts an open Volume to produce the
// fsck-style failure scenarios a real defragmenter has to detect rather than
// propagate: broken chains, lost clusters, cross-linked chains, and
// malformed directory entries. It shares Volume's transaction machinery
// with Relocator and Fragmentator but reaches through Volume's raw
// SetRawFatEntry/PokeBytes escape hatches, since every corruption here is,
// by definition, a state the normal allocation path refuses to produce.
package errorcreator

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/noxer/bytewriter"

	"github.com/dargueta/fatdefrag/codec"
	"github.com/dargueta/fatdefrag/volume"
)

// Scenario names one of the corruption kinds this package can inject.
type Scenario string

const (
	BrokenChain      Scenario = "broken_chain"
	LostCluster      Scenario = "lost_cluster"
	CrossLinkedChain Scenario = "cross_linked_chain"
	BadDirEntry      Scenario = "bad_dir_entry"
)

// Result records whether one requested injection actually happened.
type Result struct {
	Path     string   `csv:"path"`
	Scenario Scenario `csv:"scenario"`
	Injected bool     `csv:"injected"`
	Detail   string   `csv:"detail"`
}

// Report aggregates every injection attempted in one run.
type Report struct {
	Results []Result
	Errors  *multierror.Error
}

// ErrorCreator injects corruption into one open Volume.
type ErrorCreator struct {
	vol *volume.Volume
}

// New returns an ErrorCreator bound to vol. vol must already be open.
func New(vol *volume.Volume) *ErrorCreator {
	return &ErrorCreator{vol: vol}
}

// InjectBrokenChain repoints the FAT entry of f's first cluster at a
// cluster number past the end of the volume's valid data range, simulating
// a chain whose next-pointer corruption a checker must detect rather than
// silently follow. Requires f to have at least two clusters.
func (ec *ErrorCreator) InjectBrokenChain(f volume.File) Result {
	chain, err := ec.vol.ReadChain(f.Entry.FirstCluster)
	if err != nil || len(chain) < 2 {
		return skip(f.Path, BrokenChain, "file has fewer than two clusters")
	}

	badTarget := ec.vol.BootParameters().LastDataCluster + 1000
	if err := ec.vol.SetRawFatEntry(chain[0], codec.FatEntry{Class: codec.Allocated, Next: badTarget}); err != nil {
		return skip(f.Path, BrokenChain, err.Error())
	}

	return Result{Path: f.Path, Scenario: BrokenChain, Injected: true,
		Detail: fmt.Sprintf("cluster %d now points at out-of-range cluster %d", chain[0], badTarget)}
}

// InjectLostCluster truncates f's chain one cluster early (terminating it
// with EOC at the second-to-last cluster) without freeing the clusters that
// follow, so they remain marked Allocated in the FAT while unreachable from
// any directory entry — the textbook "lost cluster" state a disk checker
// flags. Requires f to have at least two clusters.
func (ec *ErrorCreator) InjectLostCluster(f volume.File) Result {
	chain, err := ec.vol.ReadChain(f.Entry.FirstCluster)
	if err != nil || len(chain) < 2 {
		return skip(f.Path, LostCluster, "file has fewer than two clusters")
	}

	truncateAt := chain[len(chain)-2]
	if err := ec.vol.SetRawFatEntry(truncateAt, codec.FatEntry{Class: codec.EOC}); err != nil {
		return skip(f.Path, LostCluster, err.Error())
	}

	return Result{Path: f.Path, Scenario: LostCluster, Injected: true,
		Detail: fmt.Sprintf("cluster %d orphaned after early EOC at %d", chain[len(chain)-1], truncateAt)}
}

// InjectCrossLinkedChain repoints the last cluster of f's chain at the
// second cluster of other's chain, so the two files share a tail — another
// cluster ends up claimed by two chains at once. Requires f to have at least
// one cluster, other to have at least two, and f and other to be different
// files.
func (ec *ErrorCreator) InjectCrossLinkedChain(f, other volume.File) Result {
	if f.Path == other.Path {
		return skip(f.Path, CrossLinkedChain, "cannot cross-link a file with itself")
	}

	fChain, err := ec.vol.ReadChain(f.Entry.FirstCluster)
	if err != nil || len(fChain) < 1 {
		return skip(f.Path, CrossLinkedChain, "source file has no clusters")
	}
	otherChain, err := ec.vol.ReadChain(other.Entry.FirstCluster)
	if err != nil || len(otherChain) < 2 {
		return skip(f.Path, CrossLinkedChain, "target file has fewer than two clusters")
	}

	shared := otherChain[1]
	if err := ec.vol.SetRawFatEntry(fChain[len(fChain)-1], codec.FatEntry{Class: codec.Allocated, Next: shared}); err != nil {
		return skip(f.Path, CrossLinkedChain, err.Error())
	}

	return Result{Path: f.Path, Scenario: CrossLinkedChain, Injected: true,
		Detail: fmt.Sprintf("cluster %d now shared with %q", shared, other.Path)}
}

// InjectBadDirEntry overwrites f's directory entry with a hand-built 32-byte
// record carrying reserved attribute bits and a first cluster past the valid
// data range. codec.ParseDirEntry still decodes the record as a short entry;
// the bad cluster number is what Volume.ReadChain rejects. The record is
// built byte by byte through bytewriter over a scratch buffer, mirroring the
// teacher's own raw-bytes construction in file_systems/unixv1/format.go,
// and poked straight into the image rather than encoded with
// codec.EncodeDirEntry.
func (ec *ErrorCreator) InjectBadDirEntry(f volume.File) Result {
	buf := make([]byte, codec.DirentSize)
	w := bytewriter.New(buf)

	name := []byte("BADNAME ")
	ext := []byte("BAD")
	w.Write(name)
	w.Write(ext)
	w.Write([]byte{0xC7}) // reserved attribute bits set alongside real ones
	w.Write(make([]byte, 8))

	badCluster := uint32(ec.vol.BootParameters().LastDataCluster) + 500
	w.Write([]byte{byte(badCluster >> 16), byte(badCluster >> 24)}) // cluster-high, little-endian
	w.Write(make([]byte, 4))
	w.Write([]byte{byte(badCluster), byte(badCluster >> 8)}) // cluster-low, little-endian
	w.Write(make([]byte, 4))

	if err := ec.vol.PokeBytes(f.Position.ByteOffset, buf); err != nil {
		return skip(f.Path, BadDirEntry, err.Error())
	}

	return Result{Path: f.Path, Scenario: BadDirEntry, Injected: true,
		Detail: "directory entry overwritten with reserved attributes and an out-of-range cluster"}
}

func skip(path string, scenario Scenario, reason string) Result {
	return Result{Path: path, Scenario: scenario, Injected: false, Detail: reason}
}

// InjectAll runs every applicable scenario across files, skipping whichever
// don't have enough clusters to demonstrate a given scenario, and returns
// one aggregated Report. Cross-linking uses each file paired with the next
// one in the slice, so it needs at least two files to do anything.
func (ec *ErrorCreator) InjectAll(files []volume.File) *Report {
	report := &Report{}

	for _, f := range files {
		if f.Entry.FirstCluster == 0 {
			continue
		}
		report.Results = append(report.Results, ec.InjectBrokenChain(f))
		report.Results = append(report.Results, ec.InjectLostCluster(f))
		report.Results = append(report.Results, ec.InjectBadDirEntry(f))
	}

	for i := 0; i+1 < len(files); i++ {
		report.Results = append(report.Results, ec.InjectCrossLinkedChain(files[i], files[i+1]))
	}

	for _, r := range report.Results {
		if !r.Injected {
			report.Errors = multierror.Append(report.Errors, fmt.Errorf("%s: %s: %s", r.Path, r.Scenario, r.Detail))
		}
	}

	return report
}
