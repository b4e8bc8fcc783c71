// Package fragreport formats the per-file results of a Relocator,
// Fragmentator, or ErrorCreator run as CSV, the way the teacher's disks
// package renders its geometry tables with gocsv. It is deliberately thin:
// one Write function, no schema of its own, since every caller already
// defines its own row type with csv struct tags.
package fragreport

import (
	"io"

	"github.com/gocarina/gocsv"
)

// Write marshals rows (a slice of any csv-tagged struct type) to w as CSV.
func Write(w io.Writer, rows interface{}) error {
	return gocsv.MarshalWithoutHeaders(w, rows)
}

// WriteWithHeader marshals rows to w as CSV including the header row derived
// from struct tags.
func WriteWithHeader(w io.Writer, rows interface{}) error {
	return gocsv.Marshal(rows, w)
}
