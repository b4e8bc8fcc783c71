package codec

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/dargueta/fatdefrag/internal/ferrors"
)

// DirentSize is the size of a single raw directory entry, in bytes.
const DirentSize = 32

// Attribute flags, matching the teacher's drivers/fat/common.go constants.
const (
	AttrReadOnly    = 1 << 0
	AttrHidden      = 1 << 1
	AttrSystem      = 1 << 2
	AttrVolumeLabel = 1 << 3
	AttrDirectory   = 1 << 4
	AttrArchived    = 1 << 5
	AttrDevice      = 1 << 6
	AttrReserved    = 1 << 7

	// AttrLongName marks an entry as a VFAT long-file-name fragment; the
	// combination of read-only|hidden|system|volume-label is never produced
	// by a real short entry, so it's used as the LFN sentinel.
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel
)

// deletedMarker is written to byte 0 of a directory entry's name field when
// the entry is deleted.
const deletedMarker = 0xE5

// fatEpoch is 1980-01-01 00:00:00, the earliest representable FAT timestamp.
var fatEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// rawDirent is the exact 32-byte on-disk layout of a short directory entry.
type rawDirent struct {
	Name              [8]byte
	Extension         [3]byte
	AttributeFlags    uint8
	NTReserved        uint8
	CreatedTimeTenths uint8
	CreatedTime       uint16
	CreatedDate       uint16
	LastAccessedDate  uint16
	FirstClusterHigh  uint16
	LastModifiedTime  uint16
	LastModifiedDate  uint16
	FirstClusterLow   uint16
	FileSize          uint32
}

// DirectoryEntry is the friendly, decoded form of a 32-byte directory
// record.
type DirectoryEntry struct {
	Name           string
	AttributeFlags int
	FirstCluster   ClusterID
	FileSize       uint32
	CreatedAt      time.Time
	LastAccessed   time.Time
	LastModified   time.Time
	IsDeleted      bool
}

// IsDirectory reports whether the entry's attribute flags mark it as a
// directory.
func (d *DirectoryEntry) IsDirectory() bool {
	return d.AttributeFlags&AttrDirectory != 0
}

// IsLongName reports whether the raw 32 bytes this entry was parsed from
// represent a VFAT long-name fragment rather than a short entry.
func (d *DirectoryEntry) IsLongName() bool {
	return d.AttributeFlags&0x3F == AttrLongName
}

// ErrEndOfDirectory and ErrDeletedEntry are sentinel errors returned by
// ParseDirEntry; they are not failures, just classifications a caller can
// test for with errors.Is.
var (
	ErrEndOfDirectory = fmt.Errorf("end of directory marker")
	ErrDeletedEntry   = fmt.Errorf("deleted directory entry")
)

// ParseDirEntry decodes exactly DirentSize bytes into a DirectoryEntry. If
// the first byte is 0x00 it returns ErrEndOfDirectory (no more entries exist
// past this point in the directory). If the entry is marked deleted
// (0xE5) it decodes as much as it can and returns both the entry and
// ErrDeletedEntry so callers that care about slack space can still inspect
// it.
func ParseDirEntry(data []byte) (DirectoryEntry, error) {
	if len(data) != DirentSize {
		return DirectoryEntry{}, ferrors.FormatError.WithMessage(
			fmt.Sprintf("directory entry must be exactly %d bytes, got %d", DirentSize, len(data)))
	}

	if data[0] == 0x00 {
		return DirectoryEntry{}, ErrEndOfDirectory
	}

	raw := rawDirent{
		AttributeFlags:    data[11],
		NTReserved:        data[12],
		CreatedTimeTenths: data[13],
		CreatedTime:       binary.LittleEndian.Uint16(data[14:16]),
		CreatedDate:       binary.LittleEndian.Uint16(data[16:18]),
		LastAccessedDate:  binary.LittleEndian.Uint16(data[18:20]),
		FirstClusterHigh:  binary.LittleEndian.Uint16(data[20:22]),
		LastModifiedTime:  binary.LittleEndian.Uint16(data[22:24]),
		LastModifiedDate:  binary.LittleEndian.Uint16(data[24:26]),
		FirstClusterLow:   binary.LittleEndian.Uint16(data[26:28]),
		FileSize:          binary.LittleEndian.Uint32(data[28:32]),
	}
	copy(raw.Name[:], data[0:8])
	copy(raw.Extension[:], data[8:11])

	isDeleted := raw.Name[0] == deletedMarker
	firstCluster := ClusterID((uint32(raw.FirstClusterHigh) << 16) | uint32(raw.FirstClusterLow))

	entry := DirectoryEntry{
		AttributeFlags: int(raw.AttributeFlags),
		FirstCluster:   firstCluster,
		FileSize:       raw.FileSize,
		LastAccessed:   dateFromRaw(raw.LastAccessedDate),
		LastModified:   timestampFromRaw(raw.LastModifiedDate, raw.LastModifiedTime, 0),
		IsDeleted:      isDeleted,
	}

	if entry.IsLongName() {
		// Long-name fragments don't carry a name in the short-entry sense;
		// callers reassemble UTF-16 text from the raw bytes separately. No
		// timestamp fields are meaningful here either.
		return entry, nil
	}

	if !isDeleted {
		entry.CreatedAt = timestampFromRaw(raw.CreatedDate, raw.CreatedTime, raw.CreatedTimeTenths)
	}

	name := nameFromRaw(raw.Name, raw.Extension, raw.CreatedTimeTenths, isDeleted)
	entry.Name = name

	if isDeleted {
		return entry, ErrDeletedEntry
	}
	return entry, nil
}

// EncodeDirEntry is the inverse of ParseDirEntry: it serializes a
// DirectoryEntry back into exactly DirentSize bytes, preserving the 8.3 name
// split and cluster-number high/low halves.
func EncodeDirEntry(e DirectoryEntry) []byte {
	buf := make([]byte, DirentSize)

	shortName, ext := splitShortName(e.Name)
	copy(buf[0:8], []byte(shortName))
	copy(buf[8:11], []byte(ext))
	for i := len(shortName); i < 8; i++ {
		buf[i] = ' '
	}
	for i := len(ext); i < 3; i++ {
		buf[8+i] = ' '
	}

	buf[11] = byte(e.AttributeFlags)

	createdDate, createdTime, createdTenths := rawFromTimestamp(e.CreatedAt)
	buf[13] = createdTenths
	binary.LittleEndian.PutUint16(buf[14:16], createdTime)
	binary.LittleEndian.PutUint16(buf[16:18], createdDate)

	accessDate, _, _ := rawFromTimestamp(e.LastAccessed)
	binary.LittleEndian.PutUint16(buf[18:20], accessDate)

	binary.LittleEndian.PutUint16(buf[20:22], uint16(uint32(e.FirstCluster)>>16))

	modDate, modTime, _ := rawFromTimestamp(e.LastModified)
	binary.LittleEndian.PutUint16(buf[22:24], modTime)
	binary.LittleEndian.PutUint16(buf[24:26], modDate)

	binary.LittleEndian.PutUint16(buf[26:28], uint16(uint32(e.FirstCluster)&0xFFFF))
	binary.LittleEndian.PutUint32(buf[28:32], e.FileSize)

	if e.IsDeleted {
		buf[13] = buf[0]
		buf[0] = deletedMarker
	}

	return buf
}

// splitShortName divides a "NAME.EXT" string back into its 8-character name
// and 3-character extension parts, upper-cased, matching the split
// ParseDirEntry produces it from. The "." and ".." directory entries keep
// their dots in the name field with an empty extension.
func splitShortName(name string) (string, string) {
	upper := strings.ToUpper(name)
	if upper == "." || upper == ".." {
		return upper, ""
	}
	dot := strings.LastIndexByte(upper, '.')
	if dot < 0 {
		return truncate(upper, 8), ""
	}
	return truncate(upper[:dot], 8), truncate(upper[dot+1:], 3)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// nameFromRaw reassembles the "NAME.EXT" display form, handling the two
// special first-byte escapes the FAT standard defines for the deleted-marker
// byte (0xE5) itself appearing as a legitimate Shift-JIS/Kanji lead byte.
func nameFromRaw(nameField [8]byte, extField [3]byte, createdTimeTenths uint8, isDeleted bool) string {
	trimmedName := strings.TrimRight(string(nameField[:]), " ")
	trimmedExt := strings.TrimRight(string(extField[:]), " ")

	if isDeleted && len(trimmedName) > 0 {
		// The true first character was overwritten by the deletion marker;
		// it's stashed in CreatedTimeTenths per the standard.
		trimmedName = string([]byte{createdTimeTenths}) + trimmedName[1:]
	} else if len(trimmedName) > 0 && trimmedName[0] == 0x05 {
		trimmedName = "\xe5" + trimmedName[1:]
	}

	if trimmedExt == "" {
		return trimmedName
	}
	return trimmedName + "." + trimmedExt
}

// dateFromRaw converts a FAT 16-bit date into a time.Time at midnight UTC.
func dateFromRaw(value uint16) time.Time {
	if value == 0 {
		return time.Time{}
	}
	day := int(value & 0x1F)
	month := time.Month((value >> 5) & 0x0F)
	year := 1980 + int(value>>9)
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// timestampFromRaw combines a FAT date, time, and hundredths-of-a-second
// field into a single time.Time.
func timestampFromRaw(datePart, timePart uint16, tenths uint8) time.Time {
	d := dateFromRaw(datePart)
	if d.IsZero() {
		return d
	}

	seconds := int(timePart&0x1F) * 2
	hundredths := int(tenths)
	if hundredths >= 100 {
		seconds++
		hundredths -= 100
	}
	minutes := int((timePart >> 5) & 0x3F)
	hours := int(timePart >> 11)
	nanoseconds := hundredths * 10_000_000

	return time.Date(d.Year(), d.Month(), d.Day(), hours, minutes, seconds, nanoseconds, time.UTC)
}

// rawFromTimestamp is the inverse of timestampFromRaw/dateFromRaw, used when
// re-encoding a DirectoryEntry. Timestamps before fatEpoch clamp to it,
// matching the teacher's validation that refuses to set anything earlier.
func rawFromTimestamp(t time.Time) (date, clock uint16, tenths uint8) {
	if t.IsZero() {
		return 0, 0, 0
	}
	if t.Before(fatEpoch) {
		t = fatEpoch
	}

	date = uint16((t.Year()-1980)<<9) | uint16(int(t.Month())<<5) | uint16(t.Day())
	clock = uint16(t.Hour()<<11) | uint16(t.Minute()<<5) | uint16(t.Second()/2)

	hundredths := (t.Second()%2)*100 + t.Nanosecond()/10_000_000
	tenths = uint8(hundredths)
	return
}

// ShortNameChecksum computes the checksum of an 11-byte 8.3 short name that
// VFAT long-name entries embed, so the long-name chain can be matched back
// to its short entry. This is the standard sum-with-right-rotate algorithm.
func ShortNameChecksum(name, ext string) uint8 {
	var sum uint8
	full := truncate(name+strings.Repeat(" ", 8), 8) + truncate(ext+strings.Repeat(" ", 3), 3)
	for i := 0; i < 11; i++ {
		sum = ((sum & 1) << 7) | (sum >> 1)
		sum += full[i]
	}
	return sum
}
