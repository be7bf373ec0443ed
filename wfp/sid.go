package wfp

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// SIDString formats a raw security identifier in the standard
// S-R-I-S-S... display form. The wire layout is: revision byte, sub-authority
// count byte, 48-bit big-endian authority, then count little-endian 32-bit
// sub-authorities.
func SIDString(sid []byte) (string, error) {
	if len(sid) < 8 {
		return "", fmt.Errorf("wfp: sid too short (%d bytes)", len(sid))
	}
	revision := sid[0]
	count := int(sid[1])
	if count > 15 || len(sid) < 8+4*count {
		return "", fmt.Errorf("wfp: sid truncated (%d sub-authorities, %d bytes)", count, len(sid))
	}

	var authority uint64
	for _, b := range sid[2:8] {
		authority = authority<<8 | uint64(b)
	}

	var sb strings.Builder
	sb.WriteString("S-")
	sb.WriteString(strconv.Itoa(int(revision)))
	sb.WriteByte('-')
	sb.WriteString(strconv.FormatUint(authority, 10))
	for i := 0; i < count; i++ {
		sub := binary.LittleEndian.Uint32(sid[8+4*i:])
		sb.WriteByte('-')
		sb.WriteString(strconv.FormatUint(uint64(sub), 10))
	}
	return sb.String(), nil
}

// nullSID is the display form of the all-zero package identifier; package
// fields carrying it are not worth showing on their own.
const nullSID = "S-1-0-0"
