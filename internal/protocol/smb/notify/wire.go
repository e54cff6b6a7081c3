package notify

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// requestFixedSize is the fixed portion of a CHANGE_NOTIFY request body
// [MS-SMB2] 2.2.35: StructureSize(2), Flags(2), OutputBufferLength(4),
// FileId(16), CompletionFilter(4), Reserved(4).
const requestFixedSize = 32

// watchTreeFlag is SMB2_WATCH_TREE: recurse into subdirectories.
const watchTreeFlag uint16 = 0x0001

// ParsedRequest is a decoded CHANGE_NOTIFY request.
type ParsedRequest struct {
	WatchTree          bool
	OutputBufferLength uint32
	FileID             [16]byte
	CompletionFilter   uint32
}

// DecodeRequest parses a CHANGE_NOTIFY request body.
func DecodeRequest(body []byte) (*ParsedRequest, error) {
	if len(body) < requestFixedSize {
		return nil, fmt.Errorf("notify: CHANGE_NOTIFY request too short: %d bytes", len(body))
	}

	req := &ParsedRequest{
		WatchTree:          binary.LittleEndian.Uint16(body[2:4])&watchTreeFlag != 0,
		OutputBufferLength: binary.LittleEndian.Uint32(body[4:8]),
		CompletionFilter:   binary.LittleEndian.Uint32(body[24:28]),
	}
	copy(req.FileID[:], body[8:24])
	return req, nil
}

// responseFixedSize is the fixed portion of a CHANGE_NOTIFY response body
// [MS-SMB2] 2.2.36: StructureSize(2), OutputBufferOffset(2),
// OutputBufferLength(4).
const responseFixedSize = 8

// changeNotifyOutputOffset is the OutputBufferOffset value for a response
// whose buffer starts immediately after the fixed SMB2 header + fixed
// response body (64 + 8).
const changeNotifyOutputOffset = 72

// EncodeResponse serializes events into a CHANGE_NOTIFY response body. An
// empty events slice encodes the zero-length-buffer form used both for a
// response with nothing to report and for the STATUS_NOTIFY_ENUM_DIR
// overflow completion (the status code itself, not the body, signals
// overflow).
func EncodeResponse(events []Event, watchRoot string) []byte {
	entries := encodeFileNotifyInformation(events, watchRoot)

	buf := make([]byte, responseFixedSize+len(entries))
	binary.LittleEndian.PutUint16(buf[0:2], responseFixedSize+1)
	if len(entries) > 0 {
		binary.LittleEndian.PutUint16(buf[2:4], changeNotifyOutputOffset)
	}
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(entries)))
	copy(buf[responseFixedSize:], entries)
	return buf
}

// encodeFileNotifyInformation serializes a FILE_NOTIFY_INFORMATION array
// [MS-FSCC] 2.7.1, one entry per event, FileName reported relative to
// watchRoot with backslash separators.
func encodeFileNotifyInformation(events []Event, watchRoot string) []byte {
	if len(events) == 0 {
		return nil
	}

	names := make([]string, len(events))
	sizes := make([]int, len(events))
	total := 0
	for i, e := range events {
		names[i] = relativeTo(e.Path, watchRoot)
		entrySize := 12 + len(names[i])*2
		if pad := entrySize % 4; pad != 0 {
			entrySize += 4 - pad
		}
		sizes[i] = entrySize
		total += entrySize
	}

	buf := make([]byte, total)
	offset := 0
	for i, e := range events {
		start := offset
		nameUTF16 := utf16.Encode([]rune(names[i]))

		binary.LittleEndian.PutUint32(buf[offset+4:offset+8], uint32(e.Action))
		binary.LittleEndian.PutUint32(buf[offset+8:offset+12], uint32(len(nameUTF16)*2))
		for j, u := range nameUTF16 {
			binary.LittleEndian.PutUint16(buf[offset+12+j*2:], u)
		}

		offset = start + sizes[i]
		if i < len(events)-1 {
			binary.LittleEndian.PutUint32(buf[start:start+4], uint32(sizes[i]))
		}
	}
	return buf
}

// relativeTo strips root from path, returning the remainder without a
// leading separator; if path doesn't fall under root (shouldn't happen for
// anything that survived matching) the full path is reported instead.
func relativeTo(path, root string) string {
	if root == "" {
		return trimLeadingSep(path)
	}
	if !pathUnder(path, root) {
		return trimLeadingSep(path)
	}
	return trimLeadingSep(path[len(root):])
}

func trimLeadingSep(s string) string {
	if len(s) > 0 && s[0] == '\\' {
		return s[1:]
	}
	return s
}

// DecodeUTF16LEPath decodes a UTF-16LE share-path buffer from a TREE_CONNECT
// request, trimming a trailing NUL if present. [MS-SMB2] 2.2.9.
func DecodeUTF16LEPath(b []byte) string {
	if len(b) < 2 {
		return ""
	}
	u16s := make([]uint16, len(b)/2)
	for i := range u16s {
		u16s[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	for len(u16s) > 0 && u16s[len(u16s)-1] == 0 {
		u16s = u16s[:len(u16s)-1]
	}
	return string(utf16.Decode(u16s))
}
