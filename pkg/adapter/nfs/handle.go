package nfs

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/dittofs/pkg/shared"
)

// HandleVersion is the on-wire version byte of every handle this server
// issues. Bumping it lets a future server reject handles from an older
// layout instead of misinterpreting them.
const HandleVersion = 1

// HandleType identifies what a FileHandle's id fields address.
type HandleType byte

const (
	HandleShare HandleType = iota
	HandleDir
	HandleFile
)

// HandleSize is the fixed on-wire size of an NFS file handle (RFC 1813
// caps fh3 at 64 bytes; this server always emits exactly 32).
const HandleSize = 32

// FileHandle is the decoded form of the 32-byte opaque handle NFS clients
// carry between requests: version(1) | type(1) | shareId(4) | dirId(4) |
// fileId(4) | pad(18). Handles are opaque to clients -- the dispatcher
// re-resolves shareId/dirId/fileId on every request rather than trusting
// any embedded path.
type FileHandle struct {
	Version byte
	Type    HandleType
	ShareID uint32
	DirID   uint32
	FileID  uint32
}

// Encode renders a FileHandle to its 32-byte wire form.
func (h FileHandle) Encode() [HandleSize]byte {
	var buf [HandleSize]byte
	buf[0] = HandleVersion
	buf[1] = byte(h.Type)
	binary.BigEndian.PutUint32(buf[2:6], h.ShareID)
	binary.BigEndian.PutUint32(buf[6:10], h.DirID)
	binary.BigEndian.PutUint32(buf[10:14], h.FileID)
	return buf
}

// DecodeFileHandle parses an opaque handle received from a client.
// Per RFC 1813 §2.3.3, an unparseable or wrong-length handle is
// reported to the caller as ESTALE-class ("bad handle"), not retried.
func DecodeFileHandle(raw []byte) (FileHandle, error) {
	if len(raw) != HandleSize {
		return FileHandle{}, fmt.Errorf("nfs: bad file handle: length %d, want %d", len(raw), HandleSize)
	}
	if raw[0] != HandleVersion {
		return FileHandle{}, fmt.Errorf("nfs: bad file handle: unsupported version %d", raw[0])
	}
	t := HandleType(raw[1])
	if t != HandleShare && t != HandleDir && t != HandleFile {
		return FileHandle{}, fmt.Errorf("nfs: bad file handle: unknown type %d", raw[1])
	}
	return FileHandle{
		Version: raw[0],
		Type:    t,
		ShareID: binary.BigEndian.Uint32(raw[2:6]),
		DirID:   binary.BigEndian.Uint32(raw[6:10]),
		FileID:  binary.BigEndian.Uint32(raw[10:14]),
	}, nil
}

// NewShareHandle builds the root handle for a share: stable across
// restarts because ShareID is a hash of the share name, never a
// process-local counter.
func NewShareHandle(shareName string) FileHandle {
	return FileHandle{Version: HandleVersion, Type: HandleShare, ShareID: shared.ShareNameHash(shareName)}
}

// NewFileHandle builds a handle addressing a specific file or directory
// within a share's directory tree.
func NewFileHandle(shareName string, dirID, fileID uint32, isDir bool) FileHandle {
	t := HandleFile
	if isDir {
		t = HandleDir
	}
	return FileHandle{Version: HandleVersion, Type: t, ShareID: shared.ShareNameHash(shareName), DirID: dirID, FileID: fileID}
}
