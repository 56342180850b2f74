package builtintools

import (
	"path/filepath"
	"strings"

	"github.com/nexuscli/agent/internal/agenterr"
)

const maxReadableFileSize = 5 * 1024 * 1024 // 5 MiB, spec §4.d

// denylistedExtensions are file extensions treated as binary regardless of
// content, per spec's "extension on a denylist" clause.
var denylistedExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".pdf": true, ".zip": true, ".tar": true, ".gz": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
	".woff": true, ".woff2": true, ".ttf": true, ".class": true, ".o": true,
}

// looksBinary applies spec's null-byte/non-printable density heuristic.
func looksBinary(path string, data []byte) bool {
	if denylistedExtensions[strings.ToLower(filepath.Ext(path))] {
		return true
	}
	if len(data) == 0 {
		return false
	}
	var nullBytes, nonPrintable int
	for _, b := range data {
		switch {
		case b == 0:
			nullBytes++
		case b < 0x09, b > 0x0d && b < 0x20:
			nonPrintable++
		}
	}
	n := len(data)
	if float64(nullBytes)/float64(n) > 0.10 {
		return true
	}
	if float64(nonPrintable)/float64(n) > 0.20 {
		return true
	}
	return false
}

// checkReadable enforces spec's file-read preconditions, returning a
// FileTooLarge or BinaryContent agenterr.Error when violated.
func checkReadable(path string, size int64, sniff []byte) error {
	if size > maxReadableFileSize {
		return agenterr.New(agenterr.FileTooLarge, "builtintools", path+" exceeds 5 MiB")
	}
	if looksBinary(path, sniff) {
		return agenterr.New(agenterr.BinaryContent, "builtintools", path+" looks binary")
	}
	return nil
}
