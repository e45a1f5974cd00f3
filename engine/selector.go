package engine

import (
	"path"
	"strings"

	"github.com/franksops/gorelay/provider"
)

// Selector filters directory listings down to the files a batch moves.
type Selector struct {
	// Suffix is matched case-insensitively against file names.
	Suffix string
}

// ZipSelector keeps .zip files.
var ZipSelector = Selector{Suffix: ".zip"}

// Match reports whether a single entry is eligible.
func (s Selector) Match(e provider.FileInfo) bool {
	name := e.Name()
	if name == "." || name == ".." || e.IsDir() {
		return false
	}
	return strings.HasSuffix(strings.ToLower(name), strings.ToLower(s.Suffix))
}

// Select returns the eligible entries in listing order.
func (s Selector) Select(entries []provider.FileInfo) []provider.FileInfo {
	out := make([]provider.FileInfo, 0, len(entries))
	for _, e := range entries {
		if s.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// SelectZips is ZipSelector.Select.
func SelectZips(entries []provider.FileInfo) []provider.FileInfo {
	return ZipSelector.Select(entries)
}

// RouteDestination derives the remote directory for an upload from the
// two-character country prefix of filename, e.g. "mx_orders.zip" under
// "/incoming" routes to "/incoming/mx". Names too short to carry a prefix
// route to base itself.
func RouteDestination(filename, base string) string {
	name := path.Base(filename)
	if len(name) < 2 {
		return base
	}
	prefix := name[:2]
	if base == "" {
		return prefix
	}
	return strings.TrimSuffix(base, "/") + "/" + prefix
}
