package tilesource

import (
	"fmt"
	"strings"
)

// UpdateStrategy selects how a stale disk copy of a tile is revalidated
// against the tile server.
type UpdateStrategy int

const (
	// None always re-downloads.
	None UpdateStrategy = iota
	// IfModifiedSince sends a conditional GET with the file modification time.
	IfModifiedSince
	// LastModified compares the Last-Modified header of a HEAD response.
	LastModified
	// ETag compares the ETag header of a HEAD response.
	ETag
	// IfNoneMatch sends a conditional GET with the stored ETag.
	IfNoneMatch
)

var strategyNames = [...]string{
	None:            "None",
	IfModifiedSince: "IfModifiedSince",
	LastModified:    "LastModified",
	ETag:            "ETag",
	IfNoneMatch:     "IfNoneMatch",
}

func (u UpdateStrategy) String() string {
	if u < 0 || int(u) >= len(strategyNames) {
		return fmt.Sprintf("UpdateStrategy(%d)", int(u))
	}
	return strategyNames[u]
}

// UsesETag reports whether the strategy needs the server ETag recorded.
func (u UpdateStrategy) UsesETag() bool {
	return u == ETag || u == IfNoneMatch
}

func (u UpdateStrategy) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText accepts the strategy name in any case.
func (u *UpdateStrategy) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*u = None
		return nil
	}
	for i, name := range strategyNames {
		if strings.EqualFold(name, s) {
			*u = UpdateStrategy(i)
			return nil
		}
	}
	return fmt.Errorf("unknown update strategy %q", s)
}
