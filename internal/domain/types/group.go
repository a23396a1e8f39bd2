package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	groupIDLegacySize = 16
	groupIDSize       = 32
	groupIDPrefix     = "group:"
)

// ErrBadGroupID is returned when raw bytes cannot form a group identifier.
var ErrBadGroupID = errors.New("bad group id")

// GroupID identifies a push group. The zero value is "no group".
type GroupID struct {
	raw string
}

// ParseGroupID validates raw group id bytes as carried in envelopes and
// protocol errors.
func ParseGroupID(raw []byte) (GroupID, error) {
	switch len(raw) {
	case groupIDLegacySize, groupIDSize:
		return GroupID{raw: string(raw)}, nil
	default:
		return GroupID{}, fmt.Errorf("%w: length %d", ErrBadGroupID, len(raw))
	}
}

// ParseGroupIDString parses the form produced by GroupID.String.
func ParseGroupIDString(s string) (GroupID, error) {
	if !strings.HasPrefix(s, groupIDPrefix) {
		return GroupID{}, fmt.Errorf("%w: missing prefix", ErrBadGroupID)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, groupIDPrefix))
	if err != nil {
		return GroupID{}, fmt.Errorf("%w: %v", ErrBadGroupID, err)
	}
	return ParseGroupID(raw)
}

// IsZero reports whether g is the empty group id.
func (g GroupID) IsZero() bool { return g.raw == "" }

// Bytes returns a copy of the raw identifier.
func (g GroupID) Bytes() []byte { return []byte(g.raw) }

// String returns a printable, parseable form of the identifier.
func (g GroupID) String() string {
	if g.IsZero() {
		return ""
	}
	return groupIDPrefix + hex.EncodeToString([]byte(g.raw))
}

// MarshalText implements encoding.TextMarshaler.
func (g GroupID) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *GroupID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*g = GroupID{}
		return nil
	}
	parsed, err := ParseGroupIDString(string(b))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
