package common

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidVersion is returned when a version string isn't exactly "major.minor.patch"
var ErrInvalidVersion = errors.New("invalid version")

// ProtocolVersion is a (major, minor, patch) triple ordered lexicographically
type ProtocolVersion struct {
	Major uint16
	Minor uint16
	Patch uint16
}

// ParseVersion parses "major.minor.patch". Anything else, including "1.2", fails.
func ParseVersion(s string) (ProtocolVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return ProtocolVersion{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	var nums [3]uint16
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 16)
		if err != nil {
			return ProtocolVersion{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		nums[i] = uint16(n)
	}

	return ProtocolVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// MustParseVersion is ParseVersion for compile-time constants, panics on error
func MustParseVersion(s string) ProtocolVersion {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// CurrentVersion is the protocol version spoken by this build
func CurrentVersion() ProtocolVersion {
	return MustParseVersion(SoftwareVersion)
}

// Compare returns -1, 0 or 1 when v is lower than, equal to or greater than other
func (v ProtocolVersion) Compare(other ProtocolVersion) int {
	switch {
	case v.Major != other.Major:
		return cmpUint16(v.Major, other.Major)
	case v.Minor != other.Minor:
		return cmpUint16(v.Minor, other.Minor)
	default:
		return cmpUint16(v.Patch, other.Patch)
	}
}

// Less reports whether v sorts before other
func (v ProtocolVersion) Less(other ProtocolVersion) bool {
	return v.Compare(other) < 0
}

func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// MarshalText encodes the version as "major.minor.patch" so it travels as a JSON string
func (v ProtocolVersion) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText is the inverse of MarshalText
func (v *ProtocolVersion) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// IsVersionCompatible returns true if client >= min. Unparsable input is never compatible.
func IsVersionCompatible(client string, min string) bool {
	c, err := ParseVersion(client)
	if err != nil {
		return false
	}
	m, err := ParseVersion(min)
	if err != nil {
		return false
	}
	return !c.Less(m)
}

func cmpUint16(a, b uint16) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
