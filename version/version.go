// Package version provides the protocol version an endpoint reports to its peers.
//
// A Version has the form major[.minor[.micro[.qualifier]]], for example "4.1",
// "5.2.0" or "8.1.3.rc1". Versions are immutable values and are ordered by their
// numeric components first and their qualifier second.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed protocol version. The zero value is version 0.0.0.
type Version struct {
	major     int
	minor     int
	micro     int
	qualifier string
}

// New returns the version major.minor.micro.qualifier. It returns an error if a
// component is negative or the qualifier holds characters outside [A-Za-z0-9_-].
func New(major, minor, micro int, qualifier string) (Version, error) {
	if major < 0 || minor < 0 || micro < 0 {
		return Version{}, fmt.Errorf("version components must not be negative, got %d.%d.%d", major, minor, micro)
	}
	if err := validQualifier(qualifier); err != nil {
		return Version{}, err
	}
	return Version{major: major, minor: minor, micro: micro, qualifier: qualifier}, nil
}

// MustParse is like Parse but panics on error. It is meant for constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Parse parses a version string. An empty string parses to 0.0.0.
func Parse(s string) (Version, error) {
	v := Version{}
	if s == "" {
		return v, nil
	}

	parts := strings.SplitN(s, ".", 4)
	nums := []*int{&v.major, &v.minor, &v.micro}
	for i, p := range parts {
		if i == 3 {
			if err := validQualifier(p); err != nil {
				return Version{}, fmt.Errorf("version %q: %w", s, err)
			}
			if p == "" {
				return Version{}, fmt.Errorf("version %q: empty qualifier", s)
			}
			v.qualifier = p
			break
		}
		n, err := parseComponent(p)
		if err != nil {
			return Version{}, fmt.Errorf("version %q: %w", s, err)
		}
		*nums[i] = n
	}
	return v, nil
}

func parseComponent(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty numeric component")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("component %q is not a non-negative integer", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("component %q: %w", s, err)
	}
	return n, nil
}

func validQualifier(q string) error {
	for _, r := range q {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return fmt.Errorf("qualifier %q contains invalid character %q", q, r)
		}
	}
	return nil
}

// Major returns the major component.
func (v Version) Major() int { return v.major }

// Minor returns the minor component.
func (v Version) Minor() int { return v.minor }

// Micro returns the micro component.
func (v Version) Micro() int { return v.micro }

// Qualifier returns the qualifier, which may be empty.
func (v Version) Qualifier() string { return v.qualifier }

// IsZero reports if v is 0.0.0 without a qualifier.
func (v Version) IsZero() bool {
	return v == Version{}
}

// Compare returns -1 if v < o, 0 if v == o and +1 if v > o.
func (v Version) Compare(o Version) int {
	switch {
	case v.major != o.major:
		return cmpInt(v.major, o.major)
	case v.minor != o.minor:
		return cmpInt(v.minor, o.minor)
	case v.micro != o.micro:
		return cmpInt(v.micro, o.micro)
	}
	return strings.Compare(v.qualifier, o.qualifier)
}

// Less reports if v orders before o.
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

// Equal reports if v and o are the same version.
func (v Version) Equal(o Version) bool {
	return v == o
}

// String returns the canonical form. Trailing zero components are kept up to
// minor, so 4.1 prints as "4.1" and 5.2.0 prints as "5.2". A qualifier forces all
// numeric components to be printed.
func (v Version) String() string {
	switch {
	case v.qualifier != "":
		return fmt.Sprintf("%d.%d.%d.%s", v.major, v.minor, v.micro, v.qualifier)
	case v.micro != 0:
		return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.micro)
	}
	return fmt.Sprintf("%d.%d", v.major, v.minor)
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	return 1
}
