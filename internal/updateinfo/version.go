// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package updateinfo

import (
	"fmt"
	"regexp"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// dottedRegex accepts dot-separated non-negative integers only. go-version
// alone would also take "v" prefixes and pre-release suffixes.
var dottedRegex = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)

// Version is an ordered dotted-number version such as "1.2.0".
// Missing trailing segments compare as zero, so "1.2" equals "1.2.0".
type Version struct {
	v *goversion.Version
}

// ParseVersion parses a dot-separated list of non-negative integers.
func ParseVersion(s string) (Version, error) {
	if !dottedRegex.MatchString(s) {
		return Version{}, fmt.Errorf("invalid version %q: expected dot-separated non-negative integers", s)
	}
	v, err := goversion.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return Version{v: v}, nil
}

// MustParseVersion is like ParseVersion but panics on error.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsZero reports whether v was never parsed.
func (v Version) IsZero() bool {
	return v.v == nil
}

// Segments returns the numeric components as written.
func (v Version) Segments() []int64 {
	if v.v == nil {
		return nil
	}
	segs := v.v.Segments64()
	// go-version pads to at least three segments.
	if n := strings.Count(v.v.Original(), ".") + 1; n < len(segs) {
		segs = segs[:n]
	}
	return segs
}

// Compare returns -1, 0 or 1. The zero Version sorts before every parsed one.
func (v Version) Compare(other Version) int {
	switch {
	case v.v == nil && other.v == nil:
		return 0
	case v.v == nil:
		return -1
	case other.v == nil:
		return 1
	}
	return v.v.Compare(other.v)
}

// LessThan reports whether v < other.
func (v Version) LessThan(other Version) bool {
	return v.Compare(other) < 0
}

// GreaterThan reports whether v > other.
func (v Version) GreaterThan(other Version) bool {
	return v.Compare(other) > 0
}

// Equal reports whether v and other denote the same version.
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

// String returns the version as it appeared in the tool output.
func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.Original()
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
