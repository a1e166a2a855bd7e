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

// Package updateinfo describes the updates reported by a maintenance tool
// and parses the tool's output into them.
package updateinfo

import (
	"fmt"
	"math"
	"math/bits"
	"sort"
)

// Record is one available update. Records are values; a new check produces
// a new slice rather than mutating an old one.
type Record struct {
	Name    string  `json:"name"`
	Version Version `json:"version"`
	// Size is the download size in bytes.
	Size uint64 `json:"size"`
}

// Equal compares all three fields.
func (r Record) Equal(other Record) bool {
	return r.Name == other.Name && r.Version.Equal(other.Version) && r.Size == other.Size
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s (%d bytes)", r.Name, r.Version, r.Size)
}

// EqualRecords reports whether a and b hold equal records in the same order.
func EqualRecords(a, b []Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Clone returns a copy of records that shares no backing array.
func Clone(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	copy(out, records)
	return out
}

// SortByVersion returns a copy of records ordered by ascending version,
// then name. The input is not modified.
func SortByVersion(records []Record) []Record {
	out := Clone(records)
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Version.Compare(out[j].Version); c != 0 {
			return c < 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// TotalSize sums the sizes of records, saturating at math.MaxUint64.
func TotalSize(records []Record) uint64 {
	var total uint64
	for _, r := range records {
		sum, carry := bits.Add64(total, r.Size, 0)
		if carry != 0 {
			return math.MaxUint64
		}
		total = sum
	}
	return total
}
