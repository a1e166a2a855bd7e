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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var versionComparer = cmp.Comparer(func(a, b Version) bool { return a.Equal(b) && a.String() == b.String() })

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Record
	}{
		{
			name:  "single entry",
			input: `<updates><update name="A" version="1.2.0" size="100"/></updates>`,
			want:  []Record{rec("A", "1.2.0", 100)},
		},
		{
			name: "multiple entries keep document order",
			input: `<updates>
  <update name="core" version="2.0" size="4096"/>
  <update name="addon" version="1.0.3" size="12"/>
</updates>`,
			want: []Record{rec("core", "2.0", 4096), rec("addon", "1.0.3", 12)},
		},
		{
			name:  "surrounding banner text is ignored",
			input: "Maintenance tool 4.6\nChecking for updates...\n<updates><update name=\"A\" version=\"1\" size=\"0\"/></updates>\nDone.\n",
			want:  []Record{rec("A", "1", 0)},
		},
		{
			name:  "explicit close tag and extra attributes",
			input: `<updates><update name="A" version="1.0" size="18446744073709551615" id="x"></update></updates>`,
			want:  []Record{rec("A", "1.0", 18446744073709551615)},
		},
		{
			name:  "empty block",
			input: `<updates></updates>`,
			want:  []Record{},
		},
		{
			name:  "self closing block",
			input: "log line\n<updates/>\n",
			want:  []Record{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.input))
			require.NoError(t, err)
			require.NotNil(t, got)
			if diff := cmp.Diff(tt.want, got, versionComparer); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_NoMarker(t *testing.T) {
	inputs := []string{
		"",
		"Warning: no network\n",
		"<update name=\"A\" version=\"1\" size=\"1\"/>",
		"</updates>",
	}
	for _, in := range inputs {
		got, err := Parse([]byte(in))
		assert.Nil(t, got)
		require.Error(t, err, "input %q", in)
		assert.True(t, IsNoMarker(err), "input %q: %v", in, err)
		assert.False(t, IsMalformed(err))
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantField string
		wantIndex int
	}{
		{"unterminated", `<updates><update name="A" version="1" size="1"/>`, "", -1},
		{"foreign child", `<updates><package name="A" version="1" size="1"/></updates>`, "", 0},
		{"missing name", `<updates><update version="1" size="1"/></updates>`, "name", 0},
		{"empty name", `<updates><update name="" version="1" size="1"/></updates>`, "name", 0},
		{"missing version", `<updates><update name="A" size="1"/></updates>`, "version", 0},
		{"bad version", `<updates><update name="A" version="1.x" size="1"/></updates>`, "version", 0},
		{"missing size", `<updates><update name="A" version="1"/></updates>`, "size", 0},
		{"negative size", `<updates><update name="A" version="1" size="-5"/></updates>`, "size", 0},
		{"size overflow", `<updates><update name="A" version="1" size="18446744073709551616"/></updates>`, "size", 0},
		{
			"second entry bad",
			`<updates><update name="A" version="1" size="1"/><update name="B" version="1" size="big"/></updates>`,
			"size", 1,
		},
		{"broken xml", `<updates><update name="A" version="1" size="1"></updates>`, "", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.input))
			assert.Nil(t, got)
			require.Error(t, err)
			assert.True(t, IsMalformed(err), "got %v", err)

			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, KindMalformed, pe.Kind)
			assert.Equal(t, tt.wantField, pe.Field)
			assert.Equal(t, tt.wantIndex, pe.Index)
			if tt.wantIndex >= 0 {
				assert.True(t, strings.Contains(err.Error(), "entry"), err.Error())
			}
		})
	}
}

func TestParse_IsPure(t *testing.T) {
	input := []byte(`<updates><update name="A" version="1.2.0" size="100"/></updates>`)
	first, err := Parse(input)
	require.NoError(t, err)
	second, err := Parse(input)
	require.NoError(t, err)
	assert.True(t, EqualRecords(first, second))

	first[0].Name = "mutated"
	assert.Equal(t, "A", second[0].Name)
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "no_marker", KindNoMarker.String())
	assert.Equal(t, "malformed", KindMalformed.String())
	assert.Equal(t, "unknown", ErrorKind(0).String())
}
