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
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
)

var (
	openTag        = []byte("<updates>")
	selfClosingTag = []byte("<updates/>")
	closeTag       = []byte("</updates>")
)

// ErrorKind distinguishes the ways tool output can fail to parse.
type ErrorKind int

const (
	// KindNoMarker means the output contains no <updates> element at all.
	KindNoMarker ErrorKind = iota + 1
	// KindMalformed means an <updates> element was found but is invalid.
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoMarker:
		return "no_marker"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// ParseError is returned by Parse.
type ParseError struct {
	Kind ErrorKind
	// Index is the zero-based entry index, or -1 when not entry specific.
	Index int
	// Field names the offending attribute, if any.
	Field   string
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	msg := "parse update info: " + e.Message
	if e.Index >= 0 {
		if e.Field != "" {
			msg = fmt.Sprintf("parse update info: entry %d: %s: %s", e.Index, e.Field, e.Message)
		} else {
			msg = fmt.Sprintf("parse update info: entry %d: %s", e.Index, e.Message)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// IsNoMarker reports whether err is a ParseError of kind KindNoMarker.
func IsNoMarker(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.Kind == KindNoMarker
}

// IsMalformed reports whether err is a ParseError of kind KindMalformed.
func IsMalformed(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.Kind == KindMalformed
}

type updatesElement struct {
	XMLName  xml.Name
	Children []childElement `xml:",any"`
}

type childElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
}

func (c childElement) attr(name string) (string, bool) {
	for _, a := range c.Attrs {
		if a.Name.Space == "" && a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// Parse extracts update records from raw maintenance tool output.
//
// Output before and after the <updates>...</updates> block is ignored.
// Records are returned in document order. A present but empty block
// yields an empty, non-nil slice.
func Parse(raw []byte) ([]Record, error) {
	start := bytes.Index(raw, openTag)
	selfStart := bytes.Index(raw, selfClosingTag)

	if start < 0 && selfStart < 0 {
		return nil, &ParseError{Kind: KindNoMarker, Index: -1, Message: "no <updates> element in output"}
	}
	if selfStart >= 0 && (start < 0 || selfStart < start) {
		return []Record{}, nil
	}

	rel := bytes.Index(raw[start+len(openTag):], closeTag)
	if rel < 0 {
		return nil, &ParseError{Kind: KindMalformed, Index: -1, Message: "unterminated <updates> element"}
	}
	end := start + len(openTag) + rel + len(closeTag)

	var doc updatesElement
	if err := xml.Unmarshal(raw[start:end], &doc); err != nil {
		return nil, &ParseError{Kind: KindMalformed, Index: -1, Message: "invalid xml", Cause: err}
	}

	records := make([]Record, 0, len(doc.Children))
	for i, child := range doc.Children {
		rec, err := parseEntry(i, child)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseEntry(index int, child childElement) (Record, error) {
	malformed := func(field, msg string, cause error) error {
		return &ParseError{Kind: KindMalformed, Index: index, Field: field, Message: msg, Cause: cause}
	}

	if child.XMLName.Local != "update" {
		return Record{}, malformed("", fmt.Sprintf("unexpected element <%s>", child.XMLName.Local), nil)
	}

	name, ok := child.attr("name")
	if !ok {
		return Record{}, malformed("name", "missing attribute", nil)
	}
	if name == "" {
		return Record{}, malformed("name", "must not be empty", nil)
	}

	rawVersion, ok := child.attr("version")
	if !ok {
		return Record{}, malformed("version", "missing attribute", nil)
	}
	version, err := ParseVersion(rawVersion)
	if err != nil {
		return Record{}, malformed("version", "invalid value", err)
	}

	rawSize, ok := child.attr("size")
	if !ok {
		return Record{}, malformed("size", "missing attribute", nil)
	}
	size, err := strconv.ParseUint(rawSize, 10, 64)
	if err != nil {
		return Record{}, malformed("size", "invalid value", err)
	}

	return Record{Name: name, Version: version, Size: size}, nil
}
