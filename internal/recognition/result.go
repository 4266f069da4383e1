// Package recognition defines the structured text-recognition result
// produced by the OCR engine and stored on each image record.
package recognition

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// CodeSuccess is the engine status code for a successful recognition.
const CodeSuccess = 100

// Kind discriminates the two payload shapes the engine emits.
type Kind uint8

const (
	// KindText is a plain message, typically a diagnostic or "no text found"
	KindText Kind = iota + 1
	// KindBoxes is an ordered list of recognized text boxes
	KindBoxes
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBoxes:
		return "boxes"
	default:
		return "invalid"
	}
}

// Point is an (x, y) pixel coordinate.
type Point [2]uint32

// Box is one recognized text fragment with its corner points.
type Box struct {
	Box   [4]Point `json:"box"`
	Score float64  `json:"score"`
	Text  string   `json:"text"`
}

// Data is either a plain string or a list of boxes. The zero value is
// invalid and fails to marshal.
type Data struct {
	kind  Kind
	text  string
	boxes []Box
}

// TextData wraps a plain message.
func TextData(s string) Data {
	return Data{kind: KindText, text: s}
}

// BoxData wraps recognized boxes. A nil slice is stored as empty.
func BoxData(boxes []Box) Data {
	if boxes == nil {
		boxes = []Box{}
	}
	return Data{kind: KindBoxes, boxes: boxes}
}

// Kind reports which variant d holds.
func (d Data) Kind() Kind { return d.kind }

// Text returns the message for KindText.
func (d Data) Text() (string, bool) {
	return d.text, d.kind == KindText
}

// Boxes returns the boxes for KindBoxes.
func (d Data) Boxes() ([]Box, bool) {
	return d.boxes, d.kind == KindBoxes
}

// Fragments returns every recognized string in order. A text payload is a
// single fragment.
func (d Data) Fragments() []string {
	switch d.kind {
	case KindText:
		return []string{d.text}
	case KindBoxes:
		out := make([]string, len(d.boxes))
		for i := range d.boxes {
			out[i] = d.boxes[i].Text
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes the variant as a bare string or array.
func (d Data) MarshalJSON() ([]byte, error) {
	switch d.kind {
	case KindText:
		return json.Marshal(d.text)
	case KindBoxes:
		return json.Marshal(d.boxes)
	default:
		return nil, fmt.Errorf("recognition: cannot marshal data of kind %s", d.kind)
	}
}

// UnmarshalJSON selects the variant from the first JSON token.
func (d *Data) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimLeft(b, " \t\r\n")
	if len(trimmed) == 0 {
		return fmt.Errorf("recognition: empty data")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*d = TextData(s)
	case '[':
		var boxes []Box
		if err := json.Unmarshal(trimmed, &boxes); err != nil {
			return err
		}
		*d = BoxData(boxes)
	default:
		return fmt.Errorf("recognition: data must be a string or an array, got %q", trimmed[0])
	}
	return nil
}

// Result is one engine response.
type Result struct {
	Code int  `json:"code"`
	Data Data `json:"data"`
}

// Success reports whether the engine recognized the image.
func (r Result) Success() bool {
	return r.Code == CodeSuccess
}

// Contains reports whether a successful result has a fragment containing
// term. Matching is case-sensitive.
func (r Result) Contains(term string) bool {
	if !r.Success() {
		return false
	}
	for _, f := range r.Data.Fragments() {
		if strings.Contains(f, term) {
			return true
		}
	}
	return false
}

// Parse decodes one line of engine output. Both "code" and "data" must be
// present.
func Parse(line []byte) (Result, error) {
	var raw struct {
		Code *int            `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return Result{}, err
	}
	if raw.Code == nil || len(raw.Data) == 0 {
		return Result{}, fmt.Errorf("recognition: missing code or data")
	}
	var data Data
	if err := data.UnmarshalJSON(raw.Data); err != nil {
		return Result{}, err
	}
	return Result{Code: *raw.Code, Data: data}, nil
}

// Value stores the result as JSON text.
func (r Result) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads a result stored by Value.
func (r *Result) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*r = Result{}
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("recognition: cannot scan %T", src)
	}
	parsed, err := Parse(b)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
