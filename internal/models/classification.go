package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Severity levels produced by the upstream classifier.
const (
	SeverityNormal   = 0
	SeverityMild     = 1
	SeverityModerate = 2
	SeveritySevere   = 3
	SeverityCritical = 4

	MinSeverityLevel = SeverityNormal
	MaxSeverityLevel = SeverityCritical
)

// NoFindingDisease labels cases without a usable classification.
const NoFindingDisease = "No Finding"

// UnknownDisease labels a parsed entry that carries no disease name.
const UnknownDisease = "Unknown"

var severityNames = [...]string{
	SeverityNormal:   "Bình thường",
	SeverityMild:     "Nhẹ",
	SeverityModerate: "Trung bình",
	SeveritySevere:   "Nặng",
	SeverityCritical: "Rất nặng",
}

// SeverityName returns the display name for a level, falling back to the normal label.
func SeverityName(level int) string {
	if !ValidSeverity(level) {
		return severityNames[SeverityNormal]
	}
	return severityNames[level]
}

// ValidSeverity reports whether level lies in the supported range.
func ValidSeverity(level int) bool {
	return level >= MinSeverityLevel && level <= MaxSeverityLevel
}

// ClassificationEntry is one {disease, probability, severity} tuple from the classifier.
type ClassificationEntry struct {
	Disease       string  `json:"disease"`
	Probability   float64 `json:"probability"`
	SeverityLevel int     `json:"severity_level"`
	SeverityName  string  `json:"severity_name,omitempty"`
	// HasSeverity is false when severity_level was missing, not a number, or not a whole number.
	HasSeverity bool `json:"-"`
}

// entryWire keeps every field raw so a wrong-typed value only loses that value.
type entryWire struct {
	Disease       json.RawMessage `json:"disease"`
	Probability   json.RawMessage `json:"probability"`
	SeverityLevel json.RawMessage `json:"severity_level"`
	SeverityName  json.RawMessage `json:"severity_name"`
}

func decodeEntry(data json.RawMessage) (ClassificationEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ClassificationEntry{}, fmt.Errorf("classification entry is not an object: %.32s", trimmed)
	}
	var w entryWire
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return ClassificationEntry{}, fmt.Errorf("decode classification entry: %w", err)
	}

	e := ClassificationEntry{}
	e.Disease, _ = stringField(w.Disease)
	e.SeverityName, _ = stringField(w.SeverityName)
	if p, ok := numberField(w.Probability); ok {
		e.Probability = p
	}
	if level, ok := numberField(w.SeverityLevel); ok && level == math.Trunc(level) && math.Abs(level) <= math.MaxInt32 {
		e.SeverityLevel = int(level)
		e.HasSeverity = true
	}
	return e, nil
}

func stringField(raw json.RawMessage) (string, bool) {
	var v string
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return "", false
	}
	return v, true
}

func numberField(raw json.RawMessage) (float64, bool) {
	var v float64
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return 0, false
	}
	return v, true
}

// ClassificationForm records which representation a stored payload arrived in.
type ClassificationForm int

const (
	FormAbsent ClassificationForm = iota
	FormList
	FormObject
	FormEncodedString
)

func (f ClassificationForm) String() string {
	switch f {
	case FormList:
		return "list"
	case FormObject:
		return "object"
	case FormEncodedString:
		return "encoded_string"
	default:
		return "absent"
	}
}

// ErrEmptyClassification marks a payload that decoded to nothing.
var ErrEmptyClassification = errors.New("classification payload is empty")

// RawClassification holds a case's classifier output as stored. The payload may be a
// JSON array of entries, a single entry object, or a JSON string carrying either of
// those. It is resolved into Entries once, when read from storage or decoded.
type RawClassification struct {
	Form    ClassificationForm
	Entries []ClassificationEntry
	// Err is set when the payload was present but could not be decoded.
	Err error

	raw json.RawMessage
}

// NewClassification builds a list-form payload from structured entries, resolved
// exactly as if it had been read back from storage.
func NewClassification(entries ...ClassificationEntry) RawClassification {
	if entries == nil {
		entries = []ClassificationEntry{}
	}
	raw, _ := json.Marshal(entries)
	return ParseClassification(raw)
}

// ParseClassification resolves a stored payload. It never fails; decode problems are
// recorded on the returned value.
func ParseClassification(data []byte) RawClassification {
	rc := RawClassification{}
	rc.resolve(data)
	return rc
}

// Usable reports whether the payload yielded at least one entry.
func (rc RawClassification) Usable() bool {
	return rc.Err == nil && len(rc.Entries) > 0
}

// Primary returns the first entry, which the classifier orders as the most severe.
func (rc RawClassification) Primary() (ClassificationEntry, bool) {
	if !rc.Usable() {
		return ClassificationEntry{}, false
	}
	return rc.Entries[0], true
}

// Bytes returns the payload exactly as stored.
func (rc RawClassification) Bytes() []byte {
	return rc.raw
}

func (rc *RawClassification) resolve(data []byte) {
	trimmed := bytes.TrimSpace(data)
	rc.raw = append(rc.raw[:0], trimmed...)
	rc.Entries = nil
	rc.Err = nil

	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		rc.Form = FormAbsent
		return
	}

	if trimmed[0] == '"' {
		rc.Form = FormEncodedString
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			rc.Err = fmt.Errorf("decode encoded classification: %w", err)
			return
		}
		inner = string(bytes.TrimSpace([]byte(inner)))
		if inner == "" {
			rc.Err = ErrEmptyClassification
			return
		}
		rc.Entries, rc.Err = decodeEntries([]byte(inner))
		return
	}

	switch trimmed[0] {
	case '[':
		rc.Form = FormList
	case '{':
		rc.Form = FormObject
	default:
		rc.Form = FormList
	}
	rc.Entries, rc.Err = decodeEntries(trimmed)
}

// decodeEntries resolves a list or single-object payload. Only the first list element
// can fail the payload; later elements that are not objects are dropped.
func decodeEntries(data []byte) ([]ClassificationEntry, error) {
	switch data[0] {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(data, &elems); err != nil {
			return nil, fmt.Errorf("decode classification list: %w", err)
		}
		if len(elems) == 0 {
			return nil, ErrEmptyClassification
		}
		entries := make([]ClassificationEntry, 0, len(elems))
		for i, elem := range elems {
			entry, err := decodeEntry(elem)
			if err != nil {
				if i == 0 {
					return nil, err
				}
				continue
			}
			entries = append(entries, entry)
		}
		return entries, nil
	case '{':
		entry, err := decodeEntry(data)
		if err != nil {
			return nil, err
		}
		return []ClassificationEntry{entry}, nil
	default:
		return nil, fmt.Errorf("unsupported classification payload starting with %q", data[0])
	}
}

// UnmarshalJSON accepts every supported representation.
func (rc *RawClassification) UnmarshalJSON(data []byte) error {
	rc.resolve(data)
	return nil
}

// MarshalJSON emits the decoded entries as a list.
func (rc RawClassification) MarshalJSON() ([]byte, error) {
	if rc.Entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(rc.Entries)
}

// Scan implements sql.Scanner for JSONB and TEXT columns.
func (rc *RawClassification) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		rc.resolve(nil)
	case []byte:
		rc.resolve(v)
	case string:
		rc.resolve([]byte(v))
	default:
		return fmt.Errorf("unsupported classification column type %T", src)
	}
	return nil
}

// Value implements driver.Valuer, storing the payload in its original form.
func (rc RawClassification) Value() (driver.Value, error) {
	if len(rc.raw) == 0 {
		if rc.Entries == nil {
			return nil, nil
		}
		encoded, err := json.Marshal(rc.Entries)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	}
	if !json.Valid(rc.raw) {
		// Unparsable text is kept as a JSON string so the JSONB column accepts it.
		encoded, err := json.Marshal(string(rc.raw))
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	}
	return string(rc.raw), nil
}
