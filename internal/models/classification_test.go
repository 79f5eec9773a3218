package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassificationForms(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		form    ClassificationForm
		entries int
		usable  bool
	}{
		{name: "list", payload: `[{"disease":"Mass","probability":0.9,"severity_level":4}]`, form: FormList, entries: 1, usable: true},
		{name: "object", payload: `{"disease":"Mass","probability":0.9,"severity_level":4}`, form: FormObject, entries: 1, usable: true},
		{name: "encoded list", payload: `"[{\"disease\":\"Mass\",\"severity_level\":4}]"`, form: FormEncodedString, entries: 1, usable: true},
		{name: "encoded object", payload: `"{\"disease\":\"Mass\",\"severity_level\":4}"`, form: FormEncodedString, entries: 1, usable: true},
		{name: "absent", payload: ``, form: FormAbsent},
		{name: "null", payload: ` null `, form: FormAbsent},
		{name: "empty list", payload: `[]`, form: FormList},
		{name: "truncated", payload: `[{"disease":`, form: FormList},
		{name: "encoded garbage", payload: `"oops"`, form: FormEncodedString},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rc := ParseClassification([]byte(tc.payload))
			assert.Equal(t, tc.form, rc.Form)
			assert.Equal(t, tc.usable, rc.Usable())
			if tc.usable {
				assert.Len(t, rc.Entries, tc.entries)
				assert.NoError(t, rc.Err)
			}
		})
	}
}

func TestClassificationEntrySeverityPresence(t *testing.T) {
	rc := ParseClassification([]byte(`[{"disease":"A","severity_level":2},{"disease":"B"},{"disease":"C","severity_level":1.5}]`))
	require.Len(t, rc.Entries, 3)
	assert.True(t, rc.Entries[0].HasSeverity)
	assert.False(t, rc.Entries[1].HasSeverity)
	assert.False(t, rc.Entries[2].HasSeverity)
}

func TestParseClassificationKeepsFirstEntryWhenLaterEntryIsMalformed(t *testing.T) {
	rc := ParseClassification([]byte(`[{"disease":"Mass","probability":0.91,"severity_level":4},{"disease":"Nodule","probability":"n/a","severity_level":1}]`))
	require.NoError(t, rc.Err)
	require.True(t, rc.Usable())
	require.Len(t, rc.Entries, 2)

	primary, ok := rc.Primary()
	require.True(t, ok)
	assert.Equal(t, "Mass", primary.Disease)
	assert.Equal(t, 4, primary.SeverityLevel)
	assert.InDelta(t, 0.91, primary.Probability, 1e-9)

	assert.Equal(t, "Nodule", rc.Entries[1].Disease)
	assert.Zero(t, rc.Entries[1].Probability)
	assert.True(t, rc.Entries[1].HasSeverity)
}

func TestParseClassificationWrongTypedFieldsAreMissing(t *testing.T) {
	rc := ParseClassification([]byte(`[{"disease":"Mass","probability":"high","severity_level":"3","severity_name":7}]`))
	require.True(t, rc.Usable())

	entry := rc.Entries[0]
	assert.Equal(t, "Mass", entry.Disease)
	assert.Zero(t, entry.Probability)
	assert.False(t, entry.HasSeverity)
	assert.Zero(t, entry.SeverityLevel)
	assert.Empty(t, entry.SeverityName)

	rc = ParseClassification([]byte(`{"disease":42,"probability":0.3,"severity_level":2}`))
	require.True(t, rc.Usable())
	assert.Empty(t, rc.Entries[0].Disease)
	assert.Equal(t, 2, rc.Entries[0].SeverityLevel)
}

func TestParseClassificationSkipsNonObjectTrailingEntries(t *testing.T) {
	rc := ParseClassification([]byte(`[{"disease":"Edema","severity_level":2},"junk",null,{"disease":"Nodule","severity_level":1}]`))
	require.True(t, rc.Usable())
	require.Len(t, rc.Entries, 2)
	assert.Equal(t, "Nodule", rc.Entries[1].Disease)

	for _, payload := range []string{`["junk",{"disease":"Mass","severity_level":4}]`, `[null]`, `[3]`} {
		rc := ParseClassification([]byte(payload))
		assert.False(t, rc.Usable(), payload)
		assert.Error(t, rc.Err, payload)
	}
}

func TestNewClassificationResolvesEntries(t *testing.T) {
	rc := NewClassification(ClassificationEntry{Disease: "Edema", Probability: 0.4, SeverityLevel: 2})

	primary, ok := rc.Primary()
	require.True(t, ok)
	assert.Equal(t, "Edema", primary.Disease)
	assert.True(t, primary.HasSeverity)
	assert.Equal(t, FormList, rc.Form)
}

func TestRawClassificationScanAndValue(t *testing.T) {
	var rc RawClassification
	require.NoError(t, rc.Scan([]byte(`"[{\"disease\":\"Mass\",\"severity_level\":4}]"`)))
	assert.Equal(t, FormEncodedString, rc.Form)

	value, err := rc.Value()
	require.NoError(t, err)
	assert.Equal(t, `"[{\"disease\":\"Mass\",\"severity_level\":4}]"`, value)

	require.NoError(t, rc.Scan(nil))
	assert.Equal(t, FormAbsent, rc.Form)
	value, err = rc.Value()
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, rc.Scan("not json"))
	value, err = rc.Value()
	require.NoError(t, err)
	assert.Equal(t, `"not json"`, value)

	assert.Error(t, rc.Scan(42))
}

func TestRawClassificationJSON(t *testing.T) {
	var record CaseRecord
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","classification":"[{\"disease\":\"Mass\",\"severity_level\":4}]"}`), &record))
	assert.Equal(t, FormEncodedString, record.Classification.Form)

	encoded, err := json.Marshal(record.Classification)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"disease":"Mass","probability":0,"severity_level":4}]`, string(encoded))

	empty, err := json.Marshal(RawClassification{})
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(empty))
}

func TestSeverityName(t *testing.T) {
	assert.Equal(t, "Bình thường", SeverityName(0))
	assert.Equal(t, "Rất nặng", SeverityName(4))
	assert.Equal(t, "Bình thường", SeverityName(9))
}

func TestCaseRecordCreatedInstantFallsBackToID(t *testing.T) {
	at := time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)
	record := CaseRecord{ID: NewCaseID(at)}

	assert.Equal(t, at, record.CreatedInstant())
	assert.True(t, ValidCaseID(record.ID))
	assert.False(t, ValidCaseID("nope"))
	assert.True(t, CaseRecord{ID: "nope"}.CreatedInstant().IsZero())
}
