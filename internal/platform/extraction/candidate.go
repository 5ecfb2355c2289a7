package extraction

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// RawCandidate is one patient as returned by the recognition service,
// before any mapping or curation.
type RawCandidate struct {
	Name           string      `json:"name"`
	Age            FlexString  `json:"age,omitempty"`
	Diagnosis      string      `json:"diagnosis,omitempty"`
	DiagnosisCode  string      `json:"diagnosisCode,omitempty"`
	Bed            string      `json:"bed,omitempty"`
	Insurance      string      `json:"insurance,omitempty"`
	Priority       string      `json:"priority,omitempty"`
	Situation      string      `json:"situation,omitempty"`
	Background     string      `json:"background,omitempty"`
	Assessment     string      `json:"assessment,omitempty"`
	Recommendation string      `json:"recommendation,omitempty"`
	Confidence     *FlexNumber `json:"confidence,omitempty"`
}

// Result is the recognition service response.
type Result struct {
	Patients []RawCandidate `json:"patients"`
}

// FlexString accepts a JSON string or number ("age": 72 and "age": "72"
// are both common in recognition output).
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(strings.TrimSpace(v))
		return nil
	}
	*s = FlexString(string(b))
	return nil
}

// FlexNumber accepts a JSON number or a numeric string such as "85" or "85%".
// Unparseable values decode as absent.
type FlexNumber struct {
	Value float64
	Valid bool
}

func (n *FlexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*n = FlexNumber{}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "%")
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil
	}
	*n = FlexNumber{Value: v, Valid: true}
	return nil
}

func (n FlexNumber) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}
