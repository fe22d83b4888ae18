package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Filter narrows which instances of one model trigger delivery.
//
// Stored as JSON, e.g. {"shop.Order": {"ids": [1, 2], "bucket": "b1"}}.
// Identifiers and bucket values may be JSON strings or numbers; both are
// normalized to their string form.
type Filter struct {
	IDs       IDList `json:"ids,omitempty"`
	Bucket    Scalar `json:"bucket,omitempty"`
	Condition string `json:"condition,omitempty"`
}

// Empty reports whether no clause is set.
func (f Filter) Empty() bool {
	return len(f.IDs) == 0 && !f.Bucket.Set() && f.Condition == ""
}

func (f Filter) Clone() Filter {
	out := f
	if f.IDs != nil {
		out.IDs = append(IDList(nil), f.IDs...)
	}
	return out
}

// IDList is a list of subject identifiers.
type IDList []string

func (l IDList) Contains(id string) bool {
	for _, have := range l {
		if have == id {
			return true
		}
	}
	return false
}

func (l *IDList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding ids: %w", err)
	}
	out := make(IDList, 0, len(raw))
	for _, item := range raw {
		var s Scalar
		if err := s.UnmarshalJSON(item); err != nil {
			return fmt.Errorf("decoding ids: %w", err)
		}
		out = append(out, string(s))
	}
	*l = out
	return nil
}

// Scalar is a JSON string, number or bool kept in string form.
type Scalar string

// Set reports whether the scalar constrains anything. Empty, false and
// numeric zero do not.
func (s Scalar) Set() bool {
	if s == "" || s == "false" {
		return false
	}
	if f, err := strconv.ParseFloat(string(s), 64); err == nil && f == 0 {
		return false
	}
	return true
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Scalar(str)
		return nil
	}
	if bytes.Equal(data, []byte("true")) || bytes.Equal(data, []byte("false")) {
		*s = Scalar(data)
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("unsupported scalar %s", data)
	}
	*s = Scalar(data)
	return nil
}
