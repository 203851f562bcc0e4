package domain

import (
	"encoding/json"
	"testing"
)

func TestParseGlobalID(t *testing.T) {
	cases := []struct {
		raw  string
		want GlobalID
	}{
		{"IC12", GlobalID{Type: RecordContainer, ID: 12}},
		{"sa7", GlobalID{Type: RecordSample, ID: 7}},
		{"SS42", GlobalID{Type: RecordSubSample, ID: 42}},
		{"IT3", GlobalID{Type: RecordTemplate, ID: 3}},
		{"IT3v2", GlobalID{Type: RecordTemplate, ID: 3, Version: 2}},
	}
	for _, tc := range cases {
		got, err := ParseGlobalID(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("parse %q: expected %+v, got %+v", tc.raw, tc.want, got)
		}
	}
}

func TestParseGlobalIDRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "IC", "XX1", "IC0", "ICx", "SS4v2", "IT4v0", "IT4v"} {
		if _, err := ParseGlobalID(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestGlobalIDStringRoundTrip(t *testing.T) {
	ids := []GlobalID{
		NewGlobalID(RecordContainer, 1),
		NewGlobalID(RecordSubSample, 900),
		{Type: RecordTemplate, ID: 5, Version: 3},
	}
	for _, id := range ids {
		parsed, err := ParseGlobalID(id.String())
		if err != nil || parsed != id {
			t.Fatalf("round trip %s: got %+v %v", id, parsed, err)
		}
	}
	if got := (Template{Record: Record{ID: 5}, Version: 3}).VersionedID().String(); got != "IT5v3" {
		t.Fatalf("expected IT5v3, got %s", got)
	}
}

func TestGlobalIDJSON(t *testing.T) {
	payload := struct {
		ID GlobalID `json:"id"`
	}{ID: NewGlobalID(RecordSample, 9)}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"id":"SA9"}` {
		t.Fatalf("unexpected json %s", data)
	}
	var decoded struct {
		ID GlobalID `json:"id"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != payload.ID {
		t.Fatalf("expected %v, got %v", payload.ID, decoded.ID)
	}
}
