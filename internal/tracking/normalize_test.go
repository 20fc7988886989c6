// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package tracking

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestNormalize(t *testing.T) {
	blockTime := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

	tests := []struct {
		name string
		key  string
		in   Value
		want Value
	}{
		{"time becomes rounded epoch seconds", KeyTime, Time(blockTime), Int(1773480414)},
		{"time rounds down below half", KeyTime, Time(blockTime.Add(-100 * time.Millisecond)), Int(1773480413)},
		{"numeric time passes through", KeyTime, Int(1773480413), Int(1773480413)},
		{"other date becomes iso string", "created", Time(blockTime), String("2026-03-14T09:26:53.589Z")},
		{"non-utc date is converted to utc", "created", Time(blockTime.In(time.FixedZone("X", -5*3600))), String("2026-03-14T09:26:53.589Z")},
		{"numeric distinct id is coerced", KeyDistinctID, Int(42), String("42")},
		{"list distinct id is joined", KeyDistinctID, Strings("a", "b"), String("a,b")},
		{"string distinct id unchanged", KeyDistinctID, String("podping.aaa"), String("podping.aaa")},
		{"empty string unchanged", "reason", String(""), String("")},
		{"zero number unchanged", KeyDistinctID, Int(0), Int(0)},
		{"zero time unchanged", KeyTime, Time(time.Time{}), Time(time.Time{})},
		{"null unchanged", "medium", Null(), Null()},
		{"other values unchanged", "urls", Strings("https://a.example/rss"), Strings("https://a.example/rss")},
		{"unrepresentable date left as is", "created", Time(time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)), Time(time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(Properties{tt.key: tt.in})[tt.key]
			if !got.Equal(tt.want) {
				t.Errorf("Normalize(%s=%v) = %v (%s), want %v (%s)",
					tt.key, tt.in.Interface(), got.Interface(), got.Kind(), tt.want.Interface(), tt.want.Kind())
			}
		})
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	in := Properties{KeyTime: Time(time.Unix(1700000000, 0)), KeyDistinctID: Int(7)}
	_ = Normalize(in)

	if in[KeyTime].Kind() != KindTime {
		t.Error("input time was mutated")
	}
	if in[KeyDistinctID].Kind() != KindNumber {
		t.Error("input distinct_id was mutated")
	}
}

func TestNormalize_ISORoundTrip(t *testing.T) {
	created := time.Date(2026, 2, 1, 23, 59, 58, 123_456_789, time.UTC)
	line, err := json.Marshal(Normalize(Properties{"created": Time(created)}))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, decoded["created"])
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", decoded["created"], err)
	}
	if !parsed.Truncate(time.Second).Equal(created.Truncate(time.Second)) {
		t.Errorf("round trip = %v, want %v to the second", parsed, created)
	}
	if decoded["created"] != "2026-02-01T23:59:58.123Z" {
		t.Errorf("created = %q", decoded["created"])
	}
}

func TestEpochSeconds(t *testing.T) {
	if got := EpochSeconds(time.UnixMilli(1_500)); got != 2 {
		t.Errorf("EpochSeconds(1.5s) = %d, want 2", got)
	}
	if got := EpochSeconds(time.UnixMilli(1_499)); got != 1 {
		t.Errorf("EpochSeconds(1.499s) = %d, want 1", got)
	}
}

func TestValue_JSON(t *testing.T) {
	raw := `{"s":"x","n":71234567,"b":true,"z":null,"ss":["a","b"],"ns":[1,2.5],"e":[]}`
	var props Properties
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	want := Properties{
		"s":  String("x"),
		"n":  Int(71234567),
		"b":  Bool(true),
		"z":  Null(),
		"ss": Strings("a", "b"),
		"ns": Numbers(1, 2.5),
		"e":  Strings(),
	}
	for k, v := range want {
		if !props[k].Equal(v) {
			t.Errorf("%s = %v (%s), want %v (%s)", k, props[k].Interface(), props[k].Kind(), v.Interface(), v.Kind())
		}
	}

	out, err := json.Marshal(Properties{"n": Int(71234567), "e": Strings()})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"e":[],"n":71234567}` {
		t.Errorf("Marshal() = %s", out)
	}
}

func TestValue_UnsupportedShapes(t *testing.T) {
	for _, raw := range []string{`{"a":1}`, `["a",1]`, `[{"a":1}]`, `[true]`} {
		var v Value
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			t.Errorf("Unmarshal(%s) succeeded, want error", raw)
		}
	}
}
