// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package validation

import (
	"errors"
	"strings"
	"testing"
)

type sample struct {
	BlockID  string   `json:"block_id" validate:"required"`
	BlockNum int64    `json:"block_num" validate:"gt=0"`
	Reason   string   `json:"reason" validate:"omitempty,oneof=update live liveEnd"`
	Urls     []string `json:"urls" validate:"dive,required"`
	Server   string   `koanf:"server" validate:"omitempty,nats_url"`
}

func TestValidateStruct_Valid(t *testing.T) {
	s := sample{BlockID: "abc", BlockNum: 1, Reason: "update", Urls: []string{"https://a.example/rss"}, Server: "nats://127.0.0.1:4222, tls://b:4222"}
	if err := ValidateStruct(&s); err != nil {
		t.Errorf("ValidateStruct() error = %v", err)
	}
}

func TestValidateStruct_Errors(t *testing.T) {
	tests := []struct {
		name    string
		in      sample
		tag     string
		message string
	}{
		{"missing block id", sample{BlockNum: 1}, "required", "sample.block_id is required"},
		{"zero block num", sample{BlockID: "x"}, "gt", "sample.block_num must be greater than 0"},
		{"bad reason", sample{BlockID: "x", BlockNum: 1, Reason: "nope"}, "oneof", "sample.reason must be one of: update live liveEnd"},
		{"empty url", sample{BlockID: "x", BlockNum: 1, Urls: []string{""}}, "required", "sample.urls[0] is required"},
		{"bad nats url", sample{BlockID: "x", BlockNum: 1, Server: "http://x"}, "nats_url", "sample.server must be a nats://, tls://, ws:// or wss:// URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.in)
			var verr *Error
			if !errors.As(err, &verr) {
				t.Fatalf("ValidateStruct() error = %v, want *Error", err)
			}
			if len(verr.Fields) != 1 {
				t.Fatalf("Fields = %v, want 1", verr.Fields)
			}
			if verr.Fields[0].Tag != tt.tag {
				t.Errorf("Tag = %q, want %q", verr.Fields[0].Tag, tt.tag)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.message)
			}
		})
	}
}

func TestGetValidator_Singleton(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("expected the same validator instance")
	}
}
