// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package insertid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func TestGenerate_Deterministic(t *testing.T) {
	a := ForEvent(71234567, "0443ff1c", "update", "https://example.com/feed.xml")
	b := ForEvent(71234567, "0443ff1c", "update", "https://example.com/feed.xml")
	if a != b {
		t.Errorf("ForEvent not deterministic: %q != %q", a, b)
	}
	if len(a) != MaxLength {
		t.Errorf("len = %d, want %d", len(a), MaxLength)
	}
	if !strings.HasPrefix(a, "71234567") {
		t.Errorf("id %q does not start with block number", a)
	}
}

func TestGenerate_MatchesHash(t *testing.T) {
	sum := sha256.Sum256([]byte("blk-live-https://a.example/rss"))
	want := ("42" + hex.EncodeToString(sum[:]))[:MaxLength]

	if got := Generate("42", "blk", "live", "https://a.example/rss"); got != want {
		t.Errorf("Generate = %q, want %q", got, want)
	}
}

func TestGenerate_DistinctInputs(t *testing.T) {
	base := ForEvent(1, "blk", "update", "https://a.example/rss")
	variants := map[string]string{
		"id":     ForEvent(1, "blk2", "update", "https://a.example/rss"),
		"reason": ForEvent(1, "blk", "live", "https://a.example/rss"),
		"subKey": ForEvent(1, "blk", "update", "https://b.example/rss"),
	}
	for name, id := range variants {
		if id == base {
			t.Errorf("changing %s did not change the id", name)
		}
	}
}

func TestGenerate_Empty(t *testing.T) {
	sum := sha256.Sum256(nil)
	want := hex.EncodeToString(sum[:])[:MaxLength]
	if got := Generate(""); got != want {
		t.Errorf("Generate() = %q, want %q", got, want)
	}
}

func TestGenerate_LongPrefix(t *testing.T) {
	prefix := strings.Repeat("9", 40)
	if got := Generate(prefix, "x"); got != prefix[:MaxLength] {
		t.Errorf("Generate = %q, want prefix cut to %d", got, MaxLength)
	}
}
