// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

// Package insertid derives the deterministic insert ids used by the analytics
// sink to drop duplicate deliveries of the same event.
package insertid

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// MaxLength is the longest insert id the analytics sink accepts.
const MaxLength = 36

// Separator joins the hashed parts.
const Separator = "-"

// Generate returns prefix followed by the hex sha256 of parts joined with
// Separator, cut to MaxLength characters. Equal inputs always give equal ids;
// no parts hashes the empty string.
func Generate(prefix string, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, Separator)))
	id := prefix + hex.EncodeToString(sum[:])
	if len(id) > MaxLength {
		id = id[:MaxLength]
	}
	return id
}

// ForEvent is the id of one podping: the block number prefixed to the hash of
// (block id, reason, url).
func ForEvent(blockNum int64, id, reason, subKey string) string {
	return Generate(strconv.FormatInt(blockNum, 10), id, reason, subKey)
}
