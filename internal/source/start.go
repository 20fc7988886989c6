// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package source

import (
	"fmt"
	"time"
)

// DefaultLookback is used when no start option is set.
const DefaultLookback = 5 * time.Minute

// StartOptions select where the stream begins. The first non-zero field in
// declaration order wins.
type StartOptions struct {
	StartAtBlock    int64
	LookbackMonths  int
	LookbackHours   int
	LookbackMinutes int
}

// Start is a resolved starting point: a block number or a time, never both.
type Start struct {
	Block int64
	Time  time.Time
}

// IsBlock reports whether s starts at a block number.
func (s Start) IsBlock() bool {
	return s.Block > 0
}

func (s Start) String() string {
	if s.IsBlock() {
		return fmt.Sprintf("block %d", s.Block)
	}
	return s.Time.UTC().Format(time.RFC3339)
}

// Resolve turns the options into a Start relative to now.
func (o StartOptions) Resolve(now time.Time) Start {
	switch {
	case o.StartAtBlock > 0:
		return Start{Block: o.StartAtBlock}
	case o.LookbackMonths > 0:
		return Start{Time: now.AddDate(0, -o.LookbackMonths, 0)}
	case o.LookbackHours > 0:
		return Start{Time: now.Add(-time.Duration(o.LookbackHours) * time.Hour)}
	case o.LookbackMinutes > 0:
		return Start{Time: now.Add(-time.Duration(o.LookbackMinutes) * time.Minute)}
	default:
		return Start{Time: now.Add(-DefaultLookback)}
	}
}

// Admits reports whether a notification of blockNum at t is at or after s.
func (s Start) Admits(blockNum int64, t time.Time) bool {
	if s.IsBlock() {
		return blockNum >= s.Block
	}
	return !t.Before(s.Time)
}
