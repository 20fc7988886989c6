// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package pipeline

import (
	"time"

	"github.com/tomtom215/hivewatcher/internal/insertid"
	"github.com/tomtom215/hivewatcher/internal/tracking"
)

// Event names sent to the analytics API.
const (
	EventBlock = "Hive Block"
	EventURL   = "Hive URL"
)

// Property keys of the podping fields.
const (
	PropBlockID     = "block_id"
	PropBlockNum    = "block_num"
	PropPostingAuth = "posting_auth"
	PropReason      = "reason"
	PropURL         = "url"
	PropURLs        = "urls"
)

// RawEvent is one podping notification as received. It is not modified
// after the producer emits it.
type RawEvent struct {
	ID        string
	BlockNum  int64
	Time      time.Time
	SubjectID string
	SubKeys   []string
	Reason    string

	// Extra holds the remaining notification fields (medium, version, ...).
	Extra tracking.Properties
}

// DerivedEvent is a RawEvent narrowed to one of its URLs.
type DerivedEvent struct {
	ID        string
	BlockNum  int64
	Time      time.Time
	SubjectID string
	SubKey    string
	Reason    string
	Extra     tracking.Properties
}

// FanOut returns one DerivedEvent per sub key in order. A raw event without
// sub keys yields a single event with an empty SubKey.
func FanOut(raw RawEvent) []DerivedEvent {
	keys := raw.SubKeys
	if len(keys) == 0 {
		keys = []string{""}
	}
	out := make([]DerivedEvent, len(keys))
	for i, k := range keys {
		out[i] = DerivedEvent{
			ID:        raw.ID,
			BlockNum:  raw.BlockNum,
			Time:      raw.Time,
			SubjectID: raw.SubjectID,
			SubKey:    k,
			Reason:    raw.Reason,
			Extra:     raw.Extra,
		}
	}
	return out
}

// InsertID keys the block event on its first URL.
func (r RawEvent) InsertID() string {
	first := ""
	if len(r.SubKeys) > 0 {
		first = r.SubKeys[0]
	}
	return insertid.ForEvent(r.BlockNum, r.ID, r.Reason, first)
}

// Properties is the block event payload: the notification with all URLs.
func (r RawEvent) Properties() tracking.Properties {
	return payload(r.Extra, r.InsertID(), r.Time, r.SubjectID, tracking.Properties{
		PropBlockID:     tracking.String(r.ID),
		PropBlockNum:    tracking.Int(r.BlockNum),
		PropPostingAuth: tracking.String(r.SubjectID),
		PropReason:      tracking.String(r.Reason),
		PropURLs:        tracking.Strings(r.SubKeys...),
	})
}

// InsertID is the deterministic dedup id of d.
func (d DerivedEvent) InsertID() string {
	return insertid.ForEvent(d.BlockNum, d.ID, d.Reason, d.SubKey)
}

// Properties is the payload persisted to disk and sent as EventURL.
func (d DerivedEvent) Properties() tracking.Properties {
	return payload(d.Extra, d.InsertID(), d.Time, d.SubjectID, tracking.Properties{
		PropBlockID:     tracking.String(d.ID),
		PropBlockNum:    tracking.Int(d.BlockNum),
		PropPostingAuth: tracking.String(d.SubjectID),
		PropReason:      tracking.String(d.Reason),
		PropURL:         tracking.String(d.SubKey),
	})
}

// payload layers extra fields, then the podping fields, then the reserved
// keys time, distinct_id and $insert_id.
func payload(extra tracking.Properties, insertID string, at time.Time, subject string, fields tracking.Properties) tracking.Properties {
	return extra.Merge(fields, tracking.Properties{
		tracking.KeyTime:       tracking.Time(at),
		tracking.KeyDistinctID: tracking.String(subject),
		tracking.KeyInsertID:   tracking.String(insertID),
	})
}
