// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package source

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/hivewatcher/internal/logging"
	"github.com/tomtom215/hivewatcher/internal/pipeline"
	"github.com/tomtom215/hivewatcher/internal/tracking"
	"github.com/tomtom215/hivewatcher/internal/validation"
)

// ErrInvalidNotification wraps every decode or validation failure.
var ErrInvalidNotification = errors.New("invalid podping notification")

// notification is the podping custom_json operation as relayed on the
// subject, one JSON object per message.
type notification struct {
	BlockNum    int64    `json:"block_num" validate:"gt=0"`
	BlockID     string   `json:"block_id" validate:"required"`
	BlockTime   string   `json:"blocktime" validate:"required"`
	PostingAuth string   `json:"posting_auth" validate:"required"`
	URLs        []string `json:"urls" validate:"dive,required"`
	Reason      string   `json:"reason"`
}

var knownFields = map[string]bool{
	"block_num":    true,
	"block_id":     true,
	"blocktime":    true,
	"posting_auth": true,
	"urls":         true,
	"reason":       true,
}

// Hive block times carry no zone and are UTC.
var blockTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseBlockTime(s string) (time.Time, error) {
	for _, layout := range blockTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized blocktime %q", s)
}

// Decode parses one message payload. Fields other than the podping fields
// become RawEvent.Extra; values outside the supported kinds are skipped.
func Decode(payload []byte) (pipeline.RawEvent, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return pipeline.RawEvent{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if err := validation.ValidateStruct(&n); err != nil {
		return pipeline.RawEvent{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	at, err := parseBlockTime(n.BlockTime)
	if err != nil {
		return pipeline.RawEvent{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return pipeline.RawEvent{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	extra := make(tracking.Properties, len(fields))
	for k, raw := range fields {
		if knownFields[k] {
			continue
		}
		var v tracking.Value
		if err := v.UnmarshalJSON(raw); err != nil {
			logging.Debug().Str("field", k).Err(err).Msg("Skipping unsupported notification field")
			continue
		}
		extra[k] = v
	}

	return pipeline.RawEvent{
		ID:        n.BlockID,
		BlockNum:  n.BlockNum,
		Time:      at,
		SubjectID: n.PostingAuth,
		SubKeys:   n.URLs,
		Reason:    n.Reason,
		Extra:     extra,
	}, nil
}
