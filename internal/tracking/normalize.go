// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package tracking

import (
	"fmt"
	"math"
	"time"

	"github.com/tomtom215/hivewatcher/internal/logging"
)

// isoLayout matches the millisecond UTC form the analytics API expects.
const isoLayout = "2006-01-02T15:04:05.000Z"

// Normalize returns a wire-safe copy of props. Per key, first match wins:
//
//  1. zero values pass through unchanged
//  2. "time" holding a timestamp becomes whole epoch seconds (rounded)
//  3. any other timestamp becomes an ISO-8601 string; on failure it is
//     logged and left as is
//  4. "distinct_id" is coerced to a string
//  5. everything else passes through
//
// No other code in the module coerces property types.
func Normalize(props Properties) Properties {
	out := make(Properties, len(props))
	for key, v := range props {
		out[key] = normalizeValue(key, v)
	}
	return out
}

func normalizeValue(key string, v Value) Value {
	if v.IsZero() {
		return v
	}

	if t, ok := v.Time(); ok {
		if key == KeyTime {
			return Int(EpochSeconds(t))
		}
		s, err := formatISO(t)
		if err != nil {
			logging.Warn().Err(err).Str("key", key).Msg("Failed to convert date property")
			return v
		}
		return String(s)
	}

	if key == KeyDistinctID && v.Kind() != KindString {
		return String(v.Text())
	}
	return v
}

// EpochSeconds is t in seconds since the Unix epoch, rounded half up from
// millisecond precision.
func EpochSeconds(t time.Time) int64 {
	return int64(math.Round(float64(t.UnixMilli()) / 1000))
}

func formatISO(t time.Time) (string, error) {
	u := t.UTC()
	if y := u.Year(); y < 0 || y > 9999 {
		return "", fmt.Errorf("year %d outside ISO-8601 range", y)
	}
	return u.Format(isoLayout), nil
}
