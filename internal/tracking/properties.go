// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package tracking

import (
	"sort"

	"github.com/rs/zerolog"
)

// Reserved property keys.
const (
	KeyTime       = "time"
	KeyDistinctID = "distinct_id"
	KeyInsertID   = "$insert_id"
	KeyToken      = "token"
)

// Properties is a loosely typed property bag with a closed set of value kinds.
type Properties map[string]Value

// Clone returns a shallow copy. Values are immutable so this is a full copy
// for practical purposes.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a new bag holding p overlaid by each of over in order.
// Later keys win.
func (p Properties) Merge(over ...Properties) Properties {
	n := len(p)
	for _, o := range over {
		n += len(o)
	}
	out := make(Properties, n)
	for k, v := range p {
		out[k] = v
	}
	for _, o := range over {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

// Without returns a copy of p with keys removed.
func (p Properties) Without(keys ...string) Properties {
	out := p.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Has reports whether key is present, even with a zero value.
func (p Properties) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Keys returns the keys sorted.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalZerologObject lets a bag be logged with zerolog's Object.
func (p Properties) MarshalZerologObject(e *zerolog.Event) {
	for _, k := range p.Keys() {
		e.Interface(k, p[k].Interface())
	}
}

// Event is a named property bag bound for the remote sink.
type Event struct {
	Name       string     `json:"event"`
	Properties Properties `json:"properties"`
}
