// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

/*
Package streampool keeps one append-only NDJSON file open per partition key
(a UTC calendar day) and closes files that have gone idle.

# Pinning

A handle is pinned between Acquire and Release. Idle eviction never closes a
pinned handle, and a forced eviction (threshold <= 0) waits for pinned handles
to be released before closing them.

# Draining

While a key is being drained, Acquire for that key blocks until the old file
is closed, so at most one handle per key exists at any time. Close drains
every key and rejects later Acquire calls with ErrPoolClosed.
*/
package streampool
