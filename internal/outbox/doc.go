// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

/*
Package outbox parks events the analytics API rejected and redelivers them
later. Entries live in BadgerDB so they survive restarts.

# Ordering

Entries are keyed by creation time, so Pending and Scan return them oldest
first. Every event carries its $insert_id, which lets the remote side drop any
copy that was in fact delivered before the failure was reported.

# Retries

Retrier is a supervised service. Each pass sends up to BatchSize ready
entries as one batch. An entry that failed waits RetryBackoff doubled per
attempt, capped at one hour; entries still waiting are skipped so newer
entries behind them are not held back. Entries older than EntryTTL or past
MaxAttempts are dropped.
*/
package outbox
