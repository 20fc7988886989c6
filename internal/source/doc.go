// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

/*
Package source produces podping notifications for the pipeline from a
watermill subscriber. In production the subscriber is NATS JetStream; tests
use the in-process gochannel pub/sub.

# Start Position

StartOptions pick where consumption begins: an explicit block number, or a
lookback of months, hours or minutes (default 5 minutes). The options are
resolved once at boot, and the same Start is handed to the JetStream
subscriber as its deliver policy and to the Source as its admission filter:

	start := opts.Resolve(time.Now())
	sub, _ := source.NewNATSSubscriber(subCfg, start, logger)
	src := source.New(sub, source.Config{Topic: topic, Start: start})

When the supervisor restarts the pipeline, the subscriber replays from that
position and the Source admits the replay. Duplicates are absorbed by the
pipeline's dedup window and by $insert_id on the analytics side.

# Messages

Each message holds one notification as JSON. Malformed messages and
notifications before the start are acked and dropped. A decoded notification
is acked once the pipeline has taken it off the channel.
*/
package source
