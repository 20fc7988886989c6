// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

/*
Package main is the entry point for the hive-watcher server.

hive-watcher consumes podping notifications relayed from the Hive
blockchain over NATS JetStream, appends one line per feed URL to a daily
NDJSON file, and forwards a block event plus one event per feed URL to the
analytics API.

# Application Architecture

	RootSupervisor ("hivewatcher")
	├── StorageSupervisor ("storage-layer")
	│   └── Outbox retrier (optional, OUTBOX_ENABLED)
	├── IngestSupervisor ("ingest-layer")
	│   └── Pipeline fed by the JetStream source
	└── APISupervisor ("api-layer")
	    └── HTTP server: /healthz, /metrics (optional, HTTP_ENABLED)

Component initialization order:

 1. Configuration: Koanf v2 with environment variables and config files
 2. Logging: zerolog with JSON/console output modes
 3. Analytics sink: Mixpanel client with rate limiting and circuit breaker
 4. Stream pool: one append-only file per UTC day under DATA_FOLDER
 5. Outbox: BadgerDB store for events the sink rejected
 6. Source: embedded or external NATS JetStream subscriber
 7. Supervisor Tree: Suture v4 process supervision

# Configuration

	MP_TOKEN=<token>             # analytics project token; empty disables delivery
	MP_SECRET=<secret>           # enables the import lane for old events
	DATA_FOLDER=data             # where the daily files are written
	BLOCKNUM=0                   # start at this block, or
	MONTHS=0 HOURS=0 MINUTES=0   # look back this far (default 5 minutes)
	NATS_URL=nats://127.0.0.1:4222
	NATS_EMBEDDED=false
	LOG_LEVEL=info
	LOG_FORMAT=json

# Signal Handling

On SIGINT or SIGTERM the supervisor stops the pipeline, which stops intake,
waits for deliveries in flight, and closes every open file before the
process exits.
*/
package main
