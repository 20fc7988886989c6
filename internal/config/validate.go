// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package config

import (
	"fmt"

	"github.com/tomtom215/hivewatcher/internal/validation"
)

// Validate checks tag rules first, then the cross-field rules.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	return c.validateOutbox()
}

func (c *Config) validateStorage() error {
	if c.Storage.EvictInterval <= 0 {
		return fmt.Errorf("EVICT_INTERVAL must be positive, got %s", c.Storage.EvictInterval)
	}
	if c.Storage.IdleThreshold <= 0 {
		return fmt.Errorf("IDLE_THRESHOLD must be positive, got %s", c.Storage.IdleThreshold)
	}
	return nil
}

func (c *Config) validateNATS() error {
	if c.NATS.EmbeddedServer && c.NATS.StoreDir == "" {
		return fmt.Errorf("NATS_STORE_DIR is required when NATS_EMBEDDED=true")
	}
	return nil
}

func (c *Config) validateOutbox() error {
	if !c.Outbox.Enabled {
		return nil
	}
	if c.Outbox.Path == "" {
		return fmt.Errorf("OUTBOX_PATH is required when OUTBOX_ENABLED=true")
	}
	if c.Outbox.RetryInterval <= 0 {
		return fmt.Errorf("OUTBOX_RETRY_INTERVAL must be positive, got %s", c.Outbox.RetryInterval)
	}
	return nil
}
