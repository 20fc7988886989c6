// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package streampool

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolClosed is returned by Acquire and Write after Close.
	ErrPoolClosed = errors.New("stream pool is closed")

	// ErrHandleClosed is wrapped in an IOError when writing to an evicted handle.
	ErrHandleClosed = errors.New("stream handle is closed")
)

// IOError reports a failed open, write or close of a partition file.
// The pipeline logs it and drops the write; delivery is unaffected.
type IOError struct {
	Op   string
	Key  string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("stream %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsIOError reports whether err is or wraps an *IOError.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}
