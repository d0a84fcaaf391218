//go:build windows

package main

import (
	"context"

	"github.com/stemsi/examportal/internal/session"
)

// watchTerminalSize is a no-op: Windows consoles deliver no resize signal.
func watchTerminalSize(ctx context.Context, notify func(session.SignalKind)) {}
