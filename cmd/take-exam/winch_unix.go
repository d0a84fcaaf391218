//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/stemsi/examportal/internal/session"
	"golang.org/x/term"
)

// watchTerminalSize reports fullscreen_exit when the terminal shrinks
// below its starting size and fullscreen_enter once it is restored.
func watchTerminalSize(ctx context.Context, notify func(session.SignalKind)) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return
	}
	baseW, baseH, err := term.GetSize(fd)
	if err != nil {
		return
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	shrunk := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-winch:
			w, h, err := term.GetSize(fd)
			if err != nil {
				continue
			}
			small := w < baseW || h < baseH
			switch {
			case small && !shrunk:
				shrunk = true
				notify(session.SignalFullscreenExit)
			case !small && shrunk:
				shrunk = false
				notify(session.SignalFullscreenEnter)
			}
		}
	}
}
