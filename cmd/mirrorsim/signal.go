// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// interruptListener returns a context that is canceled on the first
// SIGINT or SIGTERM.  A second signal falls through to the default
// handler and kills the process.
func interruptListener(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-c
		log.Infof("Received signal (%s).  Shutting down...", sig)
		cancel()
		signal.Stop(c)
	}()
	return ctx
}
