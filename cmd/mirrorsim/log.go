// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/walletmirror/walletmirror/chain"
	"github.com/walletmirror/walletmirror/wstore"
	"github.com/walletmirror/walletmirror/wsync"
	"github.com/walletmirror/walletmirror/wtrack"
)

// logWriter implements an io.Writer that outputs to both standard output
// and the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	logRotator.Write(p)
	return len(p), nil
}

// Loggers per subsystem.  All of them route through backendLog, so the
// rotator and stdout see one interleaved stream.
var (
	backendLog = btclog.NewBackend(logWriter{})
	logRotator *rotator.Rotator

	log      = backendLog.Logger("MSIM")
	syncLog  = backendLog.Logger("SYNC")
	storeLog = backendLog.Logger("WSTR")
	trackLog = backendLog.Logger("TRCK")
	chainLog = backendLog.Logger("CHAN")
)

func init() {
	wsync.UseLogger(syncLog)
	wstore.UseLogger(storeLog)
	wtrack.UseLogger(trackLog)
	chain.UseLogger(chainLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"MSIM": log,
	"SYNC": syncLog,
	"WSTR": storeLog,
	"TRCK": trackLog,
	"CHAN": chainLog,
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory.  It must be called before
// the package-global log rotator variables are used.
func initLogRotator(logFile string) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}
	logRotator = r
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.  The level string has already been validated by loadConfig.
func setLogLevels(logLevel string) {
	level, _ := btclog.LevelFromString(logLevel)
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}

// logClosure is used to provide a closure over expensive logging operations
// so they don't have to be performed when the logging level doesn't warrant
// it.
type logClosure func() string

func (c logClosure) String() string {
	return c()
}

func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}
