// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"io"
	"os"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
)

// Log supplies the necessary functionality for Commands that wish to set up
// logging.
type Log struct {
	// If DefaultConfig is set, it will be used for the
	// default logging configuration.
	DefaultConfig string
	Path          string
	Verbose       bool
	Quiet         bool
	Debug         bool
	ShowLog       bool
	Config        string
}

// AddFlags adds appropriate flags to f.
func (l *Log) AddFlags(f *gnuflag.FlagSet) {
	f.StringVar(&l.Path, "log-file", "", "Path to write log to")
	f.BoolVar(&l.Verbose, "v", false, "Show more verbose output")
	f.BoolVar(&l.Verbose, "verbose", false, "Show more verbose output")
	f.BoolVar(&l.Quiet, "q", false, "Show no informational output")
	f.BoolVar(&l.Quiet, "quiet", false, "Show no informational output")
	f.BoolVar(&l.Debug, "debug", false, "Equivalent to --show-log --logging-config=<root>=DEBUG")
	f.StringVar(&l.Config, "logging-config", l.DefaultConfig, "Specify log levels for modules")
	f.BoolVar(&l.ShowLog, "show-log", false, "If set, write the log file to stderr")
}

// Start starts logging using the given Context.
func (l *Log) Start(ctx *Context) error {
	if l.Verbose && l.Quiet {
		return errors.New(`"verbose" and "quiet" flags clash, please use one or the other, not both`)
	}
	ctx.quiet = l.Quiet
	ctx.verbose = l.Verbose

	if l.Path != "" {
		path := ctx.AbsPath(l.Path)
		target, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Trace(err)
		}
		writer := l.GetLogWriter(target)
		if err := loggo.RegisterWriter("logfile", writer); err != nil {
			return errors.Trace(err)
		}
	}
	level := loggo.WARNING
	if l.ShowLog {
		level = loggo.INFO
	}
	if l.Debug {
		l.ShowLog = true
		level = loggo.DEBUG
		// override the logging config to add root for debug
		l.Config = "<root>=DEBUG;" + l.Config
	}

	if l.ShowLog {
		// We replace the default writer to use ctx.Stderr rather than os.Stderr.
		writer := l.GetLogWriter(ctx.Stderr)
		if _, err := loggo.ReplaceDefaultWriter(writer); err != nil {
			return errors.Trace(err)
		}
	} else {
		loggo.RemoveWriter("default")
		// Create a simple writer that doesn't show filenames, or timestamps,
		// and only shows warning or above.
		writer := NewWarningWriter(ctx.Stderr)
		if err := loggo.RegisterWriter("warning", writer); err != nil {
			return errors.Trace(err)
		}
	}
	// Set the level on the root logger.
	root := loggo.GetLogger("")
	root.SetLogLevel(level)
	// Override the logging config with specified logging config.
	return errors.Trace(loggo.ConfigureLoggers(l.Config))
}

// GetLogWriter returns a writer that writes to target in the default
// log format.
func (l *Log) GetLogWriter(target io.Writer) loggo.Writer {
	return loggo.NewSimpleWriter(target, loggo.DefaultFormatter)
}

// NewWarningWriter returns a writer that writes the level and message of
// entries at WARNING or above.
func NewWarningWriter(writer io.Writer) loggo.Writer {
	simple := loggo.NewSimpleWriter(writer, func(entry loggo.Entry) string {
		return entry.Level.String() + " " + entry.Message
	})
	return loggo.NewMinimumLevelWriter(simple, loggo.WARNING)
}
