// Package logging configures the standard logger: optional rotated file output
// and a debug switch.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

var debug atomic.Bool

// Setup returns a closer for the rotated file, or nil when logging to stdout only.
func Setup(opts Options) io.Closer {
	debug.Store(strings.EqualFold(opts.Level, "debug"))
	flags := log.LstdFlags
	if debug.Load() {
		flags |= log.Lshortfile
	}
	log.SetFlags(flags)

	if opts.File == "" {
		log.SetOutput(os.Stdout)
		return nil
	}

	// Ensure log directory exists
	logDir := filepath.Dir(opts.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		return nil
	}
	fileWriter := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	// Redirect standard log to both console and file
	log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	log.Printf("Logging to file: %s", opts.File)
	return fileWriter
}

func DebugEnabled() bool { return debug.Load() }

func Debugf(format string, args ...any) {
	if debug.Load() {
		log.Printf("[DEBUG] "+format, args...)
	}
}
