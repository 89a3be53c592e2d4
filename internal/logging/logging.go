/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, nil)
}

// SetupWithWriter configures zerolog with an additional JSON writer (e.g.
// the in-memory log buffer). Console output goes to stderr so CLI commands
// can keep stdout for their results.
func SetupWithWriter(environment string, additional io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	switch environment {
	case "development":
		level = zerolog.DebugLevel
	case "test":
		level = zerolog.WarnLevel
	}
	if lvl, err := zerolog.ParseLevel(os.Getenv("TALKCLOCK_LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		level = lvl
	}

	var writer io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if additional != nil {
		writer = zerolog.MultiLevelWriter(writer, additional)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}
