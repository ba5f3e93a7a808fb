// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package eventstream

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/vidpulse/vidpulse/internal/logging"
)

// wmLogger adapts the global zerolog logger to watermill.LoggerAdapter so
// router and middleware logs land in the same structured stream as ours.
type wmLogger struct {
	fields watermill.LogFields
}

// NewLoggerAdapter returns a watermill logger backed by the global logger.
func NewLoggerAdapter() watermill.LoggerAdapter {
	return &wmLogger{}
}

func (l *wmLogger) Error(msg string, err error, fields watermill.LogFields) {
	ev := logging.Error().Err(err)
	addFields(ev, l.fields, fields)
	ev.Msg(msg)
}

func (l *wmLogger) Info(msg string, fields watermill.LogFields) {
	ev := logging.Info()
	addFields(ev, l.fields, fields)
	ev.Msg(msg)
}

func (l *wmLogger) Debug(msg string, fields watermill.LogFields) {
	ev := logging.Debug()
	addFields(ev, l.fields, fields)
	ev.Msg(msg)
}

func (l *wmLogger) Trace(msg string, fields watermill.LogFields) {
	ev := logging.Trace()
	addFields(ev, l.fields, fields)
	ev.Msg(msg)
}

func (l *wmLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &wmLogger{fields: merged}
}

func addFields(ev *zerolog.Event, base, extra watermill.LogFields) {
	for k, v := range base {
		ev.Interface(k, v)
	}
	for k, v := range extra {
		ev.Interface(k, v)
	}
}
