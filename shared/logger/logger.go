// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

// Package logger provides structured JSON logging for all services.
// Entries carry the component, instance, and per-request identifiers so
// log pipelines can slice by user and query.
package logger

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Level represents the severity of a log entry.
type Level string

const (
	DEBUG Level = "DEBUG"
	INFO  Level = "INFO"
	WARN  Level = "WARN"
	ERROR Level = "ERROR"
)

// Logger writes structured entries for one component.
type Logger struct {
	Component  string
	InstanceID string
}

// Entry is the JSON shape of one log line.
type Entry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      Level                  `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	UserID     string                 `json:"user_id,omitempty"`
	QueryID    string                 `json:"query_id,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a Logger for the given component. The instance id comes
// from the environment (set during deployment) or falls back to the
// hostname.
func New(component string) *Logger {
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		if host, err := os.Hostname(); err == nil {
			instanceID = host
		} else {
			instanceID = "unknown"
		}
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
	}
}

// Log writes one structured entry to stdout.
func (l *Logger) Log(level Level, userID, queryID, message string, fields map[string]interface{}) {
	entry := Entry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		UserID:     userID,
		QueryID:    queryID,
		Message:    message,
		Fields:     fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails.
		log.Printf("ERROR: failed to marshal log entry: %v", err)
		return
	}

	log.Println(string(jsonBytes))
}

// Debug logs a debug message.
func (l *Logger) Debug(userID, queryID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, userID, queryID, message, fields)
}

// Info logs an informational message.
func (l *Logger) Info(userID, queryID, message string, fields map[string]interface{}) {
	l.Log(INFO, userID, queryID, message, fields)
}

// Warn logs a warning message.
func (l *Logger) Warn(userID, queryID, message string, fields map[string]interface{}) {
	l.Log(WARN, userID, queryID, message, fields)
}

// Error logs an error message.
func (l *Logger) Error(userID, queryID, message string, fields map[string]interface{}) {
	l.Log(ERROR, userID, queryID, message, fields)
}

// ErrorWith logs an error message with the error attached as a field.
func (l *Logger) ErrorWith(userID, queryID, message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Log(ERROR, userID, queryID, message, fields)
}
