// Package audit records authorization attempts and role assignments.
//
// Events are written through a Logger. FileLogger appends JSON lines to a
// rotating file, DBLogger inserts into a PostgreSQL audit_logs table and can
// purge old rows, and MultiLogger fans out to several of them. Both concrete
// loggers also implement Searcher so events can be read back and rendered
// with Export as JSON, NDJSON or CSV.
//
// Sink adapts a Logger to the access-control audit callbacks:
//
//	fileLog, _ := audit.NewFileLogger(audit.DefaultFileLoggerConfig())
//	sink := audit.NewSink(fileLog, logger, audit.WithRecorder(metrics))
//	defer sink.Close()
//
// Sink writes asynchronously and swallows failures, so a broken audit
// destination never changes an authorization decision.
package audit
