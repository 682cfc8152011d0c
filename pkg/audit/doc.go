// Package audit records permission and sharing mutations as write-once events.
//
// Every role change, capability override change, share grant or revocation
// and resource delete/restore produces one AuditEvent. Sinks implement
// Logger; the ones that can read history back also implement Searcher.
//
// Available sinks:
//
//   - DBLogger: PostgreSQL table audit_events, insert-only, searchable
//   - FileLogger: JSON lines with size based rotation
//   - AMQPLogger: publishes to a RabbitMQ topic exchange keyed by event type
//   - MemoryLogger: in-process, searchable, used by tests
//
// MultiLogger fans an event out to several sinks. The first sink is primary
// and written synchronously; with SetAsync(true) the rest are written in the
// background and their errors are collected through Errors.
//
// Audit failures never roll back the mutation they describe. Callers log and
// count them instead of returning them.
package audit
