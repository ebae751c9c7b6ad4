// Package observability records what the task lifecycle engine did: every
// load, transition request, reason prompt, server answer and discarded
// response is appended to a JSON Lines event log. Metrics and alerts are
// derived on demand from that log.
package observability
