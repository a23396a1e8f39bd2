// Package relay is the store-and-forward side of courier.
//
// Client is the HTTP implementation of domain.RelayClient: publishing and
// fetching prekey bundles, counting remaining one-time prekeys, sending
// envelopes and reading the account canary. Requests are JSON and take a
// context; non-2xx statuses come back as errors naming method and path, and
// 404 wraps ErrNotFound.
//
// Server is an in-memory relay for development and tests. Besides the HTTP
// API it serves a websocket stream per account that speaks the frames of
// package transport: queued envelopes go out once per stream, stay queued
// until acknowledged, and the end of the connect-time backlog is marked with
// a single empty frame.
package relay
