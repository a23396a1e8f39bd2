// Package transport is the client side of the relay envelope stream.
//
// The relay pushes queued envelopes over a websocket one frame at a time and
// sends an empty frame once the backlog is delivered. Every envelope is
// acknowledged after the caller has processed it, so an envelope lost to a
// dropped connection is delivered again on the next one.
package transport
