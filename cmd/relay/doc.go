// Package main runs the in-memory courier relay used during development and
// tests. It stores published prekey bundles, queues encrypted envelopes per
// recipient and streams them over a websocket until they are acknowledged.
//
// HTTP API
//
//	POST /v1/keys
//	    Store a user's PreKeyBundle. One-time prekeys already handed out are
//	    dropped from the new bundle.
//
//	GET /v1/keys/{username}
//	    Return the bundle with at most one one-time prekey, which is consumed.
//
//	GET /v1/keys/{username}/count
//	    Return {"count": N}, the one-time prekeys left.
//
//	POST /v1/messages/{username}
//	    Queue an Envelope. The relay sets the destination, server timestamp
//	    and server GUID.
//
//	GET /v1/accounts/{username}/canary
//	    Return the value assigned at first registration.
//
//	GET /v1/stream
//	    Websocket. The X-Courier-Username header selects the queue.
//
// All state is held in memory and lost on exit. The relay never sees
// plaintext or private keys. The default listen address is :8080.
package main
