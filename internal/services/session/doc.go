// Package session establishes and resets X3DH sessions.
//
// It runs the initiator side of the handshake against a bundle fetched from
// the relay and persists the session the cipher bootstraps its ratchet from.
package session
