// Package prekey manages signed and one-time prekeys for X3DH bootstrap.
//
// It rotates the current signed prekey, assembles and caches the public
// bundle, and tops up the relay's one-time prekeys when they run low.
package prekey
