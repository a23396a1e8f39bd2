// Package app wires courier together.
//
// Config is loaded from YAML with COURIER_* environment overrides. Wire holds
// the stores and services usable before the identity is unlocked; Unlock
// returns an Account whose Run assembles the receive pipeline (transport,
// observer, processor, retry coordinator, pending receipt manager and job
// handlers) and drives it until the context ends.
package app
