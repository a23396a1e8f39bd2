// Package domain re-exports the plain types and the contracts shared by the
// pipeline, the services and the stores, so callers import one package.
package domain
