// Package jobs runs the side effects produced by the incoming pipeline.
//
// A Manager executes jobs in process, one goroutine per queue, retrying
// failures with exponential backoff. AMQPQueue puts a RabbitMQ queue in front
// of a Manager so queued recovery work survives a restart.
//
// Handlers for every job kind are installed with RegisterHandlers.
package jobs
