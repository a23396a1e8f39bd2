// Package messages is the incoming message pipeline.
//
// IncomingMessageObserver keeps the relay stream open while the account needs
// it and feeds each envelope to the IncomingMessageProcessor. The processor
// runs the Decryptor, which turns the cipher outcome into a DecryptionResult,
// enqueues the jobs of the result and stores whatever the result calls for.
//
// Session failures from senders that speak the retry protocol go to the
// RetryCoordinator, which picks a reaction from the content hint of the
// failed message. PendingRetryManager later turns unanswered RESENDABLE
// failures into visible errors.
package messages
