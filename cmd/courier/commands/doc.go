// Package commands defines the courier CLI.
//
// Commands
//
//   - init           Create the local identity
//   - fingerprint    Print the identity fingerprint
//   - register       Publish your prekey bundle to a relay
//   - start-session  Establish an X3DH session with a peer
//   - send           Encrypt and send a message
//   - run            Stay connected and process incoming messages
//   - pending        List retry receipts waiting for a resend
//
// The root command loads the config, applies flag overrides, sets up logging
// and builds the app.Wire before any subcommand runs. Commands that encrypt
// or read the message database unlock the identity first.
package commands
