// Package message encrypts and sends messages, retry receipts and resends.
//
// Payloads are framed by the cipher and posted through the RelayClient. Data
// messages are kept in the sent log so a decryption error reported by the
// peer can be answered with the same content and timestamp.
package message
