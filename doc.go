// Package smb2 implements the client-side SMB2/SMB3 connection core:
// dialect negotiation (including the legacy SMB1-probe handshake),
// per-message signing and encryption, and a concurrent request/response
// demultiplexer keyed by message id.
//
// It does not implement SESSION_SETUP, TREE_CONNECT, or any file
// operation; Session and Tree are minimal value types a caller
// populates from those higher-level exchanges and hands to
// Connection.Send. A Transport implementation (DialTCP is provided) is
// the only thing this package needs to reach a server.
package smb2
