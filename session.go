package smb2

// Session is the minimal surface of an SMB2 session the connection
// core needs to frame outbound messages: the session id to stamp into
// the header, the derived keys, and whether signing/encryption apply.
// Session setup (NTLM/Kerberos exchange) is out of scope here; callers
// build a Session once SESSION_SETUP has completed and hand it to
// Connection.Send.
type Session struct {
	SessionID       uint64
	SigningKey      []byte
	SigningRequired bool
	EncryptData     bool
	EncryptionKey   []byte
	DecryptionKey   []byte

	encryptNonce uint64
}

// nextEncryptNonce returns a fresh, monotonically increasing nonce
// counter for this session's encrypt direction. SMB2 requires each
// encrypted message on a session to use a distinct nonce.
func (s *Session) nextEncryptNonce() uint64 {
	s.encryptNonce++
	return s.encryptNonce
}
