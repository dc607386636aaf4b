package smb2

// Header is the fixed 64-byte SMB2/SMB3 packet header (MS-SMB2 2.2.1).
// Fields are addressable individually so the signing and encryption
// layers can mutate Signature or read Flags without a full re-marshal.
type Header struct {
	StructureSize uint16
	CreditCharge  uint16
	Status        NTStatus // request: ChannelSequence in the low 16 bits + reserved
	Command       uint16
	CreditRequest uint16 // credits requested (request) or granted (response)
	Flags         uint32
	NextCommand   uint32
	MessageID     uint64
	Reserved      uint32 // AsyncId low bits when FlagAsyncCommand is set
	TreeID        uint32 // SyncId/AsyncId high bits when FlagAsyncCommand is set
	SessionID     uint64
	Signature     [16]byte
}

// NewRequestHeader builds a header for an outbound request. The caller
// appends any payload to the Marshal output.
func NewRequestHeader(command uint16, messageID uint64, creditCharge, creditRequest uint16) *Header {
	return &Header{
		StructureSize: SMB2HeaderSize,
		CreditCharge:  creditCharge,
		Command:       command,
		CreditRequest: creditRequest,
		MessageID:     messageID,
	}
}

// IsResponse reports whether the header belongs to a server-to-client
// message.
func (h *Header) IsResponse() bool { return h.Flags&FlagServerToRedir != 0 }

// IsSigned reports whether SMB2_FLAGS_SIGNED is set.
func (h *Header) IsSigned() bool { return h.Flags&FlagSigned != 0 }

// SetSigned sets or clears SMB2_FLAGS_SIGNED.
func (h *Header) SetSigned(signed bool) {
	if signed {
		h.Flags |= FlagSigned
	} else {
		h.Flags &^= FlagSigned
	}
}

// IsAsync reports whether SMB2_FLAGS_ASYNC_COMMAND is set.
func (h *Header) IsAsync() bool { return h.Flags&FlagAsyncCommand != 0 }

// Marshal encodes the header into its wire representation.
func (h *Header) Marshal() []byte {
	w := newByteWriter(SMB2HeaderSize)
	w.WriteBytes([]byte(smb2ProtocolID))
	w.WriteUint16(h.StructureSize)
	w.WriteUint16(h.CreditCharge)
	w.WriteUint32(uint32(h.Status))
	w.WriteUint16(h.Command)
	w.WriteUint16(h.CreditRequest)
	w.WriteUint32(h.Flags)
	w.WriteUint32(h.NextCommand)
	w.WriteUint64(h.MessageID)
	w.WriteUint32(h.Reserved)
	w.WriteUint32(h.TreeID)
	w.WriteUint64(h.SessionID)
	w.WriteBytes(h.Signature[:])
	return w.Bytes()
}

// UnmarshalHeader decodes a 64-byte SMB2 header. It does not verify the
// protocol id; callers dispatching on the leading 4 bytes (SMB1 vs SMB2
// vs TRANSFORM_HEADER) do that first.
func UnmarshalHeader(data []byte) (*Header, error) {
	if len(data) < SMB2HeaderSize {
		return nil, wrapProtocolError("header", ErrMessageTooShort)
	}
	r := newByteReader(data[:SMB2HeaderSize])
	r.Seek(4) // skip ProtocolID; caller already identified it
	h := &Header{
		StructureSize: r.ReadUint16(),
		CreditCharge:  r.ReadUint16(),
		Status:        NTStatus(r.ReadUint32()),
		Command:       r.ReadUint16(),
		CreditRequest: r.ReadUint16(),
		Flags:         r.ReadUint32(),
		NextCommand:   r.ReadUint32(),
		MessageID:     r.ReadUint64(),
		Reserved:      r.ReadUint32(),
		TreeID:        r.ReadUint32(),
		SessionID:     r.ReadUint64(),
	}
	copy(h.Signature[:], r.ReadBytes(16))
	if r.err != nil {
		return nil, wrapProtocolError("header", r.err)
	}
	return h, nil
}

// TransformHeader is the 52-byte SMB2_TRANSFORM_HEADER that wraps an
// encrypted message (MS-SMB2 2.2.41).
type TransformHeader struct {
	Signature      [16]byte // AEAD tag
	Nonce          [16]byte // effective nonce, zero-padded
	OriginalSize   uint32
	Flags          uint16
	SessionID      uint64
}

// Marshal encodes the transform header. AAD for the AEAD operation is
// bytes [20:52) of this encoding: everything after ProtocolID and
// Signature, which is Nonce through SessionID.
func (t *TransformHeader) Marshal() []byte {
	w := newByteWriter(TransformHeaderSize)
	w.WriteBytes([]byte("\xFDSMB"))
	w.WriteBytes(t.Signature[:])
	w.WriteBytes(t.Nonce[:])
	w.WriteUint32(t.OriginalSize)
	w.WriteUint16(0) // Reserved
	w.WriteUint16(t.Flags)
	w.WriteUint64(t.SessionID)
	return w.Bytes()
}

// UnmarshalTransformHeader decodes a 52-byte TRANSFORM_HEADER.
func UnmarshalTransformHeader(data []byte) (*TransformHeader, error) {
	if len(data) < TransformHeaderSize {
		return nil, wrapProtocolError("transform header", ErrMessageTooShort)
	}
	r := newByteReader(data[:TransformHeaderSize])
	r.Seek(4)
	t := &TransformHeader{}
	copy(t.Signature[:], r.ReadBytes(16))
	copy(t.Nonce[:], r.ReadBytes(16))
	t.OriginalSize = r.ReadUint32()
	r.ReadUint16() // Reserved
	t.Flags = r.ReadUint16()
	t.SessionID = r.ReadUint64()
	if r.err != nil {
		return nil, wrapProtocolError("transform header", r.err)
	}
	return t, nil
}

// aad returns the TRANSFORM_HEADER's associated data for the AEAD
// operation: bytes [20:52), i.e. Nonce through SessionID.
func (t *TransformHeader) aad() []byte {
	w := newByteWriter(TransformHeaderSize - 20)
	w.WriteBytes(t.Nonce[:])
	w.WriteUint32(t.OriginalSize)
	w.WriteUint16(0) // Reserved
	w.WriteUint16(t.Flags)
	w.WriteUint64(t.SessionID)
	return w.Bytes()
}
