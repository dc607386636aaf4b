package smb2

// NegotiateRequest is the body of an SMB2 NEGOTIATE request
// (MS-SMB2 2.2.3).
type NegotiateRequest struct {
	SecurityMode uint16
	Capabilities uint32
	ClientGUID   [16]byte
	Dialects     []Dialect

	// PreauthSalt and Ciphers are only encoded when Dialects includes
	// 3.1.1 (negotiate contexts are a 3.1.1-only extension).
	PreauthSalt []byte
	Ciphers     []uint16
}

// Marshal encodes the NEGOTIATE request body (not including the SMB2
// header).
func (r *NegotiateRequest) Marshal() []byte {
	w := newByteWriter(64 + len(r.Dialects)*2)
	w.WriteUint16(36) // StructureSize
	w.WriteUint16(uint16(len(r.Dialects)))
	w.WriteUint16(r.SecurityMode)
	w.WriteUint16(0) // Reserved
	w.WriteUint32(r.Capabilities)
	w.WriteGUID(r.ClientGUID)

	has311 := false
	for _, d := range r.Dialects {
		if d == Dialect3_1_1 {
			has311 = true
		}
	}

	contextOffsetPos := w.Len()
	w.WriteUint32(0) // NegotiateContextOffset, patched below
	contextCountPos := w.Len()
	w.WriteUint16(0) // NegotiateContextCount, patched below
	w.WriteUint16(0) // Reserved2

	for _, d := range r.Dialects {
		w.WriteUint16(uint16(d))
	}

	if !has311 {
		return w.Bytes()
	}

	w.WritePadTo8()
	contextsStart := w.Len()

	preauth := marshalPreauthIntegrityContext(r.PreauthSalt)
	w.WriteUint16(ContextPreauthIntegrityCapabilities)
	w.WriteUint16(uint16(len(preauth)))
	w.WriteUint32(0)
	w.WriteBytes(preauth)
	w.WritePadTo8()

	ciphers := r.Ciphers
	if len(ciphers) == 0 {
		ciphers = []uint16{CipherAES128GCM, CipherAES128CCM}
	}
	enc := marshalEncryptionContext(ciphers)
	w.WriteUint16(ContextEncryptionCapabilities)
	w.WriteUint16(uint16(len(enc)))
	w.WriteUint32(0)
	w.WriteBytes(enc)

	w.SetUint32At(contextOffsetPos, uint32(SMB2HeaderSize+contextsStart))
	buf := w.Bytes()
	le.PutUint16(buf[contextCountPos:], 2)
	return buf
}

func marshalPreauthIntegrityContext(salt []byte) []byte {
	w := newByteWriter(4 + len(salt))
	w.WriteUint16(1) // HashAlgorithmCount
	w.WriteUint16(uint16(len(salt)))
	w.WriteUint16(HashAlgorithmSHA512)
	w.WriteBytes(salt)
	return w.Bytes()
}

func marshalEncryptionContext(ciphers []uint16) []byte {
	w := newByteWriter(2 + len(ciphers)*2)
	w.WriteUint16(uint16(len(ciphers)))
	for _, c := range ciphers {
		w.WriteUint16(c)
	}
	return w.Bytes()
}

// NegotiateResponse is the parsed body of an SMB2 NEGOTIATE response.
type NegotiateResponse struct {
	SecurityMode    uint16
	DialectRevision Dialect
	ServerGUID      [16]byte
	Capabilities    uint32
	MaxTransactSize uint32
	MaxReadSize     uint32
	MaxWriteSize    uint32
	SecurityBuffer  []byte

	// 3.1.1 negotiate context results.
	PreauthHashID uint16
	CipherID      uint16
}

// UnmarshalNegotiateResponse parses an SMB2 NEGOTIATE response body.
// fullMessage is the whole message, SMB2 header included, whose part
// after the header is body (used to resolve the security-buffer and
// negotiate-context offsets, which are relative to the SMB2 header).
func UnmarshalNegotiateResponse(body []byte, fullMessage []byte) (*NegotiateResponse, error) {
	if len(body) < 64 {
		return nil, wrapProtocolError("negotiate response", ErrMessageTooShort)
	}
	r := newByteReader(body)

	structSize := r.ReadUint16()
	if structSize != 65 {
		return nil, wrapProtocolError("negotiate response", errBadStructureSize)
	}

	resp := &NegotiateResponse{}
	resp.SecurityMode = r.ReadUint16()
	resp.DialectRevision = Dialect(r.ReadUint16())
	contextCount := r.ReadUint16()
	resp.ServerGUID = r.ReadGUID()
	resp.Capabilities = r.ReadUint32()
	resp.MaxTransactSize = r.ReadUint32()
	resp.MaxReadSize = r.ReadUint32()
	resp.MaxWriteSize = r.ReadUint32()
	r.ReadUint64() // SystemTime
	r.ReadUint64() // ServerStartTime
	secBufOffset := r.ReadUint16()
	secBufLength := r.ReadUint16()
	contextOffset := r.ReadUint32()

	if r.err != nil {
		return nil, wrapProtocolError("negotiate response", r.err)
	}

	if secBufLength > 0 && int(secBufOffset)+int(secBufLength) <= len(fullMessage) {
		resp.SecurityBuffer = fullMessage[secBufOffset : secBufOffset+secBufLength]
	}

	if resp.DialectRevision == Dialect3_1_1 && contextCount > 0 {
		parseNegotiateContexts(fullMessage, int(contextOffset), contextCount, resp)
	}

	return resp, nil
}

func parseNegotiateContexts(fullMessage []byte, offset int, count uint16, resp *NegotiateResponse) {
	pos := offset
	for i := uint16(0); i < count; i++ {
		if pos+8 > len(fullMessage) {
			return
		}
		r := newByteReader(fullMessage[pos:])
		contextType := r.ReadUint16()
		dataLength := r.ReadUint16()
		r.ReadUint32() // Reserved
		dataStart := pos + 8
		if dataStart+int(dataLength) > len(fullMessage) {
			return
		}
		data := fullMessage[dataStart : dataStart+int(dataLength)]

		switch contextType {
		case ContextPreauthIntegrityCapabilities:
			// Layout: HashAlgorithmCount(2), SaltLength(2),
			// HashAlgorithms[HashAlgorithmCount](2 each), Salt(...).
			// The server always selects exactly one algorithm, so the
			// id sits at offset 4, after SaltLength.
			if len(data) >= 6 {
				resp.PreauthHashID = le.Uint16(data[4:6])
			}
		case ContextEncryptionCapabilities:
			if len(data) >= 4 {
				resp.CipherID = le.Uint16(data[2:4])
			}
		}

		pos = dataStart + int(dataLength)
		pos += padTo8ByteBoundary(pos - offset)
	}
}
