package smb2

// SMB1 is used only for the initial NEGOTIATE probe that lets a server
// reply with either a legacy SMB1 response or the SMB2 wildcard dialect
// (MS-SMB2 3.2.4.2.2.1); nothing else in this package speaks SMB1.

const smb1CommandNegotiate = 0x72

// SMB1 header flags2 bits this package sets on its single request.
const (
	smb1Flags2LongNames      uint16 = 0x0001
	smb1Flags2ExtendedSec    uint16 = 0x0800
	smb1Flags2NTStatus       uint16 = 0x4000
	smb1Flags2Unicode        uint16 = 0x8000
)

// smb1Header is the fixed 32-byte SMB1 header.
type smb1Header struct {
	Command uint8
	Status  uint32
	Flags   uint8
	Flags2  uint16
	PIDHigh uint16
	TID     uint16
	PIDLow  uint16
	UID     uint16
	MID     uint16
}

func (h *smb1Header) marshal() []byte {
	w := newByteWriter(32)
	w.WriteBytes([]byte(smb1ProtocolID))
	w.WriteByte(h.Command)
	w.WriteUint32(h.Status)
	w.WriteByte(h.Flags)
	w.WriteUint16(h.Flags2)
	w.WriteUint16(h.PIDHigh)
	w.WriteZeros(8) // SecurityFeatures, unused without extended session security
	w.WriteUint16(0) // Reserved
	w.WriteUint16(h.TID)
	w.WriteUint16(h.PIDLow)
	w.WriteUint16(h.UID)
	w.WriteUint16(h.MID)
	return w.Bytes()
}

// buildSMB1NegotiateRequest builds the single-purpose SMB1 NEGOTIATE
// request this package sends: the SMB2 dialect markers only ("SMB
// 2.002", plus the wildcard "SMB 2.???" unless the connection is
// pinned to exactly 2.0.2), which is how a Direct-TCP client signals
// SMB2/3 support to a server that might only understand SMB1
// (MS-SMB2 3.2.4.2.2.1).
func buildSMB1NegotiateRequest(offerSMB311 bool) []byte {
	h := &smb1Header{
		Command: smb1CommandNegotiate,
		Flags2:  smb1Flags2LongNames | smb1Flags2ExtendedSec | smb1Flags2NTStatus | smb1Flags2Unicode,
		TID:     0xFFFF,
		PIDLow:  0xFEFF,
		UID:     0,
		MID:     0,
	}

	w := newByteWriter(64)
	w.WriteBytes(h.marshal())
	w.WriteByte(0) // WordCount

	dialects := []string{"SMB 2.002", "SMB 2.???"}
	if !offerSMB311 {
		dialects = []string{"SMB 2.002"}
	}

	var body []byte
	for _, d := range dialects {
		body = append(body, 0x02)
		body = append(body, []byte(d)...)
		body = append(body, 0x00)
	}
	w.WriteUint16(uint16(len(body))) // ByteCount
	w.WriteBytes(body)
	return w.Bytes()
}

// isSMB2ProtocolID reports whether data starts with the SMB2 protocol
// id 0xFE 'S' 'M' 'B'; a server that upgrades the SMB1 probe to SMB2
// replies with such a message rather than an SMB1-shaped one.
func isSMB2ProtocolID(data []byte) bool {
	return len(data) >= 4 && string(data[0:4]) == smb2ProtocolID
}

func isSMB1ProtocolID(data []byte) bool {
	return len(data) >= 4 && string(data[0:4]) == smb1ProtocolID
}
