package smb2

import (
	"bytes"
	"testing"
)

func testMessage(size int) []byte {
	msg := make([]byte, size)
	copy(msg, []byte(smb2ProtocolID))
	for i := SMB2HeaderSize; i < len(msg); i++ {
		msg[i] = byte(i)
	}
	return msg
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x2A}, 16)

	tests := []struct {
		name    string
		dialect Dialect
	}{
		{"2.0.2 HMAC-SHA256", Dialect2_0_2},
		{"2.1 HMAC-SHA256", Dialect2_1},
		{"3.0 AES-CMAC", Dialect3_0},
		{"3.1.1 AES-CMAC", Dialect3_1_1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := testMessage(80)

			sig, err := signMessage(msg, key, tt.dialect)
			if err != nil {
				t.Fatalf("signMessage() error = %v", err)
			}
			if len(sig) != signatureLength {
				t.Fatalf("signMessage() signature length = %d, want %d", len(sig), signatureLength)
			}
			applySignature(msg, sig)

			ok, err := verifySignature(msg, key, tt.dialect)
			if err != nil {
				t.Fatalf("verifySignature() error = %v", err)
			}
			if !ok {
				t.Error("verifySignature() = false, want true for an untampered message")
			}

			msg[SMB2HeaderSize] ^= 0xFF
			ok, err = verifySignature(msg, key, tt.dialect)
			if err != nil {
				t.Fatalf("verifySignature() after tamper: error = %v", err)
			}
			if ok {
				t.Error("verifySignature() = true for a tampered message, want false")
			}
		})
	}
}

func TestSignMessageRequiresKey(t *testing.T) {
	if _, err := signMessage(testMessage(80), nil, Dialect3_1_1); err == nil {
		t.Error("signMessage() with no signing key: expected an error, got nil")
	}
}

func TestSignMessageRequiresFullHeader(t *testing.T) {
	short := make([]byte, SMB2HeaderSize-1)
	if _, err := signMessage(short, []byte("0123456789ABCDEF"), Dialect3_1_1); err == nil {
		t.Error("signMessage() with a truncated header: expected an error, got nil")
	}
}

func TestDeriveSigningKeyPreDialect3(t *testing.T) {
	sessionKey := bytes.Repeat([]byte{0x11}, 16)
	got := deriveSigningKey(sessionKey, Dialect2_1, nil)
	if !bytes.Equal(got, sessionKey) {
		t.Error("deriveSigningKey() below dialect 3.0 must return the session key unchanged")
	}
}

func TestDeriveSigningKeyDiffersByDialectTier(t *testing.T) {
	sessionKey := bytes.Repeat([]byte{0x11}, 16)
	preauth := []byte("some-preauth-hash-bytes")

	k30 := deriveSigningKey(sessionKey, Dialect3_0, nil)
	k311 := deriveSigningKey(sessionKey, Dialect3_1_1, preauth)

	if bytes.Equal(k30, k311) {
		t.Error("3.0 and 3.1.1 signing keys must differ: different labels/contexts per MS-SMB2 3.1.4.2")
	}
	if len(k30) != 16 || len(k311) != 16 {
		t.Errorf("derived signing key lengths = %d, %d, want 16, 16", len(k30), len(k311))
	}
}

func TestDeriveEncryptionKeysDistinctDirections(t *testing.T) {
	sessionKey := bytes.Repeat([]byte{0x33}, 16)
	preauth := []byte("preauth-hash")

	enc, dec := deriveEncryptionKeys(sessionKey, Dialect3_1_1, preauth)
	if bytes.Equal(enc, dec) {
		t.Error("encrypt and decrypt keys must differ (distinct C2S/S2C labels)")
	}
	if len(enc) != 16 || len(dec) != 16 {
		t.Errorf("derived key lengths = %d, %d, want 16, 16", len(enc), len(dec))
	}
}

func TestPreauthHashOrderAndDeterminism(t *testing.T) {
	h := initPreauthHash()
	if h != ([64]byte{}) {
		t.Fatal("initPreauthHash() must seed with 64 zero bytes")
	}

	req := []byte("request-bytes")
	resp := []byte("response-bytes")

	h1 := updatePreauthHash(h, req)
	h1 = updatePreauthHash(h1, resp)

	h2 := updatePreauthHash(h, resp)
	h2 = updatePreauthHash(h2, req)

	if h1 == h2 {
		t.Error("pre-auth hash must be order-sensitive: [req,resp] and [resp,req] produced the same hash")
	}

	h1Again := updatePreauthHash(initPreauthHash(), req)
	h1Again = updatePreauthHash(h1Again, resp)
	if h1 != h1Again {
		t.Error("pre-auth hash computation is not deterministic across identical inputs")
	}
}
