package smb2

import (
	"crypto/aes"
	"crypto/cipher"
)

// nonceSize returns the effective AEAD nonce length for cipherID: 11
// bytes for AES-128-CCM, 12 for AES-128-GCM (MS-SMB2 3.1.4.3). The wire
// TransformHeader.Nonce field is always 16 bytes; unused trailing bytes
// are zero.
func nonceSize(cipherID uint16) int {
	if cipherID == CipherAES128CCM {
		return 11
	}
	return 12
}

// newAEAD builds the cipher.AEAD for cipherID. GCM uses the stdlib
// implementation directly; CCM has no stdlib or golang.org/x/crypto
// implementation, so it is composed by hand from crypto/aes (the same
// primitive AES-CMAC is built from in signing.go).
func newAEAD(cipherID uint16, key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &CryptoError{Op: "new cipher", Cause: err}
	}

	switch cipherID {
	case CipherAES128GCM:
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, &CryptoError{Op: "new GCM", Cause: err}
		}
		return aead, nil
	case CipherAES128CCM:
		aead, err := newCCM(block, 16, 11)
		if err != nil {
			return nil, &CryptoError{Op: "new CCM", Cause: err}
		}
		return aead, nil
	default:
		return nil, &CryptoError{Op: "new cipher", Cause: errUnknownCipher}
	}
}

// encryptMessage wraps plaintext (a full, signed or unsigned SMB2
// message) in an SMB2_TRANSFORM_HEADER per MS-SMB2 3.1.4.3, returning
// the transform header concatenated with ciphertext+tag.
func encryptMessage(cipherID uint16, key []byte, sessionID uint64, nonceCounter uint64, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(cipherID, key)
	if err != nil {
		return nil, err
	}

	th := &TransformHeader{
		OriginalSize: uint32(len(plaintext)),
		Flags:        transformFlagEncrypted,
		SessionID:    sessionID,
	}
	nonce := make([]byte, nonceSize(cipherID))
	putNonceCounter(nonce, nonceCounter)
	copy(th.Nonce[:], nonce)

	sealed := aead.Seal(nil, nonce, plaintext, th.aad())
	// Seal appends the tag after the ciphertext; TRANSFORM_HEADER wants
	// the tag split out into its own Signature field.
	ct := sealed[:len(sealed)-aead.Overhead()]
	copy(th.Signature[:], sealed[len(sealed)-aead.Overhead():])

	out := th.Marshal()
	out = append(out, ct...)
	return out, nil
}

// decryptMessage reverses encryptMessage: given a full TRANSFORM_HEADER
// + ciphertext buffer, it verifies the tag and returns the plaintext
// SMB2 message.
func decryptMessage(cipherID uint16, key []byte, data []byte) ([]byte, error) {
	th, err := UnmarshalTransformHeader(data)
	if err != nil {
		return nil, err
	}
	ciphertext := data[TransformHeaderSize:]

	aead, err := newAEAD(cipherID, key)
	if err != nil {
		return nil, err
	}

	nonce := th.Nonce[:nonceSize(cipherID)]
	sealed := append(append([]byte{}, ciphertext...), th.Signature[:]...)

	plaintext, err := aead.Open(nil, nonce, sealed, th.aad())
	if err != nil {
		return nil, &CryptoError{Op: "decrypt", Cause: err}
	}
	if uint32(len(plaintext)) != th.OriginalSize {
		return nil, &CryptoError{Op: "decrypt", Cause: errSizeMismatch}
	}
	return plaintext, nil
}

func putNonceCounter(nonce []byte, counter uint64) {
	for i := 0; i < 8 && i < len(nonce); i++ {
		nonce[i] = byte(counter >> (8 * i))
	}
}
