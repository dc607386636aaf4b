package smb2

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
)

const (
	signatureOffset = 48
	signatureLength = 16
)

// signMessage computes the signature for a marshaled SMB2 message. The
// signature field's current contents are ignored: both algorithms MAC a
// copy of the message with that field zeroed. The algorithm is
// dialect-dispatched per MS-SMB2 3.1.4.1: AES-128-CMAC for 3.x,
// HMAC-SHA256 truncated to 16 bytes otherwise.
func signMessage(message []byte, signingKey []byte, dialect Dialect) ([]byte, error) {
	if len(signingKey) == 0 {
		return nil, &CryptoError{Op: "sign", Cause: errNoSigningKey}
	}
	if len(message) < SMB2HeaderSize {
		return nil, &CryptoError{Op: "sign", Cause: ErrMessageTooShort}
	}

	if dialect >= Dialect3_0 {
		return computeAESCMAC(message, signingKey), nil
	}
	return computeHMACSHA256(message, signingKey), nil
}

// verifySignature checks message's embedded signature against one
// computed fresh over a zeroed-signature copy.
func verifySignature(message []byte, signingKey []byte, dialect Dialect) (bool, error) {
	if len(message) < SMB2HeaderSize {
		return false, &CryptoError{Op: "verify", Cause: ErrMessageTooShort}
	}
	existing := make([]byte, signatureLength)
	copy(existing, message[signatureOffset:signatureOffset+signatureLength])

	zeroed := make([]byte, len(message))
	copy(zeroed, message)
	for i := signatureOffset; i < signatureOffset+signatureLength; i++ {
		zeroed[i] = 0
	}

	expected, err := signMessage(zeroed, signingKey, dialect)
	if err != nil {
		return false, err
	}
	return hmac.Equal(existing, expected), nil
}

// applySignature writes sig into message's signature field in place.
func applySignature(message []byte, sig []byte) {
	if len(message) >= SMB2HeaderSize && len(sig) >= signatureLength {
		copy(message[signatureOffset:signatureOffset+signatureLength], sig[:signatureLength])
	}
}

func computeHMACSHA256(message []byte, key []byte) []byte {
	signingKey := make([]byte, 16)
	copy(signingKey, key)

	zeroed := make([]byte, len(message))
	copy(zeroed, message)
	for i := signatureOffset; i < signatureOffset+signatureLength && i < len(zeroed); i++ {
		zeroed[i] = 0
	}

	h := hmac.New(sha256.New, signingKey)
	h.Write(zeroed)
	return h.Sum(nil)[:16]
}

// computeAESCMAC computes AES-128-CMAC per RFC 4493. message's
// signature field is zeroed in a copy before MACing, matching the
// HMAC path's behavior, so the caller need not pre-zero it.
func computeAESCMAC(message []byte, key []byte) []byte {
	signingKey := make([]byte, 16)
	copy(signingKey, key)

	zeroed := make([]byte, len(message))
	copy(zeroed, message)
	for i := signatureOffset; i < signatureOffset+signatureLength && i < len(zeroed); i++ {
		zeroed[i] = 0
	}

	block, err := aes.NewCipher(signingKey)
	if err != nil {
		return nil
	}

	k1, k2 := generateCMACSubkeys(block)

	n := (len(zeroed) + 15) / 16
	if n == 0 {
		n = 1
	}

	lastBlockComplete := len(zeroed) > 0 && len(zeroed)%16 == 0
	lastBlock := make([]byte, 16)
	if lastBlockComplete {
		copy(lastBlock, zeroed[(n-1)*16:])
		xorBytes(lastBlock, k1)
	} else {
		remaining := len(zeroed) % 16
		if len(zeroed) > 0 {
			copy(lastBlock, zeroed[(n-1)*16:])
		}
		lastBlock[remaining] = 0x80
		xorBytes(lastBlock, k2)
	}

	x := make([]byte, 16)
	for i := 0; i < n-1; i++ {
		xorBytes(x, zeroed[i*16:(i+1)*16])
		block.Encrypt(x, x)
	}
	xorBytes(x, lastBlock)
	block.Encrypt(x, x)
	return x
}

func generateCMACSubkeys(block cipher.Block) (k1, k2 []byte) {
	const rb = 0x87

	l := make([]byte, 16)
	block.Encrypt(l, l)

	k1 = make([]byte, 16)
	shiftLeft(k1, l)
	if l[0]&0x80 != 0 {
		k1[15] ^= rb
	}

	k2 = make([]byte, 16)
	shiftLeft(k2, k1)
	if k1[0]&0x80 != 0 {
		k2[15] ^= rb
	}

	return k1, k2
}

func shiftLeft(dst, src []byte) {
	overflow := byte(0)
	for i := len(src) - 1; i >= 0; i-- {
		newOverflow := src[i] >> 7
		dst[i] = (src[i] << 1) | overflow
		overflow = newOverflow
	}
}

func xorBytes(dst, src []byte) {
	for i := 0; i < len(dst) && i < len(src); i++ {
		dst[i] ^= src[i]
	}
}

// deriveSigningKey derives the SMB 3.x signing key from the session key
// via the SP800-108 counter-mode KDF (MS-SMB2 3.1.4.2). Dialects below
// 3.0 sign with the session key directly.
func deriveSigningKey(sessionKey []byte, dialect Dialect, preauthHash []byte) []byte {
	if dialect < Dialect3_0 {
		return sessionKey
	}

	var label, context []byte
	if dialect >= Dialect3_1_1 && len(preauthHash) > 0 {
		label = []byte("SMBSigningKey\x00")
		context = preauthHash
	} else {
		label = []byte("SMB2AESCMAC\x00")
		context = []byte("SmbSign\x00")
	}

	return kdfSP800108(sessionKey, label, context, 16)
}

// deriveEncryptionKeys derives the SMB 3.x encryption/decryption key
// pair, which use distinct labels (3.1.1) or distinct contexts (3.0.x)
// so client-to-server and server-to-client traffic never share a key
// (MS-SMB2 3.1.4.2).
func deriveEncryptionKeys(sessionKey []byte, dialect Dialect, preauthHash []byte) (encryptKey, decryptKey []byte) {
	if dialect >= Dialect3_1_1 {
		encryptKey = kdfSP800108(sessionKey, []byte("SMBC2SCipherKey\x00"), preauthHash, 16)
		decryptKey = kdfSP800108(sessionKey, []byte("SMBS2CCipherKey\x00"), preauthHash, 16)
		return
	}
	encryptKey = kdfSP800108(sessionKey, []byte("SMB2AESCCM\x00"), []byte("ServerIn \x00"), 16)
	decryptKey = kdfSP800108(sessionKey, []byte("SMB2AESCCM\x00"), []byte("ServerOut\x00"), 16)
	return
}

// kdfSP800108 implements the SP800-108 KDF in counter mode with
// HMAC-SHA256 (MS-SMB2 3.1.4.2), producing lengthBytes of key material.
func kdfSP800108(ki, label, context []byte, lengthBytes int) []byte {
	lengthBits := uint32(lengthBytes * 8)
	result := make([]byte, 0, lengthBytes)
	counter := uint32(1)

	for len(result) < lengthBytes {
		h := hmac.New(sha256.New, ki)

		var counterBytes [4]byte
		binary.BigEndian.PutUint32(counterBytes[:], counter)
		h.Write(counterBytes[:])

		h.Write(label)
		h.Write([]byte{0x00})
		h.Write(context)

		var lengthBitsBytes [4]byte
		binary.BigEndian.PutUint32(lengthBitsBytes[:], lengthBits)
		h.Write(lengthBitsBytes[:])

		result = append(result, h.Sum(nil)...)
		counter++
	}

	return result[:lengthBytes]
}

// initPreauthHash returns the seed value for the SMB 3.1.1 rolling
// pre-authentication integrity hash: 64 zero bytes (MS-SMB2 3.2.5.2).
func initPreauthHash() [64]byte {
	return [64]byte{}
}

// updatePreauthHash folds message into the rolling pre-auth integrity
// hash: H' = SHA-512(H || message). Called after every NEGOTIATE and
// SESSION_SETUP request/response while dialect is 3.1.1.
func updatePreauthHash(current [64]byte, message []byte) [64]byte {
	h := sha512.New()
	h.Write(current[:])
	h.Write(message)
	var next [64]byte
	copy(next[:], h.Sum(nil))
	return next
}
