package server

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/opcnet-io/uastack/ua"
)

// chunkKeys is the key material snapshot for one chunk. The symmetric
// delegate takes it from the channel's current token while encoding the
// security header, and the same snapshot signs and encrypts that chunk even
// if the token rolls over mid-message.
type chunkKeys struct {
	tokenID       uint32
	signingKey    []byte
	encryptingKey []byte
	iv            []byte
}

// securityDelegate abstracts the parts of chunk construction that differ
// between the asymmetric (channel open) and symmetric (steady state) paths.
type securityDelegate interface {
	securityHeaderSize(ch *SecureChannel) int
	plainTextBlockSize(ch *SecureChannel) int
	cipherTextBlockSize(ch *SecureChannel) int
	signatureSize(ch *SecureChannel) int
	isSigningEnabled(ch *SecureChannel) bool
	isEncryptionEnabled(ch *SecureChannel) bool

	// encodeSecurityHeader writes the security header and returns the key
	// snapshot to use for the rest of this chunk.
	encodeSecurityHeader(ch *SecureChannel, w *ua.Writer) (chunkKeys, error)

	// signChunk signs everything written so far, from the start of the
	// chunk.
	signChunk(ch *SecureChannel, keys chunkKeys, chunk []byte) ([]byte, error)

	// encryptChunk encrypts plain from headerSize to the end and returns the
	// wire chunk. The result may alias plain (in-place symmetric
	// encryption) or be a new buffer (asymmetric expansion).
	encryptChunk(ch *SecureChannel, keys chunkKeys, plain []byte, headerSize int, g chunkGeometry) ([]byte, error)
}

// asymmetricDelegate builds OPN chunks: RSA signature with the local key,
// block-wise RSA encryption for the remote key.
type asymmetricDelegate struct{}

func (asymmetricDelegate) securityHeaderSize(ch *SecureChannel) int {
	header := asymmetricSecurityHeader{
		SecurityPolicyURI:             ch.SecurityPolicyURI(),
		SenderCertificate:             ch.LocalCertificate(),
		ReceiverCertificateThumbprint: ch.RemoteCertificateThumbprint(),
	}
	return header.size()
}

func (asymmetricDelegate) plainTextBlockSize(ch *SecureChannel) int {
	return ch.RemoteAsymmetricPlainTextBlockSize()
}

func (asymmetricDelegate) cipherTextBlockSize(ch *SecureChannel) int {
	return ch.RemoteAsymmetricCipherTextBlockSize()
}

func (asymmetricDelegate) signatureSize(ch *SecureChannel) int {
	return ch.LocalAsymmetricSignatureSize()
}

func (asymmetricDelegate) isSigningEnabled(ch *SecureChannel) bool {
	return ch.IsAsymmetricSigningEnabled()
}

func (asymmetricDelegate) isEncryptionEnabled(ch *SecureChannel) bool {
	return ch.IsAsymmetricEncryptionEnabled()
}

func (asymmetricDelegate) encodeSecurityHeader(ch *SecureChannel, w *ua.Writer) (chunkKeys, error) {
	header := asymmetricSecurityHeader{
		SecurityPolicyURI:             ch.SecurityPolicyURI(),
		SenderCertificate:             ch.LocalCertificate(),
		ReceiverCertificateThumbprint: ch.RemoteCertificateThumbprint(),
	}
	if err := header.encode(w); err != nil {
		return chunkKeys{}, ua.BadEncodingError
	}
	return chunkKeys{}, nil
}

func (asymmetricDelegate) signChunk(ch *SecureChannel, _ chunkKeys, chunk []byte) ([]byte, error) {
	signature, err := ch.SecurityPolicy().RSASign(ch.LocalPrivateKey(), chunk)
	if err != nil {
		return nil, ua.BadSecurityChecksFailed
	}
	return signature, nil
}

// encryptChunk encrypts block by block: RSA operates per block, and each
// plaintext block expands to cipherTextBlockSize bytes in a fresh buffer.
func (asymmetricDelegate) encryptChunk(ch *SecureChannel, _ chunkKeys, plain []byte, headerSize int, g chunkGeometry) ([]byte, error) {
	pub := ch.RemotePublicKey()
	if pub == nil {
		return nil, ua.BadSecurityChecksFailed
	}
	content := plain[headerSize:]
	if len(content)%g.plainTextBlockSize != 0 {
		return nil, ua.BadInternalError
	}
	blockCount := len(content) / g.plainTextBlockSize
	out := make([]byte, headerSize+blockCount*g.cipherTextBlockSize)
	copy(out, plain[:headerSize])
	policy := ch.SecurityPolicy()
	jj := headerSize
	for ii := 0; ii < blockCount; ii++ {
		block := content[ii*g.plainTextBlockSize : (ii+1)*g.plainTextBlockSize]
		cipherText, err := policy.RSAEncrypt(pub, block)
		if err != nil {
			return nil, ua.BadSecurityChecksFailed
		}
		if len(cipherText) != g.cipherTextBlockSize {
			return nil, ua.BadEncodingError
		}
		jj += copy(out[jj:], cipherText)
	}
	return out, nil
}

// symmetricDelegate builds MSG and CLO chunks: HMAC signature and one-pass
// AES-CBC encryption with the keys of the current token.
type symmetricDelegate struct{}

func (symmetricDelegate) securityHeaderSize(*SecureChannel) int {
	return symmetricSecurityHeaderSize
}

func (symmetricDelegate) plainTextBlockSize(ch *SecureChannel) int {
	return ch.SymmetricPlainTextBlockSize()
}

func (symmetricDelegate) cipherTextBlockSize(ch *SecureChannel) int {
	return ch.SymmetricCipherTextBlockSize()
}

func (symmetricDelegate) signatureSize(ch *SecureChannel) int {
	return ch.SymmetricSignatureSize()
}

func (symmetricDelegate) isSigningEnabled(ch *SecureChannel) bool {
	return ch.IsSymmetricSigningEnabled()
}

func (symmetricDelegate) isEncryptionEnabled(ch *SecureChannel) bool {
	return ch.IsSymmetricEncryptionEnabled()
}

// encodeSecurityHeader writes the current token id and snapshots that
// token's keys, so a token rollover between chunks never splits keys within
// one chunk.
func (symmetricDelegate) encodeSecurityHeader(ch *SecureChannel, w *ua.Writer) (chunkKeys, error) {
	var keys chunkKeys
	if token := ch.CurrentToken(); token != nil {
		keys = chunkKeys{
			tokenID:       token.TokenID,
			signingKey:    token.LocalSigningKey,
			encryptingKey: token.LocalEncryptingKey,
			iv:            token.LocalInitializationVector,
		}
	}
	header := symmetricSecurityHeader{TokenID: keys.tokenID}
	if err := header.encode(w); err != nil {
		return chunkKeys{}, ua.BadEncodingError
	}
	return keys, nil
}

func (symmetricDelegate) signChunk(ch *SecureChannel, keys chunkKeys, chunk []byte) ([]byte, error) {
	h := ch.SecurityPolicy().SymHMACFactory(keys.signingKey)
	if h == nil {
		return nil, ua.BadSecurityChecksFailed
	}
	if _, err := h.Write(chunk); err != nil {
		return nil, ua.BadSecurityChecksFailed
	}
	return h.Sum(nil), nil
}

// encryptChunk encrypts the whole content region in place: AES-CBC does not
// expand, so ciphertext length equals plaintext length.
func (symmetricDelegate) encryptChunk(_ *SecureChannel, keys chunkKeys, plain []byte, headerSize int, g chunkGeometry) ([]byte, error) {
	block, err := aes.NewCipher(keys.encryptingKey)
	if err != nil {
		return nil, ua.BadSecurityChecksFailed
	}
	content := plain[headerSize:]
	if len(content)%block.BlockSize() != 0 {
		return nil, ua.BadInternalError
	}
	encrypter := cipher.NewCBCEncrypter(block, keys.iv)
	encrypter.CryptBlocks(content, content)
	return plain, nil
}
