package server

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"math/big"
	"testing"
	"time"

	"github.com/opcnet-io/uastack/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCertificate(t *testing.T) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "uastack-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	require.NoError(t, err)
	return der, priv
}

func newSymmetricChannel(t *testing.T, mode ua.MessageSecurityMode, sendBufferSize uint32) *SecureChannel {
	t.Helper()
	params := ChannelParameters{
		LocalReceiveBufferSize: sendBufferSize,
		LocalSendBufferSize:    sendBufferSize,
	}
	ch := NewSecureChannel(7, params, nil)
	require.NoError(t, ch.SetSecurity(ua.SecurityPolicyURIBasic128Rsa15, mode, nil, nil, nil))
	policy := ch.SecurityPolicy()
	token := &ua.SecurityToken{
		ChannelID:                 7,
		TokenID:                   42,
		CreatedAt:                 time.Now(),
		LocalSigningKey:           make([]byte, policy.SymSignatureKeySize()),
		LocalEncryptingKey:        make([]byte, policy.SymEncryptionKeySize()),
		LocalInitializationVector: make([]byte, policy.SymEncryptionBlockSize()),
	}
	_, err := rand.Read(token.LocalSigningKey)
	require.NoError(t, err)
	_, err = rand.Read(token.LocalEncryptingKey)
	require.NoError(t, err)
	_, err = rand.Read(token.LocalInitializationVector)
	require.NoError(t, err)
	ch.SetCurrentToken(token)
	return ch
}

// decodeSymmetricChunks undoes the symmetric send path: decrypt, verify the
// HMAC, strip padding, reassemble the body.
func decodeSymmetricChunks(t *testing.T, ch *SecureChannel, chunks [][]byte) []byte {
	t.Helper()
	token := ch.CurrentToken()
	policy := ch.SecurityPolicy()
	var body []byte
	for i, chunk := range chunks {
		chunkLen := binary.LittleEndian.Uint32(chunk[4:8])
		require.Equal(t, int(chunkLen), len(chunk))
		require.Equal(t, ch.ChannelID(), binary.LittleEndian.Uint32(chunk[8:12]))
		require.Equal(t, token.TokenID, binary.LittleEndian.Uint32(chunk[12:16]))

		plainHeaderSize := secureMessageHeaderSize + symmetricSecurityHeaderSize
		content := make([]byte, len(chunk))
		copy(content, chunk)
		if ch.IsSymmetricEncryptionEnabled() {
			block, err := aes.NewCipher(token.LocalEncryptingKey)
			require.NoError(t, err)
			span := content[plainHeaderSize:]
			require.Zero(t, len(span)%block.BlockSize())
			cipher.NewCBCDecrypter(block, token.LocalInitializationVector).CryptBlocks(span, span)
		}

		signatureSize := 0
		if ch.IsSymmetricSigningEnabled() {
			signatureSize = policy.SymSignatureSize()
			sigStart := len(content) - signatureSize
			h := policy.SymHMACFactory(token.LocalSigningKey)
			_, err := h.Write(content[:sigStart])
			require.NoError(t, err)
			require.Equal(t, h.Sum(nil), content[sigStart:], "chunk %d signature", i)
		}

		paddingSize, paddingOverhead := 0, 0
		if ch.IsSymmetricEncryptionEnabled() {
			paddingOverhead = 1
			paddingSize = int(content[len(content)-signatureSize-1])
			// every padding byte carries the padding size
			for j := 0; j <= paddingSize; j++ {
				require.Equal(t, byte(paddingSize), content[len(content)-signatureSize-1-j])
			}
		}

		bodyStart := plainHeaderSize + sequenceHeaderSize
		bodyEnd := len(content) - signatureSize - paddingSize - paddingOverhead
		body = append(body, content[bodyStart:bodyEnd]...)
	}
	return body
}

func TestEncodeSymmetricSignOnlySingleChunk(t *testing.T) {
	ch := newSymmetricChannel(t, ua.MessageSecurityModeSign, 8192)
	message := make([]byte, 100)
	_, err := rand.Read(message)
	require.NoError(t, err)

	chunks, err := ch.Encoder().EncodeSymmetric(ch, ua.MessageTypeMessage, message, 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	chunk := chunks[0]
	// 12 header + 4 token + 8 sequence + 100 body + 20 signature
	assert.Equal(t, 144, len(chunk))
	assert.Equal(t, []byte("MSG"), chunk[0:3])
	assert.Equal(t, ua.ChunkFinal, chunk[3])
	assert.Equal(t, uint32(144), binary.LittleEndian.Uint32(chunk[4:8]))

	assert.Equal(t, message, decodeSymmetricChunks(t, ch, chunks))
}

func TestEncodeSymmetricSignAndEncrypt(t *testing.T) {
	ch := newSymmetricChannel(t, ua.MessageSecurityModeSignAndEncrypt, 8192)
	message := make([]byte, 10000)
	_, err := rand.Read(message)
	require.NoError(t, err)

	chunks, err := ch.Encoder().EncodeSymmetric(ch, ua.MessageTypeMessage, message, 3)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	// maxBodySize = 16*((8192-16-20-1)/16) - 8
	assert.Equal(t, 8192, len(chunks[0]))
	assert.Equal(t, ua.ChunkIntermediate, chunks[0][3])
	assert.Equal(t, ua.ChunkFinal, chunks[1][3])

	for _, chunk := range chunks {
		content := len(chunk) - secureMessageHeaderSize - symmetricSecurityHeaderSize
		assert.Zero(t, content%16, "ciphertext region is whole blocks")
	}

	assert.Equal(t, message, decodeSymmetricChunks(t, ch, chunks))
}

func TestEncodeSymmetricZeroLengthPayload(t *testing.T) {
	ch := newSymmetricChannel(t, ua.MessageSecurityModeSignAndEncrypt, 8192)

	chunks, err := ch.Encoder().EncodeSymmetric(ch, ua.MessageTypeMessage, nil, 9)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, ua.ChunkFinal, chunks[0][3])
	assert.Empty(t, decodeSymmetricChunks(t, ch, chunks))
}

func TestEncodeSymmetricUnsecured(t *testing.T) {
	params := ChannelParameters{LocalSendBufferSize: 8192}
	ch := NewSecureChannel(5, params, nil)

	message := make([]byte, 64)
	chunks, err := ch.Encoder().EncodeSymmetric(ch, ua.MessageTypeMessage, message, 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	// no padding, no signature
	assert.Equal(t, secureMessageHeaderSize+symmetricSecurityHeaderSize+sequenceHeaderSize+64, len(chunks[0]))

	// a zero-length payload still produces one chunk
	chunks, err = ch.Encoder().EncodeSymmetric(ch, ua.MessageTypeMessage, nil, 2)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, secureMessageHeaderSize+symmetricSecurityHeaderSize+sequenceHeaderSize, len(chunks[0]))
	assert.Equal(t, ua.ChunkFinal, chunks[0][3])
}

func TestEncodeFinalityFlags(t *testing.T) {
	ch := newSymmetricChannel(t, ua.MessageSecurityModeSignAndEncrypt, 8192)
	message := make([]byte, 30000)

	chunks, err := ch.Encoder().EncodeSymmetric(ch, ua.MessageTypeMessage, message, 2)
	require.NoError(t, err)
	require.True(t, len(chunks) > 2)
	for _, chunk := range chunks[:len(chunks)-1] {
		assert.Equal(t, ua.ChunkIntermediate, chunk[3])
	}
	assert.Equal(t, ua.ChunkFinal, chunks[len(chunks)-1][3])
}

func TestEncodeSequenceNumbersIncrease(t *testing.T) {
	ch := newSymmetricChannel(t, ua.MessageSecurityModeSign, 8192)

	var last uint32
	for i := 0; i < 5; i++ {
		chunks, err := ch.Encoder().EncodeSymmetric(ch, ua.MessageTypeMessage, make([]byte, 100), uint32(i+1))
		require.NoError(t, err)
		for _, chunk := range chunks {
			seq := binary.LittleEndian.Uint32(chunk[16:20])
			require.True(t, seq > last, "sequence %d after %d", seq, last)
			last = seq
		}
	}
}

func TestEncodeSequenceNumberWrap(t *testing.T) {
	ch := newSymmetricChannel(t, ua.MessageSecurityModeSignAndEncrypt, 8192)
	ch.Encoder().sequenceNumber.value = 4294966270

	// two chunks: 4294966270 and 4294966271
	message := make([]byte, 10000)
	chunks, err := ch.Encoder().EncodeSymmetric(ch, ua.MessageTypeMessage, message, 1)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	token := ch.CurrentToken()
	block, err := aes.NewCipher(token.LocalEncryptingKey)
	require.NoError(t, err)
	seqOf := func(chunk []byte) uint32 {
		span := make([]byte, len(chunk)-16)
		copy(span, chunk[16:])
		cipher.NewCBCDecrypter(block, token.LocalInitializationVector).CryptBlocks(span, span)
		return binary.LittleEndian.Uint32(span[0:4])
	}
	assert.Equal(t, uint32(4294966270), seqOf(chunks[0]))
	assert.Equal(t, uint32(4294966271), seqOf(chunks[1]))

	// next emission wraps to 1
	chunks, err = ch.Encoder().EncodeSymmetric(ch, ua.MessageTypeMessage, make([]byte, 10), 2)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, uint32(1), seqOf(chunks[0]))
}

func TestEncodeGeometryClosure(t *testing.T) {
	// every combination of body size and mode keeps the plaintext content a
	// whole number of blocks
	for _, mode := range []ua.MessageSecurityMode{ua.MessageSecurityModeSign, ua.MessageSecurityModeSignAndEncrypt} {
		ch := newSymmetricChannel(t, mode, 8192)
		for _, size := range []int{0, 1, 15, 16, 17, 100, 8135, 8136, 8137, 20000} {
			chunks, err := ch.Encoder().EncodeSymmetric(ch, ua.MessageTypeMessage, make([]byte, size), 1)
			require.NoError(t, err, "mode %s size %d", mode, size)
			for _, chunk := range chunks {
				require.Equal(t, int(binary.LittleEndian.Uint32(chunk[4:8])), len(chunk))
				require.True(t, len(chunk) <= 8192)
				if mode == ua.MessageSecurityModeSignAndEncrypt {
					content := len(chunk) - secureMessageHeaderSize - symmetricSecurityHeaderSize
					require.Zero(t, content%16)
				}
			}
		}
	}
}

func TestEncodeInvalidConfiguration(t *testing.T) {
	// a send buffer too small for a single block yields a configuration error
	ch := newSymmetricChannel(t, ua.MessageSecurityModeSignAndEncrypt, 48)
	_, err := ch.Encoder().EncodeSymmetric(ch, ua.MessageTypeMessage, make([]byte, 10), 1)
	assert.ErrorIs(t, err, ua.BadConfigurationError)
}

func TestEncodeChunkCountLimit(t *testing.T) {
	params := ChannelParameters{
		LocalSendBufferSize: 8192,
		RemoteMaxChunkCount: 2,
	}
	ch := NewSecureChannel(7, params, nil)
	require.NoError(t, ch.SetSecurity(ua.SecurityPolicyURIBasic128Rsa15, ua.MessageSecurityModeNone, nil, nil, nil))

	// needs three chunks with an 8192 send buffer
	_, err := ch.Encoder().EncodeSymmetric(ch, ua.MessageTypeMessage, make([]byte, 20000), 1)
	assert.ErrorIs(t, err, ua.BadEncodingLimitsExceeded)
}

func TestEncodeAbortSingleChunk(t *testing.T) {
	ch := newSymmetricChannel(t, ua.MessageSecurityModeSign, 8192)

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(ua.BadRequestTooLarge))
	binary.LittleEndian.PutUint32(payload[4:8], 0)

	chunks, err := ch.Encoder().EncodeAbort(ch, payload, 4)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, []byte("MSG"), chunks[0][0:3])
	assert.Equal(t, ua.ChunkAbort, chunks[0][3])
	assert.Equal(t, payload, decodeSymmetricChunks(t, ch, chunks))
}

func TestEncodeAbortTooLargeFails(t *testing.T) {
	ch := newSymmetricChannel(t, ua.MessageSecurityModeSign, 8192)
	_, err := ch.Encoder().EncodeAbort(ch, make([]byte, 20000), 4)
	assert.ErrorIs(t, err, ua.BadEncodingLimitsExceeded)
}

func TestNextRequestID(t *testing.T) {
	e := NewChunkEncoder(ChannelParameters{LocalSendBufferSize: 8192})
	assert.Equal(t, uint32(1), e.NextRequestID())
	assert.Equal(t, uint32(2), e.NextRequestID())
}

func newAsymmetricChannel(t *testing.T, sendBufferSize uint32) (*SecureChannel, *rsa.PrivateKey) {
	t.Helper()
	localCert, localKey := newTestCertificate(t)
	remoteCert, remoteKey := newTestCertificate(t)
	params := ChannelParameters{LocalSendBufferSize: sendBufferSize}
	ch := NewSecureChannel(11, params, nil)
	require.NoError(t, ch.SetSecurity(ua.SecurityPolicyURIBasic128Rsa15, ua.MessageSecurityModeSignAndEncrypt, localCert, localKey, remoteCert))
	return ch, remoteKey
}

// decodeAsymmetricChunks undoes the channel-open send path: per-block RSA
// decrypt with the receiver key, signature check with the sender key, strip
// padding, reassemble the body.
func decodeAsymmetricChunks(t *testing.T, ch *SecureChannel, remoteKey *rsa.PrivateKey, chunks [][]byte) []byte {
	t.Helper()
	policy := ch.SecurityPolicy()
	cipherTextBlockSize := remoteKey.Size()
	var body []byte
	for _, chunk := range chunks {
		require.Equal(t, []byte("OPN"), chunk[0:3])
		require.Equal(t, int(binary.LittleEndian.Uint32(chunk[4:8])), len(chunk))

		headerSize := secureMessageHeaderSize + asymmetricSecurityHeader{
			SecurityPolicyURI:             ch.SecurityPolicyURI(),
			SenderCertificate:             ch.LocalCertificate(),
			ReceiverCertificateThumbprint: ch.RemoteCertificateThumbprint(),
		}.size()

		encrypted := chunk[headerSize:]
		require.Zero(t, len(encrypted)%cipherTextBlockSize)
		plain := make([]byte, 0, len(chunk))
		plain = append(plain, chunk[:headerSize]...)
		for ii := 0; ii < len(encrypted); ii += cipherTextBlockSize {
			block, err := policy.RSADecrypt(remoteKey, encrypted[ii:ii+cipherTextBlockSize])
			require.NoError(t, err)
			plain = append(plain, block...)
		}

		signatureSize := ch.LocalPrivateKey().Size()
		sigStart := len(plain) - signatureSize
		require.NoError(t, policy.RSAVerify(&ch.LocalPrivateKey().PublicKey, plain[:sigStart], plain[sigStart:]))

		paddingSize := int(plain[sigStart-1])
		bodyStart := headerSize + sequenceHeaderSize
		bodyEnd := sigStart - paddingSize - 1
		body = append(body, plain[bodyStart:bodyEnd]...)
	}
	return body
}

func TestEncodeAsymmetricUnsecured(t *testing.T) {
	// a discovery-only open: policy None, nothing signed or encrypted, null
	// certificate fields in the security header
	params := ChannelParameters{LocalSendBufferSize: 8192}
	ch := NewSecureChannel(3, params, nil)

	message := []byte("open request")
	chunks, err := ch.Encoder().EncodeAsymmetric(ch, ua.MessageTypeOpenSecureChannel, message, 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	chunk := chunks[0]
	assert.Equal(t, []byte("OPN"), chunk[0:3])
	headerSize := secureMessageHeaderSize + 12 + len(ua.SecurityPolicyURINone)
	assert.Equal(t, headerSize+sequenceHeaderSize+len(message), len(chunk))
	assert.Equal(t, message, chunk[headerSize+sequenceHeaderSize:])
}

func TestEncodeAsymmetricRoundTrip(t *testing.T) {
	ch, remoteKey := newAsymmetricChannel(t, 8192)
	message := make([]byte, 600)
	_, err := rand.Read(message)
	require.NoError(t, err)

	chunks, err := ch.Encoder().EncodeAsymmetric(ch, ua.MessageTypeOpenSecureChannel, message, 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, ua.ChunkFinal, chunks[0][3])

	assert.Equal(t, message, decodeAsymmetricChunks(t, ch, remoteKey, chunks))
}

func TestEncodeAsymmetricMultiChunk(t *testing.T) {
	ch, remoteKey := newAsymmetricChannel(t, 8192)
	message := make([]byte, 12000)
	_, err := rand.Read(message)
	require.NoError(t, err)

	chunks, err := ch.Encoder().EncodeAsymmetric(ch, ua.MessageTypeOpenSecureChannel, message, 1)
	require.NoError(t, err)
	require.True(t, len(chunks) > 1)
	for i, chunk := range chunks {
		if i < len(chunks)-1 {
			assert.Equal(t, ua.ChunkIntermediate, chunk[3])
		} else {
			assert.Equal(t, ua.ChunkFinal, chunk[3])
		}
		// ciphertext expansion: every 245-byte plaintext block becomes a
		// 256-byte cipher block
		headerSize := secureMessageHeaderSize + asymmetricSecurityHeader{
			SecurityPolicyURI:             ch.SecurityPolicyURI(),
			SenderCertificate:             ch.LocalCertificate(),
			ReceiverCertificateThumbprint: ch.RemoteCertificateThumbprint(),
		}.size()
		assert.Zero(t, (len(chunk)-headerSize)%256)
	}

	assert.Equal(t, message, decodeAsymmetricChunks(t, ch, remoteKey, chunks))
}

func TestEncodeAsymmetricSecurityHeaderContent(t *testing.T) {
	ch, _ := newAsymmetricChannel(t, 8192)
	chunks, err := ch.Encoder().EncodeAsymmetric(ch, ua.MessageTypeOpenSecureChannel, make([]byte, 10), 1)
	require.NoError(t, err)
	chunk := chunks[0]

	uri := ch.SecurityPolicyURI()
	uriLen := binary.LittleEndian.Uint32(chunk[12:16])
	require.Equal(t, uint32(len(uri)), uriLen)
	assert.Equal(t, uri, string(chunk[16:16+uriLen]))

	certStart := 16 + int(uriLen)
	certLen := binary.LittleEndian.Uint32(chunk[certStart : certStart+4])
	require.Equal(t, uint32(len(ch.LocalCertificate())), certLen)
	assert.Equal(t, ch.LocalCertificate(), chunk[certStart+4:certStart+4+int(certLen)])

	thumbStart := certStart + 4 + int(certLen)
	thumbLen := binary.LittleEndian.Uint32(chunk[thumbStart : thumbStart+4])
	require.Equal(t, uint32(20), thumbLen)
	assert.Equal(t, ch.RemoteCertificateThumbprint(), chunk[thumbStart+4:thumbStart+4+20])
}

func TestEncodeTokenRotation(t *testing.T) {
	// a message encoded before a token rollover decodes against the old
	// keys, one encoded after against the new keys
	ch := newSymmetricChannel(t, ua.MessageSecurityModeSignAndEncrypt, 8192)
	first := ch.CurrentToken()

	message := make([]byte, 500)
	_, err := rand.Read(message)
	require.NoError(t, err)
	before, err := ch.Encoder().EncodeSymmetric(ch, ua.MessageTypeMessage, message, 1)
	require.NoError(t, err)

	rotated := &ua.SecurityToken{
		TokenID:                   first.TokenID + 1,
		LocalSigningKey:           make([]byte, len(first.LocalSigningKey)),
		LocalEncryptingKey:        make([]byte, len(first.LocalEncryptingKey)),
		LocalInitializationVector: make([]byte, len(first.LocalInitializationVector)),
	}
	_, err = rand.Read(rotated.LocalSigningKey)
	require.NoError(t, err)
	_, err = rand.Read(rotated.LocalEncryptingKey)
	require.NoError(t, err)
	_, err = rand.Read(rotated.LocalInitializationVector)
	require.NoError(t, err)
	ch.SetCurrentToken(rotated)

	after, err := ch.Encoder().EncodeSymmetric(ch, ua.MessageTypeMessage, message, 2)
	require.NoError(t, err)
	assert.Equal(t, message, decodeSymmetricChunks(t, ch, after))

	ch.SetCurrentToken(first)
	assert.Equal(t, message, decodeSymmetricChunks(t, ch, before))
}
