package server

import (
	"crypto/rsa"
	"crypto/sha1"
	"io"
	"net"
	"sync"

	"github.com/djherbis/buffer"
	"github.com/opcnet-io/uastack/ua"
)

// ChannelParameters are the transport limits of a secure channel after the
// Hello/Acknowledge negotiation. The local side describes what this stack
// will accept and send, the remote side what the peer announced.
type ChannelParameters struct {
	LocalReceiveBufferSize  uint32
	LocalSendBufferSize     uint32
	LocalMaxMessageSize     uint32
	LocalMaxChunkCount      uint32
	RemoteReceiveBufferSize uint32
	RemoteSendBufferSize    uint32
	RemoteMaxMessageSize    uint32
	RemoteMaxChunkCount     uint32
}

// SecureChannel holds the security state of one secure channel: negotiated
// policy and mode, certificates and keys for the asymmetric path, and the
// current token for the symmetric path. Encode invocations for a channel are
// serialized by the owning connection; accessors take the read lock because
// token rotation may happen from the receive side.
type SecureChannel struct {
	sync.RWMutex
	channelID                   uint32
	securityPolicyURI           string
	securityPolicy              ua.SecurityPolicy
	securityMode                ua.MessageSecurityMode
	localCertificate            []byte
	localPrivateKey             *rsa.PrivateKey
	remoteCertificate           []byte
	remotePublicKey             *rsa.PublicKey
	remoteCertificateThumbprint []byte
	currentToken                *ua.SecurityToken
	parameters                  ChannelParameters
	encoder                     *ChunkEncoder
	sendingSemaphore            sync.Mutex
	conn                        net.Conn
	closed                      bool
}

// NewSecureChannel initializes a channel in the unsecured state
// (policy None). The open handshake upgrades policy, mode and keys.
func NewSecureChannel(channelID uint32, parameters ChannelParameters, conn net.Conn) *SecureChannel {
	ch := &SecureChannel{
		channelID:         channelID,
		securityPolicyURI: ua.SecurityPolicyURINone,
		securityPolicy:    ua.PolicyNone,
		securityMode:      ua.MessageSecurityModeNone,
		parameters:        parameters,
		conn:              conn,
	}
	ch.encoder = NewChunkEncoder(parameters)
	return ch
}

// ChannelID gets the channel id.
func (ch *SecureChannel) ChannelID() uint32 {
	ch.RLock()
	defer ch.RUnlock()
	return ch.channelID
}

// SecurityPolicyURI returns the negotiated policy URI.
func (ch *SecureChannel) SecurityPolicyURI() string {
	ch.RLock()
	defer ch.RUnlock()
	return ch.securityPolicyURI
}

// SecurityPolicy returns the negotiated policy.
func (ch *SecureChannel) SecurityPolicy() ua.SecurityPolicy {
	ch.RLock()
	defer ch.RUnlock()
	return ch.securityPolicy
}

// SecurityMode returns the negotiated message security mode.
func (ch *SecureChannel) SecurityMode() ua.MessageSecurityMode {
	ch.RLock()
	defer ch.RUnlock()
	return ch.securityMode
}

// LocalCertificate returns the DER bytes of the local certificate.
func (ch *SecureChannel) LocalCertificate() []byte {
	ch.RLock()
	defer ch.RUnlock()
	return ch.localCertificate
}

// LocalPrivateKey returns the local RSA key.
func (ch *SecureChannel) LocalPrivateKey() *rsa.PrivateKey {
	ch.RLock()
	defer ch.RUnlock()
	return ch.localPrivateKey
}

// RemotePublicKey returns the peer's RSA public key.
func (ch *SecureChannel) RemotePublicKey() *rsa.PublicKey {
	ch.RLock()
	defer ch.RUnlock()
	return ch.remotePublicKey
}

// RemoteCertificateThumbprint returns the SHA-1 thumbprint of the peer
// certificate.
func (ch *SecureChannel) RemoteCertificateThumbprint() []byte {
	ch.RLock()
	defer ch.RUnlock()
	return ch.remoteCertificateThumbprint
}

// CurrentToken returns the token keying the symmetric path, or nil before
// the first token is issued.
func (ch *SecureChannel) CurrentToken() *ua.SecurityToken {
	ch.RLock()
	defer ch.RUnlock()
	return ch.currentToken
}

// SetCurrentToken installs a new security token. Chunks already being built
// keep the snapshot they took at security-header time.
func (ch *SecureChannel) SetCurrentToken(token *ua.SecurityToken) {
	ch.Lock()
	ch.currentToken = token
	ch.Unlock()
}

// SetSecurity installs the negotiated policy, mode and certificates during
// channel open.
func (ch *SecureChannel) SetSecurity(policyURI string, mode ua.MessageSecurityMode, localCertificate []byte, localPrivateKey *rsa.PrivateKey, remoteCertificate []byte) error {
	policy, err := ua.PolicyForURI(policyURI)
	if err != nil {
		return err
	}
	ch.Lock()
	defer ch.Unlock()
	ch.securityPolicyURI = policyURI
	ch.securityPolicy = policy
	ch.securityMode = mode
	ch.localCertificate = localCertificate
	ch.localPrivateKey = localPrivateKey
	ch.remoteCertificate = remoteCertificate
	if remoteCertificate != nil {
		thumbprint := sha1.Sum(remoteCertificate)
		ch.remoteCertificateThumbprint = thumbprint[:]
		pub, err := publicKeyFromCertificate(remoteCertificate)
		if err != nil {
			return err
		}
		ch.remotePublicKey = pub
	} else {
		ch.remoteCertificateThumbprint = nil
		ch.remotePublicKey = nil
	}
	return nil
}

// Parameters returns the negotiated transport limits.
func (ch *SecureChannel) Parameters() ChannelParameters {
	ch.RLock()
	defer ch.RUnlock()
	return ch.parameters
}

// Encoder returns the channel's chunk encoder.
func (ch *SecureChannel) Encoder() *ChunkEncoder {
	return ch.encoder
}

// IsAsymmetricSigningEnabled reports whether OPN chunks are signed.
// Asymmetric security is tied to the policy, not the mode: any policy other
// than None signs and encrypts the open exchange.
func (ch *SecureChannel) IsAsymmetricSigningEnabled() bool {
	return ch.SecurityPolicyURI() != ua.SecurityPolicyURINone
}

// IsAsymmetricEncryptionEnabled reports whether OPN chunks are encrypted.
func (ch *SecureChannel) IsAsymmetricEncryptionEnabled() bool {
	return ch.SecurityPolicyURI() != ua.SecurityPolicyURINone
}

// IsSymmetricSigningEnabled reports whether MSG/CLO chunks are signed.
func (ch *SecureChannel) IsSymmetricSigningEnabled() bool {
	mode := ch.SecurityMode()
	return mode == ua.MessageSecurityModeSign || mode == ua.MessageSecurityModeSignAndEncrypt
}

// IsSymmetricEncryptionEnabled reports whether MSG/CLO chunks are encrypted.
func (ch *SecureChannel) IsSymmetricEncryptionEnabled() bool {
	return ch.SecurityMode() == ua.MessageSecurityModeSignAndEncrypt
}

// LocalAsymmetricSignatureSize is the size of an RSA signature produced with
// the local key.
func (ch *SecureChannel) LocalAsymmetricSignatureSize() int {
	if !ch.IsAsymmetricSigningEnabled() {
		return 0
	}
	if priv := ch.LocalPrivateKey(); priv != nil {
		return priv.Size()
	}
	return 0
}

// RemoteAsymmetricCipherTextBlockSize is the wire size of one RSA block
// encrypted for the peer.
func (ch *SecureChannel) RemoteAsymmetricCipherTextBlockSize() int {
	if !ch.IsAsymmetricEncryptionEnabled() {
		return 1
	}
	if pub := ch.RemotePublicKey(); pub != nil {
		return pub.Size()
	}
	return 1
}

// RemoteAsymmetricPlainTextBlockSize is the number of plaintext bytes one
// RSA block carries for the peer, after the scheme's own padding.
func (ch *SecureChannel) RemoteAsymmetricPlainTextBlockSize() int {
	if !ch.IsAsymmetricEncryptionEnabled() {
		return 1
	}
	if pub := ch.RemotePublicKey(); pub != nil {
		return pub.Size() - ch.SecurityPolicy().RSAPaddingSize()
	}
	return 1
}

// SymmetricSignatureSize is the HMAC size of the negotiated policy, or 0
// when the mode does not sign.
func (ch *SecureChannel) SymmetricSignatureSize() int {
	if !ch.IsSymmetricSigningEnabled() {
		return 0
	}
	return ch.SecurityPolicy().SymSignatureSize()
}

// SymmetricCipherTextBlockSize is the AES block size when encrypting, else 1.
func (ch *SecureChannel) SymmetricCipherTextBlockSize() int {
	if !ch.IsSymmetricEncryptionEnabled() {
		return 1
	}
	return ch.SecurityPolicy().SymEncryptionBlockSize()
}

// SymmetricPlainTextBlockSize equals the cipher text block size: AES-CBC
// does not expand.
func (ch *SecureChannel) SymmetricPlainTextBlockSize() int {
	return ch.SymmetricCipherTextBlockSize()
}

// Send encodes message into chunks and writes them to the transport in
// emission order. OPN messages take the asymmetric path, everything else the
// symmetric path.
func (ch *SecureChannel) Send(messageType ua.MessageType, message []byte, requestID uint32) error {
	var chunks [][]byte
	var err error
	if messageType == ua.MessageTypeOpenSecureChannel {
		chunks, err = ch.encoder.EncodeAsymmetric(ch, messageType, message, requestID)
	} else {
		chunks, err = ch.encoder.EncodeSymmetric(ch, messageType, message, requestID)
	}
	if err != nil {
		return err
	}
	return ch.writeChunks(chunks)
}

// Abort sends a one-chunk abort message carrying reason and message, leaving
// the channel itself open.
func (ch *SecureChannel) Abort(reason ua.StatusCode, message string, requestID uint32) error {
	body := buffer.NewPartitionAt(bufferPool)
	defer body.Reset()
	var scratch [4]byte
	putUint32(scratch[:], uint32(reason))
	if _, err := body.Write(scratch[:]); err != nil {
		return ua.BadEncodingError
	}
	putUint32(scratch[:], uint32(len(message)))
	if _, err := body.Write(scratch[:]); err != nil {
		return ua.BadEncodingError
	}
	if _, err := body.Write([]byte(message)); err != nil {
		return ua.BadEncodingError
	}
	payload := make([]byte, body.Len())
	if _, err := io.ReadFull(body, payload); err != nil {
		return ua.BadEncodingError
	}
	chunks, err := ch.encoder.EncodeAbort(ch, payload, requestID)
	if err != nil {
		return err
	}
	return ch.writeChunks(chunks)
}

// writeChunks passes the chunk sequence to the transport, preserving
// emission order.
func (ch *SecureChannel) writeChunks(chunks [][]byte) error {
	ch.sendingSemaphore.Lock()
	defer ch.sendingSemaphore.Unlock()
	if ch.conn == nil {
		return ua.BadSecureChannelClosed
	}
	for _, chunk := range chunks {
		if _, err := ch.conn.Write(chunk); err != nil {
			return ua.BadCommunicationError
		}
	}
	return nil
}

// Close closes the underlying transport.
func (ch *SecureChannel) Close() error {
	ch.Lock()
	defer ch.Unlock()
	if ch.closed {
		return nil
	}
	ch.closed = true
	if ch.conn != nil {
		ch.conn.Close()
	}
	return nil
}

// Closed reports whether the channel transport has been closed.
func (ch *SecureChannel) Closed() bool {
	ch.RLock()
	defer ch.RUnlock()
	return ch.closed
}
