package server

import "github.com/opcnet-io/uastack/ua"

// chunkGeometry fixes the sizes that shape every chunk of one message:
// security header, cipher block geometry, signature size and the padding
// overhead, all read from the delegate once per encode call.
type chunkGeometry struct {
	securityHeaderSize  int
	plainTextBlockSize  int
	cipherTextBlockSize int
	signatureSize       int
	paddingOverhead     int
	encrypted           bool
	signed              bool
	maxBodySize         int
}

// newChunkGeometry derives the geometry for one encode call. The send buffer
// bounds the chunk; everything else follows from the block sizes.
func newChunkGeometry(parameters ChannelParameters, delegate securityDelegate, ch *SecureChannel) (chunkGeometry, error) {
	g := chunkGeometry{
		securityHeaderSize:  delegate.securityHeaderSize(ch),
		plainTextBlockSize:  delegate.plainTextBlockSize(ch),
		cipherTextBlockSize: delegate.cipherTextBlockSize(ch),
		signatureSize:       delegate.signatureSize(ch),
		encrypted:           delegate.isEncryptionEnabled(ch),
		signed:              delegate.isSigningEnabled(ch),
	}
	if g.encrypted {
		if g.cipherTextBlockSize > 256 {
			g.paddingOverhead = 2
		} else {
			g.paddingOverhead = 1
		}
	}
	if g.plainTextBlockSize < 1 || g.cipherTextBlockSize < 1 {
		return g, ua.BadConfigurationError
	}
	maxChunkSize := int(parameters.LocalSendBufferSize)
	headerSizes := secureMessageHeaderSize + g.securityHeaderSize
	maxBlockCount := (maxChunkSize - headerSizes - g.signatureSize - g.paddingOverhead) / g.cipherTextBlockSize
	g.maxBodySize = g.plainTextBlockSize*maxBlockCount - sequenceHeaderSize
	if g.maxBodySize < 1 {
		return g, ua.BadConfigurationError
	}
	return g, nil
}

// paddingSizeFor returns the padding byte count that rounds the plaintext
// content up to a whole number of blocks. Zero when not encrypting.
func (g chunkGeometry) paddingSizeFor(bodySize int) int {
	if !g.encrypted {
		return 0
	}
	return g.plainTextBlockSize - (sequenceHeaderSize+bodySize+g.signatureSize+g.paddingOverhead)%g.plainTextBlockSize
}

// plainTextContentSize is the sequence header, body, signature, padding and
// padding overhead of one chunk. Invariant: divisible by plainTextBlockSize.
func (g chunkGeometry) plainTextContentSize(bodySize, paddingSize int) int {
	return sequenceHeaderSize + bodySize + g.signatureSize + paddingSize + g.paddingOverhead
}

// chunkSize is the total wire size of a chunk with the given plaintext
// content size.
func (g chunkGeometry) chunkSize(plainTextContentSize int) int {
	return secureMessageHeaderSize + g.securityHeaderSize +
		(plainTextContentSize/g.plainTextBlockSize)*g.cipherTextBlockSize
}
