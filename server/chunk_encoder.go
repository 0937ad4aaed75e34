package server

import (
	"sync/atomic"

	"github.com/opcnet-io/uastack/ua"
)

// ChunkEncoder fragments outgoing secure-channel messages into wire chunks:
// sequence numbering, padding, signing and encryption under either the
// asymmetric (channel open) or symmetric (steady state) security path.
//
// One encoder belongs to one channel. Encode calls for a channel must be
// serialized by the caller; chunk emission order is sequence number order.
type ChunkEncoder struct {
	parameters     ChannelParameters
	sequenceNumber *sequenceNumber
	requestID      uint64

	asymmetric asymmetricDelegate
	symmetric  symmetricDelegate
}

// NewChunkEncoder initializes an encoder for a channel with the given
// negotiated parameters.
func NewChunkEncoder(parameters ChannelParameters) *ChunkEncoder {
	return &ChunkEncoder{
		parameters:     parameters,
		sequenceNumber: newSequenceNumber(),
	}
}

// NextRequestID issues the next outbound request id, starting at 1.
func (e *ChunkEncoder) NextRequestID() uint32 {
	return uint32(atomic.AddUint64(&e.requestID, 1))
}

// EncodeAsymmetric encodes message under the channel-open security path.
func (e *ChunkEncoder) EncodeAsymmetric(ch *SecureChannel, messageType ua.MessageType, message []byte, requestID uint32) ([][]byte, error) {
	return e.encode(e.asymmetric, ch, messageType, message, requestID, ua.ChunkFinal)
}

// EncodeSymmetric encodes message under the steady-state security path.
func (e *ChunkEncoder) EncodeSymmetric(ch *SecureChannel, messageType ua.MessageType, message []byte, requestID uint32) ([][]byte, error) {
	return e.encode(e.symmetric, ch, messageType, message, requestID, ua.ChunkFinal)
}

// EncodeAbort encodes a one-chunk abort message carrying a status-code
// payload, using the symmetric path.
func (e *ChunkEncoder) EncodeAbort(ch *SecureChannel, message []byte, requestID uint32) ([][]byte, error) {
	return e.encode(e.symmetric, ch, ua.MessageTypeMessage, message, requestID, ua.ChunkAbort)
}

func (e *ChunkEncoder) encode(delegate securityDelegate, ch *SecureChannel, messageType ua.MessageType, message []byte, requestID uint32, final byte) ([][]byte, error) {
	g, err := newChunkGeometry(e.parameters, delegate, ch)
	if err != nil {
		return nil, err
	}
	if max := int(e.parameters.RemoteMaxMessageSize); max > 0 && len(message) > max {
		return nil, ua.BadEncodingLimitsExceeded
	}

	var chunks [][]byte
	remaining := message
	for {
		bodySize := len(remaining)
		if bodySize > g.maxBodySize {
			bodySize = g.maxBodySize
		}
		paddingSize := g.paddingSizeFor(bodySize)
		plainTextContentSize := g.plainTextContentSize(bodySize, paddingSize)
		if plainTextContentSize%g.plainTextBlockSize != 0 {
			return nil, ua.BadInternalError
		}
		chunkSize := g.chunkSize(plainTextContentSize)
		plainSize := secureMessageHeaderSize + g.securityHeaderSize + plainTextContentSize

		w := ua.NewWriter(make([]byte, plainSize))

		chunkFinal := final
		if len(remaining) > bodySize {
			chunkFinal = ua.ChunkIntermediate
			if final == ua.ChunkAbort {
				// an abort is a single chunk by contract
				return nil, ua.BadEncodingLimitsExceeded
			}
		}
		messageHeader := secureMessageHeader{
			MessageType: messageType,
			Final:       chunkFinal,
			ChunkLength: uint32(chunkSize),
			ChannelID:   ch.ChannelID(),
		}
		if err := messageHeader.encode(w); err != nil {
			return nil, ua.BadEncodingError
		}

		keys, err := delegate.encodeSecurityHeader(ch, w)
		if err != nil {
			return nil, err
		}
		if w.Len() != secureMessageHeaderSize+g.securityHeaderSize {
			return nil, ua.BadEncodingError
		}

		seqHeader := sequenceHeader{
			SequenceNumber: e.sequenceNumber.next(),
			RequestID:      requestID,
		}
		if err := seqHeader.encode(w); err != nil {
			return nil, ua.BadEncodingError
		}

		if _, err := w.Write(remaining[:bodySize]); err != nil {
			return nil, ua.BadEncodingError
		}
		remaining = remaining[bodySize:]

		if g.encrypted {
			if err := writePadding(w, paddingSize, g.paddingOverhead); err != nil {
				return nil, ua.BadEncodingError
			}
		}

		if g.signed {
			signature, err := delegate.signChunk(ch, keys, w.Bytes())
			if err != nil {
				return nil, err
			}
			if len(signature) != g.signatureSize {
				return nil, ua.BadEncodingError
			}
			if _, err := w.Write(signature); err != nil {
				return nil, ua.BadEncodingError
			}
		}

		chunk := w.Bytes()
		if g.encrypted {
			chunk, err = delegate.encryptChunk(ch, keys, chunk, secureMessageHeaderSize+g.securityHeaderSize, g)
			if err != nil {
				return nil, err
			}
		}
		if len(chunk) != chunkSize {
			return nil, ua.BadEncodingError
		}
		chunks = append(chunks, chunk)

		if max := int(e.parameters.RemoteMaxChunkCount); max > 0 && len(chunks) > max {
			return nil, ua.BadEncodingLimitsExceeded
		}
		if len(remaining) == 0 {
			return chunks, nil
		}
	}
}

// writePadding writes the padding length byte, paddingSize copies of it,
// and, for two-byte overhead, the extra padding size byte holding the high
// half of the length.
func writePadding(w *ua.Writer, paddingSize, paddingOverhead int) error {
	paddingByte := byte(paddingSize & 0xFF)
	if err := w.WriteByte(paddingByte); err != nil {
		return err
	}
	for i := 0; i < paddingSize; i++ {
		if err := w.WriteByte(paddingByte); err != nil {
			return err
		}
	}
	if paddingOverhead == 2 {
		return w.WriteByte(byte(paddingSize >> 8))
	}
	return nil
}
