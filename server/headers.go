package server

import (
	"encoding/binary"

	"github.com/opcnet-io/uastack/ua"
)

// Fixed header sizes on the secure-channel wire.
const (
	secureMessageHeaderSize     = 12
	symmetricSecurityHeaderSize = 4
	sequenceHeaderSize          = 8
)

func writeUint32(w *ua.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// writeByteString writes a length-prefixed byte string. A nil value is
// encoded with the -1 length sentinel and no content bytes.
func writeByteString(w *ua.Writer, b []byte) error {
	if b == nil {
		return writeUint32(w, 0xFFFFFFFF)
	}
	if err := writeUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func writeString(w *ua.Writer, s string) error {
	if s == "" {
		return writeUint32(w, 0xFFFFFFFF)
	}
	return writeByteString(w, []byte(s))
}

// secureMessageHeader frames every chunk: 3-byte message type tag, finality
// marker, total chunk length, channel id.
type secureMessageHeader struct {
	MessageType ua.MessageType
	Final       byte
	ChunkLength uint32
	ChannelID   uint32
}

func (h secureMessageHeader) encode(w *ua.Writer) error {
	tag := h.MessageType.Tag()
	if _, err := w.Write(tag[:]); err != nil {
		return err
	}
	if err := w.WriteByte(h.Final); err != nil {
		return err
	}
	if err := writeUint32(w, h.ChunkLength); err != nil {
		return err
	}
	return writeUint32(w, h.ChannelID)
}

// asymmetricSecurityHeader is carried by OPN chunks: the negotiated policy
// URI, the sender certificate and the SHA-1 thumbprint of the receiver
// certificate, each length-prefixed.
type asymmetricSecurityHeader struct {
	SecurityPolicyURI             string
	SenderCertificate             []byte
	ReceiverCertificateThumbprint []byte
}

// size is the encoded size: three 4-byte length fields plus content.
// Absent fields contribute only their length sentinel.
func (h asymmetricSecurityHeader) size() int {
	return 12 + len(h.SecurityPolicyURI) + len(h.SenderCertificate) + len(h.ReceiverCertificateThumbprint)
}

func (h asymmetricSecurityHeader) encode(w *ua.Writer) error {
	if err := writeString(w, h.SecurityPolicyURI); err != nil {
		return err
	}
	if err := writeByteString(w, h.SenderCertificate); err != nil {
		return err
	}
	return writeByteString(w, h.ReceiverCertificateThumbprint)
}

// symmetricSecurityHeader is carried by MSG and CLO chunks.
type symmetricSecurityHeader struct {
	TokenID uint32
}

func (h symmetricSecurityHeader) encode(w *ua.Writer) error {
	return writeUint32(w, h.TokenID)
}

// sequenceHeader follows the security header in every chunk.
type sequenceHeader struct {
	SequenceNumber uint32
	RequestID      uint32
}

func (h sequenceHeader) encode(w *ua.Writer) error {
	if err := writeUint32(w, h.SequenceNumber); err != nil {
		return err
	}
	return writeUint32(w, h.RequestID)
}
