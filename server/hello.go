package server

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/opcnet-io/uastack/ua"
)

// protocolVersion is the OPC UA TCP protocol version this stack speaks.
const protocolVersion uint32 = 0

// transport frame header: 4-byte message type, 4-byte length.
const transportHeaderSize = 8

// Hello is the first frame of every connection: the client's transport
// limits and the endpoint URL it wants to reach.
type Hello struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
	EndpointURL       string
}

// readHello reads and decodes the Hello frame from conn into buf.
func readHello(conn net.Conn, buf []byte) (*Hello, error) {
	if _, err := io.ReadFull(conn, buf[:transportHeaderSize]); err != nil {
		return nil, ua.BadDecodingError
	}
	msgType := binary.LittleEndian.Uint32(buf[0:4])
	msgLen := binary.LittleEndian.Uint32(buf[4:8])
	if msgType != ua.MessageTypeHello {
		return nil, ua.BadTCPMessageTypeInvalid
	}
	// 20 bytes of limits plus at least the URL length field
	if msgLen < transportHeaderSize+24 || msgLen > uint32(len(buf)) {
		return nil, ua.BadTCPMessageTooLarge
	}
	body := buf[transportHeaderSize:msgLen]
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, ua.BadDecodingError
	}

	h := &Hello{
		ProtocolVersion:   binary.LittleEndian.Uint32(body[0:4]),
		ReceiveBufferSize: binary.LittleEndian.Uint32(body[4:8]),
		SendBufferSize:    binary.LittleEndian.Uint32(body[8:12]),
		MaxMessageSize:    binary.LittleEndian.Uint32(body[12:16]),
		MaxChunkCount:     binary.LittleEndian.Uint32(body[16:20]),
	}
	urlLen := int32(binary.LittleEndian.Uint32(body[20:24]))
	if urlLen > 0 {
		if 24+int(urlLen) > len(body) {
			return nil, ua.BadDecodingError
		}
		h.EndpointURL = string(body[24 : 24+urlLen])
	}
	return h, nil
}

// writeAck answers a Hello with the limits the server settled on.
func writeAck(conn net.Conn, parameters ChannelParameters) error {
	var frame [transportHeaderSize + 20]byte
	binary.LittleEndian.PutUint32(frame[0:4], ua.MessageTypeAck)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(frame)))
	binary.LittleEndian.PutUint32(frame[8:12], protocolVersion)
	binary.LittleEndian.PutUint32(frame[12:16], parameters.LocalReceiveBufferSize)
	binary.LittleEndian.PutUint32(frame[16:20], parameters.LocalSendBufferSize)
	binary.LittleEndian.PutUint32(frame[20:24], parameters.LocalMaxMessageSize)
	binary.LittleEndian.PutUint32(frame[24:28], parameters.LocalMaxChunkCount)
	_, err := conn.Write(frame[:])
	return err
}

// writeErrorFrame sends an ERR frame carrying reason and message, the
// transport-level reject used before a channel exists.
func writeErrorFrame(conn net.Conn, reason ua.StatusCode, message string) error {
	frame := make([]byte, transportHeaderSize+8+len(message))
	binary.LittleEndian.PutUint32(frame[0:4], ua.MessageTypeError)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(frame)))
	binary.LittleEndian.PutUint32(frame[8:12], uint32(reason))
	binary.LittleEndian.PutUint32(frame[12:16], uint32(len(message)))
	copy(frame[16:], message)
	_, err := conn.Write(frame)
	return err
}
