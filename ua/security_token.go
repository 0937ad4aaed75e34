package ua

import "time"

// SecurityToken is one keyed epoch within a secure channel. Keys rotate by
// installing a new token without tearing the channel down; the send path
// snapshots the current token per chunk.
type SecurityToken struct {
	ChannelID                  uint32
	TokenID                    uint32
	CreatedAt                  time.Time
	Lifetime                   time.Duration
	LocalSigningKey            []byte
	LocalEncryptingKey         []byte
	LocalInitializationVector  []byte
	RemoteSigningKey           []byte
	RemoteEncryptingKey        []byte
	RemoteInitializationVector []byte
}
