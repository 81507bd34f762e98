package util

import (
	"crypto/rand"
	"encoding/hex"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewPeerID returns a short identifier suitable for WebRTC peer handles.
func NewPeerID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return "peer_" + hex.EncodeToString(bytes)
}
