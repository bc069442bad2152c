package wirefmt

import (
	"encoding/binary"
	"fmt"

	"github.com/summit-p2p/summit/internal/wireerr"
)

// AnnouncementLen is the fixed size of a capability announcement, §6.
const AnnouncementLen = 80

// Announcement is the capability announcement broadcast every
// AnnounceInterval to the discovery multicast group, §3 and §6.
type Announcement struct {
	CapabilityHash [32]byte
	PublicKey      [32]byte
	SessionPort    uint16
	ChunkPort      uint16
	Version        uint32
	Contract       uint8
	// offset 73..79 reserved, zero
}

// Marshal encodes the announcement to its fixed 80-byte wire layout.
func (a *Announcement) Marshal() []byte {
	buf := make([]byte, AnnouncementLen)
	copy(buf[0:32], a.CapabilityHash[:])
	copy(buf[32:64], a.PublicKey[:])
	binary.BigEndian.PutUint16(buf[64:66], a.SessionPort)
	binary.BigEndian.PutUint16(buf[66:68], a.ChunkPort)
	binary.BigEndian.PutUint32(buf[68:72], a.Version)
	buf[72] = a.Contract
	// buf[73:80] left zero (reserved)
	return buf
}

// ParseAnnouncement decodes a datagram into an Announcement. Malformed
// datagrams (wrong size) are reported as MalformedWire so the caller drops
// them silently per §4.2.
func ParseAnnouncement(data []byte) (*Announcement, error) {
	if len(data) != AnnouncementLen {
		return nil, wireerr.New(wireerr.MalformedWire,
			fmt.Sprintf("announcement has %d bytes, want %d", len(data), AnnouncementLen))
	}

	a := &Announcement{}
	copy(a.CapabilityHash[:], data[0:32])
	copy(a.PublicKey[:], data[32:64])
	a.SessionPort = binary.BigEndian.Uint16(data[64:66])
	a.ChunkPort = binary.BigEndian.Uint16(data[66:68])
	a.Version = binary.BigEndian.Uint32(data[68:72])
	a.Contract = data[72]
	return a, nil
}
