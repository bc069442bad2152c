package discovery

import (
	"testing"

	"github.com/summit-p2p/summit/internal/wirefmt"
)

type fixedPorts struct {
	session, chunk uint16
}

func (f fixedPorts) SessionPort() uint16 { return f.session }
func (f fixedPorts) ChunkPort() uint16   { return f.chunk }

func TestAnnouncementRoundTrip(t *testing.T) {
	ann := &wirefmt.Announcement{
		CapabilityHash: [32]byte{1, 2, 3},
		PublicKey:      [32]byte{4, 5, 6},
		SessionPort:    27000,
		ChunkPort:      27001,
		Version:        1,
		Contract:       0,
	}

	data := ann.Marshal()
	if len(data) != wirefmt.AnnouncementLen {
		t.Fatalf("marshaled announcement is %d bytes, want %d", len(data), wirefmt.AnnouncementLen)
	}

	parsed, err := wirefmt.ParseAnnouncement(data)
	if err != nil {
		t.Fatalf("ParseAnnouncement: %v", err)
	}

	if parsed.PublicKey != ann.PublicKey || parsed.SessionPort != ann.SessionPort || parsed.ChunkPort != ann.ChunkPort {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, ann)
	}
}

func TestParseAnnouncementRejectsShortDatagram(t *testing.T) {
	_, err := wirefmt.ParseAnnouncement(make([]byte, 10))
	if err == nil {
		t.Fatal("expected an error for a short datagram")
	}
}
