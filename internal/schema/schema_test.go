package schema

import "testing"

func alwaysValid(payload []byte) bool { return true }

func TestLookupKnownSchemas(t *testing.T) {
	r := NewRegistry(alwaysValid, alwaysValid, alwaysValid)

	names := []string{"test.ping", "text.message", "file.chunk", "file.data", "file.metadata", "compute.request", "compute.result"}
	for _, name := range names {
		id := idFor(name)
		s, ok := r.Lookup(id)
		if !ok {
			t.Fatalf("schema %q not registered", name)
		}
		if s.Name != name {
			t.Fatalf("schema for id of %q resolved to %q", name, s.Name)
		}
	}
}

func TestMessageValidatorEnforcesLength(t *testing.T) {
	r := NewRegistry(alwaysValid, alwaysValid, alwaysValid)
	s, _ := r.Lookup(idFor("text.message"))

	if !s.Validator([]byte("hello")) {
		t.Fatal("short UTF-8 message should validate")
	}
	oversized := make([]byte, maxMessageBytes+1)
	if s.Validator(oversized) {
		t.Fatal("oversized message should not validate")
	}
}

func TestPingValidatorRejectsInvalidUTF8(t *testing.T) {
	r := NewRegistry(alwaysValid, alwaysValid, alwaysValid)
	s, _ := r.Lookup(idFor("test.ping"))

	if s.Validator([]byte{0xff, 0xfe}) {
		t.Fatal("invalid UTF-8 should not validate as test.ping")
	}
}

func idFor(name string) [32]byte {
	r := NewRegistry(alwaysValid, alwaysValid, alwaysValid)
	for _, s := range r.All() {
		if s.Name == name {
			return s.ID
		}
	}
	return [32]byte{}
}
