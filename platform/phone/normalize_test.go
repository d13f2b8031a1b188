package phone

import "testing"

func TestNormalizeE164UsesIvoryCoastByDefault(t *testing.T) {
	got := NormalizeE164("07 07 07 07 07")
	if got != "+2250707070707" {
		t.Fatalf("expected +2250707070707, got %q", got)
	}
}

func TestNormalizeE164KeepsUnparseableInput(t *testing.T) {
	if got := NormalizeE164("  not a number "); got != "not a number" {
		t.Fatalf("expected trimmed input back, got %q", got)
	}
}

func TestJIDRoundTrip(t *testing.T) {
	jid := ToJID("+225 07 07 07 07 07")
	if jid != "2250707070707@s.whatsapp.net" {
		t.Fatalf("unexpected jid %q", jid)
	}
	if got := FromJID("2250707070707:12@s.whatsapp.net"); got != "2250707070707" {
		t.Fatalf("expected device suffix stripped, got %q", got)
	}
}
