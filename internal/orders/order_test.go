package orders

import (
	"testing"

	"github.com/google/uuid"
)

func TestTotalIsSumOfLines(t *testing.T) {
	items := []Item{
		{ProductName: "Pizza (Large, Cheese)", Quantity: 2, UnitPrice: 8000},
		{ProductName: "Jus", Quantity: 3, UnitPrice: 1000},
	}
	if got := Total(items); got != 19000 {
		t.Fatalf("expected 19000, got %d", got)
	}
}

func TestInitialStatus(t *testing.T) {
	if InitialStatus(PaymentCOD) != StatusPendingDelivery {
		t.Fatalf("expected cod orders to await delivery")
	}
	if InitialStatus(PaymentOnline) != StatusPending {
		t.Fatalf("expected online orders to await payment")
	}
}

func TestParseBookingTypeDefaultsToSlot(t *testing.T) {
	if ParseBookingType("stay") != BookingStay {
		t.Fatalf("expected stay")
	}
	if ParseBookingType("weird") != BookingSlot {
		t.Fatalf("expected slot fallback")
	}
}

func TestShortID(t *testing.T) {
	o := Order{ID: uuid.MustParse("12345678-aaaa-bbbb-cccc-1234567890ab")}
	if o.ShortID() != "12345678" {
		t.Fatalf("unexpected short id %q", o.ShortID())
	}
}
