package email

import (
	"strings"
	"testing"
)

func TestRenderNewOrderEscapesCustomerInput(t *testing.T) {
	msg, err := RenderNewOrder(NewOrderData{
		StoreName:     "Chez Awa",
		OrderRef:      "a1b2c3d4",
		CustomerName:  "<b>Awa</b>",
		CustomerPhone: "+2250707070707",
		ItemsSummary:  "2x Pizza",
		Total:         "10 000",
		PaymentMethod: "cod",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Subject != "Nouvelle commande #a1b2c3d4 (<b>Awa</b>)" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if strings.Contains(msg.HTML, "<b>Awa</b>") || !strings.Contains(msg.HTML, "&lt;b&gt;Awa&lt;/b&gt;") {
		t.Fatalf("customer input must be escaped:\n%s", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "10 000 FCFA") {
		t.Fatalf("total missing:\n%s", msg.HTML)
	}
}

func TestEveryTemplateRenders(t *testing.T) {
	renders := map[string]func() (Message, error){
		"paid":       func() (Message, error) { return RenderOrderPaid(OrderPaidData{OrderRef: "x", Total: "1"}) },
		"booking":    func() (Message, error) { return RenderNewBooking(NewBookingData{ServiceName: "Coupe"}) },
		"stock":      func() (Message, error) { return RenderStockOut(StockOutData{ProductName: "Pizza"}) },
		"escalation": func() (Message, error) { return RenderEscalation(EscalationData{ContactPhone: "+225"}) },
	}
	for name, fn := range renders {
		msg, err := fn()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if msg.Subject == "" || !strings.Contains(msg.HTML, "</html>") {
			t.Fatalf("%s: incomplete message %+v", name, msg)
		}
	}
}
