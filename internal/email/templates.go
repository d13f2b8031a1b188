package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

// Message is a rendered e-mail ready for a Sender.
type Message struct {
	Subject string
	HTML    string
}

type baseEmailData struct {
	Title      string
	Heading    string
	Subheading string
	CTALabel   string
	CTAURL     string
}

// NewOrderData fills the new order notification. Total is preformatted.
type NewOrderData struct {
	StoreName     string
	OrderRef      string
	CustomerName  string
	CustomerPhone string
	ItemsSummary  string
	Total         string
	PaymentMethod string
}

type OrderPaidData struct {
	OrderRef string
	Total    string
}

type NewBookingData struct {
	StoreName     string
	ServiceName   string
	CustomerPhone string
	StartTime     string
}

type StockOutData struct {
	ProductName string
}

type EscalationData struct {
	ContactPhone string
	Sentiment    string
	LastMessage  string
}

type newOrderEmailData struct {
	baseEmailData
	NewOrderData
}

type orderPaidEmailData struct {
	baseEmailData
	OrderPaidData
}

type newBookingEmailData struct {
	baseEmailData
	NewBookingData
}

type stockOutEmailData struct {
	baseEmailData
	StockOutData
}

type escalationEmailData struct {
	baseEmailData
	EscalationData
}

func RenderNewOrder(d NewOrderData) (Message, error) {
	return render("new_order.html", fmt.Sprintf(subjectNewOrderFmt, d.OrderRef, d.CustomerName), newOrderEmailData{
		baseEmailData: baseEmailData{Title: "Nouvelle commande", Heading: "Nouvelle commande", Subheading: d.Total + " FCFA"},
		NewOrderData:  d,
	})
}

func RenderOrderPaid(d OrderPaidData) (Message, error) {
	return render("order_paid.html", fmt.Sprintf(subjectOrderPaidFmt, d.OrderRef), orderPaidEmailData{
		baseEmailData: baseEmailData{Title: "Paiement reçu", Heading: "Paiement reçu"},
		OrderPaidData: d,
	})
}

func RenderNewBooking(d NewBookingData) (Message, error) {
	return render("new_booking.html", fmt.Sprintf(subjectNewBookingFmt, d.ServiceName), newBookingEmailData{
		baseEmailData:  baseEmailData{Title: "Nouvelle réservation", Heading: "Nouvelle réservation"},
		NewBookingData: d,
	})
}

func RenderStockOut(d StockOutData) (Message, error) {
	return render("stock_out.html", fmt.Sprintf(subjectStockOutFmt, d.ProductName), stockOutEmailData{
		baseEmailData: baseEmailData{Title: "Rupture de stock", Heading: "Rupture de stock"},
		StockOutData:  d,
	})
}

func RenderEscalation(d EscalationData) (Message, error) {
	return render("escalation.html", fmt.Sprintf(subjectEscalationFmt, d.ContactPhone), escalationEmailData{
		baseEmailData:  baseEmailData{Title: "Conversation à reprendre", Heading: "Conversation à reprendre"},
		EscalationData: d,
	})
}

func render(name, subject string, data any) (Message, error) {
	html, err := renderEmailTemplate(name, data)
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: subject, HTML: html}, nil
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}
