package email

const (
	subjectNewOrderFmt   = "Nouvelle commande #%s (%s)"
	subjectOrderPaidFmt  = "Paiement reçu pour la commande #%s"
	subjectNewBookingFmt = "Nouvelle réservation : %s"
	subjectStockOutFmt   = "Rupture de stock : %s"
	subjectEscalationFmt = "Un client a besoin de vous (%s)"
)
