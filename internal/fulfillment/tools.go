package fulfillment

import "google.golang.org/genai"

// Tool names as exposed to the model.
const (
	ToolCreateOrder        = "create_order"
	ToolCreateBooking      = "create_booking"
	ToolCheckPaymentStatus = "check_payment_status"
	ToolSendImage          = "send_image"
	ToolFindOrder          = "find_order"
)

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func variantsSchema(description string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"description":          description,
		"additionalProperties": map[string]any{"type": "string"},
	}
}

// Declarations returns the tool set offered on every turn.
func Declarations() []*genai.FunctionDeclaration {
	return []*genai.FunctionDeclaration{
		{
			Name: ToolCreateOrder,
			Description: "Créer une commande pour un client. Si un produit a des variantes (taille, couleur...), " +
				"précise-les dans selected_variants, ex: {\"Taille\": \"Petite\"}. Les noms courts suffisent.",
			ParametersJsonSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"items": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"product_name":      str("Nom du produit (sans les variantes)"),
								"quantity":          map[string]any{"type": "integer", "description": "Quantité"},
								"selected_variants": variantsSchema("Variantes choisies par groupe"),
							},
							"required": []string{"product_name", "quantity"},
						},
					},
					"customer_name":    str("Nom complet du client"),
					"customer_phone":   str("Numéro de téléphone"),
					"delivery_address": str("Adresse de livraison complète"),
					"email":            str("Email (requis pour les produits numériques)"),
					"payment_method": map[string]any{
						"type": "string", "enum": []string{"online", "cod"}, "description": "Mode de paiement",
					},
					"notes": str("Instructions spéciales"),
				},
				"required": []string{"items", "customer_name", "customer_phone"},
			},
		},
		{
			Name:        ToolCreateBooking,
			Description: "Créer une réservation pour un service (hôtel, restaurant, salon, consulting...).",
			ParametersJsonSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"booking_type":     str("stay (hôtel), table (restaurant), slot (rendez-vous) ou rental (location)"),
					"service_name":     str("Nom du service dans le catalogue"),
					"selected_variant": str("Variante choisie, obligatoire si le service a des variantes"),
					"selected_supplements": map[string]any{
						"type":        "object",
						"description": "Suppléments choisis, ex: {\"Petit déjeuner\": true}",
					},
					"customer_phone": str("Téléphone du client (avec indicatif)"),
					"customer_name":  str("Nom du client"),
					"preferred_date": str("Date de début (YYYY-MM-DD)"),
					"preferred_time": str("Heure (HH:MM)"),
					"end_date":       str("Date de fin (YYYY-MM-DD) pour stay/rental"),
					"party_size":     map[string]any{"type": "integer", "description": "Nombre de personnes"},
					"location":       str("Lieu du service si pertinent"),
					"notes":          str("Demandes spéciales"),
				},
				"required": []string{"service_name", "customer_phone", "preferred_date"},
			},
		},
		{
			Name:        ToolCheckPaymentStatus,
			Description: "Vérifier le statut d'une commande.",
			ParametersJsonSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"order_id": str("ID de la commande (UUID ou 8 premiers caractères)")},
				"required":   []string{"order_id"},
			},
		},
		{
			Name:        ToolSendImage,
			Description: "Envoyer l'image d'un produit au client.",
			ParametersJsonSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"product_name":      str("Nom du produit"),
					"selected_variants": variantsSchema("Variantes choisies, ex: {\"Couleur\": \"Rouge\"}"),
					"variant_value":     str("Valeur de variante unique (ancien format)"),
				},
				"required": []string{"product_name"},
			},
		},
		{
			Name:        ToolFindOrder,
			Description: "Trouver les dernières commandes d'un client par son numéro de téléphone.",
			ParametersJsonSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"phone_number": str("Numéro de téléphone du client")},
				"required":   []string{"phone_number"},
			},
		},
	}
}
