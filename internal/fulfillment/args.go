package fulfillment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// variantMap is a group→label selection. Models sometimes send numbers or
// booleans as values; everything is kept as text.
type variantMap map[string]string

func (m *variantMap) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = nil
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(variantMap, len(raw))
	for k, v := range raw {
		var s string
		switch val := v.(type) {
		case nil:
			continue
		case string:
			s = val
		case float64:
			s = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			s = fmt.Sprint(val)
		}
		if s = strings.TrimSpace(s); s != "" {
			out[strings.TrimSpace(k)] = s
		}
	}
	*m = out
	return nil
}

// flexInt accepts 2, 2.0 and "2".
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if text == "" || text == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", text)
	}
	*n = flexInt(math.Round(f))
	return nil
}

// supplementSet is the booking tool's {"option": true} selection.
type supplementSet map[string]bool

func (s *supplementSet) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		var list []string
		if errList := json.Unmarshal(data, &list); errList != nil {
			return err
		}
		out := make(supplementSet, len(list))
		for _, name := range list {
			out[name] = true
		}
		*s = out
		return nil
	}
	out := make(supplementSet, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case bool:
			out[k] = val
		case string:
			out[k] = strings.EqualFold(val, "true") || strings.EqualFold(val, "oui")
		case float64:
			out[k] = val != 0
		}
	}
	*s = out
	return nil
}

type orderItemArgs struct {
	ProductName      string     `json:"product_name" validate:"required"`
	Quantity         flexInt    `json:"quantity" validate:"gte=0,lte=1000"`
	SelectedVariants variantMap `json:"selected_variants,omitempty"`
}

type createOrderArgs struct {
	Items           []orderItemArgs `json:"items" validate:"required,min=1,dive"`
	CustomerName    string          `json:"customer_name" validate:"required"`
	CustomerPhone   string          `json:"customer_phone" validate:"required"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	Email           string          `json:"email,omitempty" validate:"omitempty,email"`
	PaymentMethod   string          `json:"payment_method,omitempty" validate:"omitempty,oneof=online cod"`
	Notes           string          `json:"notes,omitempty"`
}

type createBookingArgs struct {
	BookingType         string        `json:"booking_type,omitempty"`
	ServiceName         string        `json:"service_name" validate:"required"`
	SelectedVariant     string        `json:"selected_variant,omitempty"`
	SelectedSupplements supplementSet `json:"selected_supplements,omitempty"`
	CustomerPhone       string        `json:"customer_phone" validate:"required"`
	CustomerName        string        `json:"customer_name,omitempty"`
	PreferredDate       string        `json:"preferred_date" validate:"required,datetime=2006-01-02"`
	PreferredTime       string        `json:"preferred_time,omitempty" validate:"omitempty,datetime=15:04"`
	EndDate             string        `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	PartySize           flexInt       `json:"party_size,omitempty" validate:"gte=0,lte=500"`
	Location            string        `json:"location,omitempty"`
	Notes               string        `json:"notes,omitempty"`
}

type checkPaymentArgs struct {
	OrderID string `json:"order_id" validate:"required"`
}

type sendImageArgs struct {
	ProductName      string     `json:"product_name" validate:"required"`
	SelectedVariants variantMap `json:"selected_variants,omitempty"`
	VariantValue     string     `json:"variant_value,omitempty"`
}

type findOrderArgs struct {
	PhoneNumber string `json:"phone_number" validate:"required"`
}

// decodeArgs maps a tool call's loosely typed arguments onto dst.
func decodeArgs(args map[string]any, dst any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
