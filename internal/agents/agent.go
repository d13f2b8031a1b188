// Package agents models the tenant ("agent") that owns a catalog, a chat
// session and a credit balance.
package agents

import (
	"github.com/google/uuid"
)

// PaymentMode selects how online orders are paid.
type PaymentMode string

const (
	PaymentCashOnDelivery    PaymentMode = "cod"
	PaymentMobileMoneyDirect PaymentMode = "mobile_money_direct"
	PaymentGateway           PaymentMode = "gateway"
)

// Credit costs per generated reply.
const (
	TextReplyCost  = 1
	VoiceReplyCost = TextReplyCost + 4
)

// Agent is the tenant as read by the core.
type Agent struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Name              string
	BusinessContext   string
	Tone              string
	EscalationPhone   string
	NotificationEmail string
	PaymentMode       PaymentMode
	OrangeMoneyNumber string
	MTNMoneyNumber    string
	WaveNumber        string
	VoiceEnabled      bool
	CreditsBalance    int
	MessagesUsed      int
	WhatsAppStatus    string
	WhatsAppPhone     string
	WhatsAppConnected bool
}

// HasCredits reports whether at least one reply can be paid for.
func (a Agent) HasCredits() bool { return a.CreditsBalance > 0 }

// MobileMoneyAccount is one manual-transfer destination.
type MobileMoneyAccount struct {
	Provider string `json:"provider"`
	Number   string `json:"number"`
}

// MobileMoneyAccounts lists the configured transfer numbers in a fixed order.
func (a Agent) MobileMoneyAccounts() []MobileMoneyAccount {
	var out []MobileMoneyAccount
	if a.OrangeMoneyNumber != "" {
		out = append(out, MobileMoneyAccount{Provider: "Orange Money", Number: a.OrangeMoneyNumber})
	}
	if a.MTNMoneyNumber != "" {
		out = append(out, MobileMoneyAccount{Provider: "MTN MoMo", Number: a.MTNMoneyNumber})
	}
	if a.WaveNumber != "" {
		out = append(out, MobileMoneyAccount{Provider: "Wave", Number: a.WaveNumber})
	}
	return out
}
