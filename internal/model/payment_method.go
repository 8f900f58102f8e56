package model

import (
	"fmt"
	"regexp"
)

// Provider is a mobile-money operator.
type Provider string

const (
	ProviderMTN    Provider = "mtn"
	ProviderOrange Provider = "orange"
)

func (p Provider) Valid() bool {
	return p == ProviderMTN || p == ProviderOrange
}

type MethodType string

const (
	MethodCard        MethodType = "card"
	MethodMobileMoney MethodType = "mobile_money"
)

// PaymentMethod is a closed union: exactly the variant named by Type is set.
type PaymentMethod struct {
	Type        MethodType   `json:"type" bson:"type"`
	Card        *Card        `json:"card,omitempty" bson:"card,omitempty"`
	MobileMoney *MobileMoney `json:"mobileMoney,omitempty" bson:"mobileMoney,omitempty"`
}

type Card struct {
	Brand    string `json:"brand" bson:"brand"`
	Last4    string `json:"last4" bson:"last4"`
	ExpMonth int    `json:"expMonth" bson:"expMonth"`
	ExpYear  int    `json:"expYear" bson:"expYear"`
}

type MobileMoney struct {
	Provider    Provider `json:"provider" bson:"provider"`
	PhoneNumber string   `json:"phoneNumber" bson:"phoneNumber"`
}

func NewCardMethod(brand, last4 string, expMonth, expYear int) PaymentMethod {
	return PaymentMethod{
		Type: MethodCard,
		Card: &Card{Brand: brand, Last4: last4, ExpMonth: expMonth, ExpYear: expYear},
	}
}

func NewMobileMoneyMethod(provider Provider, phone string) PaymentMethod {
	return PaymentMethod{
		Type:        MethodMobileMoney,
		MobileMoney: &MobileMoney{Provider: provider, PhoneNumber: phone},
	}
}

var (
	last4Pattern = regexp.MustCompile(`^[0-9]{4}$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)
)

// Validate checks that exactly the variant named by Type is populated.
func (m PaymentMethod) Validate() error {
	switch m.Type {
	case MethodCard:
		if m.Card == nil || m.MobileMoney != nil {
			return fmt.Errorf("payment method %q must carry only card details", m.Type)
		}
		if !last4Pattern.MatchString(m.Card.Last4) {
			return fmt.Errorf("card last4 %q is not 4 digits", m.Card.Last4)
		}
		if m.Card.ExpMonth < 1 || m.Card.ExpMonth > 12 {
			return fmt.Errorf("card expiry month %d out of range", m.Card.ExpMonth)
		}
	case MethodMobileMoney:
		if m.MobileMoney == nil || m.Card != nil {
			return fmt.Errorf("payment method %q must carry only mobile money details", m.Type)
		}
		if !m.MobileMoney.Provider.Valid() {
			return fmt.Errorf("unknown mobile money provider %q", m.MobileMoney.Provider)
		}
		if !phonePattern.MatchString(m.MobileMoney.PhoneNumber) {
			return fmt.Errorf("phone number %q is not valid", m.MobileMoney.PhoneNumber)
		}
	default:
		return fmt.Errorf("unknown payment method type %q", m.Type)
	}
	return nil
}

// Provider returns the mobile-money provider, or "" for other variants.
func (m PaymentMethod) Provider() Provider {
	if m.Type == MethodMobileMoney && m.MobileMoney != nil {
		return m.MobileMoney.Provider
	}
	return ""
}

func (m PaymentMethod) clone() PaymentMethod {
	out := m
	if m.Card != nil {
		c := *m.Card
		out.Card = &c
	}
	if m.MobileMoney != nil {
		mm := *m.MobileMoney
		out.MobileMoney = &mm
	}
	return out
}
