package models

import "strings"

// PaymentMethod is one of the fixed payment options
type PaymentMethod string

const (
	PaymentMethodCreditCard PaymentMethod = "creditCard"
	PaymentMethodDebitCard  PaymentMethod = "debitCard"
	PaymentMethodUPI        PaymentMethod = "upi"
	PaymentMethodNetBanking PaymentMethod = "netBanking"
	PaymentMethodCash       PaymentMethod = "cash"
)

// PaymentMethodOption is a selectable method with its display label
type PaymentMethodOption struct {
	ID    PaymentMethod `json:"id"`
	Label string        `json:"label"`
}

// PaymentMethods lists the methods in display order
var PaymentMethods = []PaymentMethodOption{
	{ID: PaymentMethodCreditCard, Label: "Credit Card"},
	{ID: PaymentMethodDebitCard, Label: "Debit Card"},
	{ID: PaymentMethodUPI, Label: "UPI"},
	{ID: PaymentMethodNetBanking, Label: "Net Banking"},
	{ID: PaymentMethodCash, Label: "Cash on Pickup"},
}

// IsValid checks if the payment method is one of the known options
func (m PaymentMethod) IsValid() bool {
	for _, opt := range PaymentMethods {
		if opt.ID == m {
			return true
		}
	}
	return false
}

// IsCard reports whether the method needs card details
func (m PaymentMethod) IsCard() bool {
	return m == PaymentMethodCreditCard || m == PaymentMethodDebitCard
}

// PaymentDetails holds the method-specific fields of the payment form.
// Fields of other methods are kept when the user switches method.
type PaymentDetails struct {
	CardNumber string `json:"cardNumber,omitempty"`
	NameOnCard string `json:"nameOnCard,omitempty"`
	Expiry     string `json:"expiry,omitempty"`
	CVV        string `json:"cvv,omitempty"`
	UPIID      string `json:"upiId,omitempty"`
}

// PaymentDetailsUpdate changes some fields of the payment form. Nil fields
// keep their current value; an empty string clears a field.
type PaymentDetailsUpdate struct {
	CardNumber *string `json:"cardNumber,omitempty"`
	NameOnCard *string `json:"nameOnCard,omitempty"`
	Expiry     *string `json:"expiry,omitempty"`
	CVV        *string `json:"cvv,omitempty"`
	UPIID      *string `json:"upiId,omitempty"`
}

// Apply returns d with the fields present in the update replaced
func (u PaymentDetailsUpdate) Apply(d PaymentDetails) PaymentDetails {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&d.CardNumber, u.CardNumber)
	set(&d.NameOnCard, u.NameOnCard)
	set(&d.Expiry, u.Expiry)
	set(&d.CVV, u.CVV)
	set(&d.UPIID, u.UPIID)
	return d
}

// Masked returns a copy that is safe to hand back to clients
func (d PaymentDetails) Masked() PaymentDetails {
	out := d
	digits := strings.Join(strings.Fields(d.CardNumber), "")
	if len(digits) > 4 {
		out.CardNumber = strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
	}
	if d.CVV != "" {
		out.CVV = "***"
	}
	return out
}

// PaymentState is the payment form screen
type PaymentState struct {
	Booking    Booking               `json:"booking"`
	Methods    []PaymentMethodOption `json:"methods"`
	Method     PaymentMethod         `json:"method,omitempty"`
	Details    PaymentDetails        `json:"details"`
	Processing bool                  `json:"processing"`
	Attempts   int                   `json:"attempts"`
}
