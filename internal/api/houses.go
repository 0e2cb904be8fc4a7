package api

import (
	"strings"
)

// ApplyDefaults fills in the payment type and the amount due the way the
// house form does: SMALL_METER when no type was picked, and the type's
// amount when no amount was typed.
func (h *House) ApplyDefaults() {
	if h.PaymentType == "" {
		h.PaymentType = DefaultPaymentType
	}
	if h.RequiredAmount == 0 {
		h.RequiredAmount = PaymentAmount(h.PaymentType)
	}
	h.HouseNumber = strings.TrimSpace(h.HouseNumber)
	h.OwnerName = strings.TrimSpace(h.OwnerName)
	h.OwnerPhone = strings.TrimSpace(h.OwnerPhone)
}

// CheckUniqueNumber rejects h when another house in siblings already uses
// its number. The house being edited (same id) is ignored.
func CheckUniqueNumber(h House, siblings []House) error {
	for _, s := range siblings {
		if h.ID != "" && s.ID == h.ID {
			continue
		}
		if s.HouseNumber == h.HouseNumber {
			return invalid("houseNumber", "duplicate house number in square", MsgDuplicateHouse)
		}
	}
	return nil
}

// FilterHouses implements the house search box: case-insensitive match on
// the house number or owner name, substring match on the phone number, or
// the paid/unpaid label. An empty query returns all houses.
func FilterHouses(houses []House, query string) []House {
	q := strings.TrimSpace(query)
	if q == "" {
		return append([]House(nil), houses...)
	}
	lq := strings.ToLower(q)

	var out []House
	for _, h := range houses {
		if strings.Contains(strings.ToLower(h.HouseNumber), lq) ||
			strings.Contains(strings.ToLower(h.OwnerName), lq) ||
			strings.Contains(h.OwnerPhone, q) ||
			strings.Contains(h.PaidLabel(), q) {
			out = append(out, h)
		}
	}
	return out
}

// HouseSummary counts paid and unpaid houses.
type HouseSummary struct {
	Total  int `json:"total"`
	Paid   int `json:"paid"`
	Unpaid int `json:"unpaid"`
}

// Summarize counts houses by payment status.
func Summarize(houses []House) HouseSummary {
	s := HouseSummary{Total: len(houses)}
	for _, h := range houses {
		if h.HasPaid {
			s.Paid++
		} else {
			s.Unpaid++
		}
	}
	return s
}

// FindHouse returns the house with id.
func FindHouse(houses []House, id ID) (House, bool) {
	for _, h := range houses {
		if h.ID == id {
			return h, true
		}
	}
	return House{}, false
}
