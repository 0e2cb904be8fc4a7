package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID identifies a backend record. The backend may send ids as JSON numbers
// or strings; both decode to the same ID. Numeric ids are encoded back as
// numbers.
type ID string

// UnmarshalJSON accepts a number, a string or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes integer ids as numbers and everything else as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) numeric() bool {
	if id == "" {
		return false
	}
	_, err := strconv.ParseInt(string(id), 10, 64)
	return err == nil
}

func (id ID) String() string { return string(id) }

// Credentials are sent to /login and /register.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// User is the identity returned by the backend, when it returns one.
type User struct {
	ID       ID     `json:"id,omitempty"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
}

// AuthResponse is the body of /login and /register.
type AuthResponse struct {
	Token   string `json:"token,omitempty"`
	User    *User  `json:"user,omitempty"`
	Message string `json:"message,omitempty"`
}

// Neighborhood is the top of the hierarchy.
type Neighborhood struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Square belongs to a neighborhood.
type Square struct {
	ID             ID     `json:"id"`
	Name           string `json:"name"`
	NeighborhoodID ID     `json:"neighborhoodId,omitempty"`
}

// House is one metered property in a square.
type House struct {
	ID             ID      `json:"id,omitempty"`
	HouseNumber    string  `json:"houseNumber"`
	OwnerName      string  `json:"ownerName"`
	OwnerPhone     string  `json:"ownerPhone"`
	IsOccupied     bool    `json:"isOccupied"`
	HasPaid        bool    `json:"hasPaid"`
	PaymentType    string  `json:"paymentType,omitempty"`
	RequiredAmount float64 `json:"requiredAmount"`

	// ReceiptImage is a URI; nil is sent as null and clears the receipt.
	ReceiptImage *string `json:"receiptImage"`

	SquareID ID `json:"squareId,omitempty"`
}

// Amount is the amount due, falling back to the payment type's amount.
func (h House) Amount() float64 {
	if h.RequiredAmount > 0 {
		return h.RequiredAmount
	}
	return PaymentAmount(h.PaymentType)
}

// PaidLabel is the Arabic paid/unpaid label shown next to a house.
func (h House) PaidLabel() string {
	if h.HasPaid {
		return LabelPaid
	}
	return LabelUnpaid
}

// HasReceipt reports whether a receipt image is attached.
func (h House) HasReceipt() bool {
	return h.ReceiptImage != nil && *h.ReceiptImage != ""
}
