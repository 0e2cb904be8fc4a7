package api

// PaymentType is a meter size with its monthly amount in Sudanese pounds.
type PaymentType struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
	Color  string  `json:"color"`
}

// Payment type ids.
const (
	SmallMeter  = "SMALL_METER"
	MediumMeter = "MEDIUM_METER"
	LargeMeter  = "LARGE_METER"

	DefaultPaymentType = SmallMeter
)

// Display strings.
const (
	LabelPaid           = "سدد"
	LabelUnpaid         = "لم يسدد"
	LabelUnknownPayment = "غير محدد"
	Currency            = "جنيه سوداني"
)

var paymentTypes = []PaymentType{
	{ID: SmallMeter, Name: "عداد صغير", Amount: 5000, Color: "#4CAF50"},
	{ID: MediumMeter, Name: "عداد متوسط", Amount: 10000, Color: "#FF9800"},
	{ID: LargeMeter, Name: "عداد كبير", Amount: 15000, Color: "#F44336"},
}

// PaymentTypes returns the catalogue in display order.
func PaymentTypes() []PaymentType {
	return append([]PaymentType(nil), paymentTypes...)
}

// LookupPaymentType finds a payment type by id.
func LookupPaymentType(id string) (PaymentType, bool) {
	for _, pt := range paymentTypes {
		if pt.ID == id {
			return pt, true
		}
	}
	return PaymentType{}, false
}

// PaymentTypeName returns the display name, or LabelUnknownPayment.
func PaymentTypeName(id string) string {
	if pt, ok := LookupPaymentType(id); ok {
		return pt.Name
	}
	return LabelUnknownPayment
}

// PaymentAmount returns the amount for id, or 0 when unknown.
func PaymentAmount(id string) float64 {
	if pt, ok := LookupPaymentType(id); ok {
		return pt.Amount
	}
	return 0
}
