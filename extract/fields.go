// Package extract resolves logical booking fields from loosely-typed record
// metadata.
//
// Every logical field is described by a Field entry: a primary key and any
// legacy aliases. For a context prefix "crbs" the primary key "pickup_datetime"
// expands to the candidates "crbs_pickup_datetime", "pickup_datetime", then
// each alias in the same prefixed-then-bare order. The first present key wins.
package extract

// Kind is the value type a field resolves to.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindNumber
)

// Field declares how one logical field is looked up.
type Field struct {
	Name    string
	Key     string
	Aliases []string
	Kind    Kind
	Default any
}

// Candidates returns the ordered keys consulted for the given prefix.
func (f Field) Candidates(prefix string) []string {
	keys := make([]string, 0, 2*(1+len(f.Aliases)))
	for _, k := range append([]string{f.Key}, f.Aliases...) {
		if prefix != "" {
			keys = append(keys, prefix+"_"+k)
		}
		keys = append(keys, k)
	}
	return keys
}

var (
	StatusID = Field{Name: "status_id", Key: "booking_status_id", Aliases: []string{"status_id"}, Kind: KindInt, Default: 0}

	FirstName = Field{Name: "first_name", Key: "client_contact_detail_first_name"}
	LastName  = Field{Name: "last_name", Key: "client_contact_detail_last_name"}
	Email     = Field{Name: "email", Key: "client_contact_detail_email_address"}
	Phone     = Field{Name: "phone", Key: "client_contact_detail_phone_number"}

	PickupDatetime = Field{Name: "pickup_datetime", Key: "pickup_datetime", Aliases: []string{"pickup_date"}}
	ReturnDatetime = Field{Name: "return_datetime", Key: "return_datetime", Aliases: []string{"return_date"}}
	PickupLocation = Field{Name: "pickup_location", Key: "pickup_location_name"}
	ReturnLocation = Field{Name: "return_location", Key: "return_location_name"}

	VehicleID   = Field{Name: "vehicle_id", Key: "vehicle_id"}
	VehicleName = Field{Name: "vehicle_name", Key: "vehicle_name"}

	Currency = Field{Name: "currency", Key: "currency_id", Aliases: []string{"currency"}, Default: "USD"}
	Price    = Field{Name: "price", Key: "price_initial_value", Kind: KindNumber, Default: 0.0}
)

// Totals are the keys tried, in order, when the primary price is zero.
var Totals = []string{
	"payment_total", "total", "price", "amount", "cost", "sum",
	"booking_total", "rental_total", "invoice_total",
}

// Fields is the full lookup table, in payload order.
var Fields = []Field{
	StatusID,
	FirstName, LastName, Email, Phone,
	PickupDatetime, ReturnDatetime, PickupLocation, ReturnLocation,
	VehicleID, VehicleName,
	Currency, Price,
}
