package purchase

// InvoiceIDGenerator mints the id embedded in every invoice payload.
type InvoiceIDGenerator interface {
	NewID() string
}

const (
	purchaseService = "purchase-service"
	defaultCurrency = "XTR"
)

// Options carries the settings shared by the purchase use cases.
type Options struct {
	// Currency is the single ISO or provider currency code invoices are issued in.
	Currency string
}

func (o Options) currency() string {
	if o.Currency == "" {
		return defaultCurrency
	}
	return o.Currency
}
