package purchase

import (
	"errors"
	"strconv"
	"strings"
)

var ErrMalformedPayload = errors.New("purchase: malformed invoice payload")

const payloadPrefix = "kv1:"

// Payload is the purchase intent carried through the payment provider.
// It is fixed when the invoice is issued so later stages never consult user state.
type Payload struct {
	InvoiceID string
	Product   string
	Quantity  int
}

// Encode renders the payload as
//
//	kv1:<invoice id>:<byte length of product>:<product>:<quantity>
//
// The length prefix lets product names contain any byte, separators included.
func (p Payload) Encode() string {
	var b strings.Builder
	b.Grow(len(payloadPrefix) + len(p.InvoiceID) + len(p.Product) + 16)
	b.WriteString(payloadPrefix)
	b.WriteString(p.InvoiceID)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(len(p.Product)))
	b.WriteByte(':')
	b.WriteString(p.Product)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(p.Quantity))
	return b.String()
}

// DecodePayload parses a string produced by Payload.Encode.
func DecodePayload(raw string) (Payload, error) {
	rest, ok := strings.CutPrefix(raw, payloadPrefix)
	if !ok {
		return Payload{}, ErrMalformedPayload
	}

	invoiceID, rest, ok := strings.Cut(rest, ":")
	if !ok || invoiceID == "" {
		return Payload{}, ErrMalformedPayload
	}

	lenField, rest, ok := strings.Cut(rest, ":")
	if !ok {
		return Payload{}, ErrMalformedPayload
	}
	n, err := strconv.Atoi(lenField)
	if err != nil || n <= 0 || n > len(rest) || lenField != strconv.Itoa(n) {
		return Payload{}, ErrMalformedPayload
	}
	product := rest[:n]
	rest = rest[n:]

	qtyField, ok := strings.CutPrefix(rest, ":")
	if !ok {
		return Payload{}, ErrMalformedPayload
	}
	qty, err := strconv.Atoi(qtyField)
	if err != nil || qty < 1 || qtyField != strconv.Itoa(qty) {
		return Payload{}, ErrMalformedPayload
	}

	return Payload{InvoiceID: invoiceID, Product: product, Quantity: qty}, nil
}
