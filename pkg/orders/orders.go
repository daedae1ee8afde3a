// Package orders contains the core domain types for the Uzum order notifier.
package orders

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ID is an order identifier. The seller API is inconsistent about whether it
// serializes identifiers as strings or integers, so both decode to the same
// value.
type ID string

// UnmarshalJSON accepts both `"123"` and `123`.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return errors.New("order id is empty")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Millis is a millisecond Unix epoch timestamp, the encoding the seller API
// uses for all time fields.
type Millis int64

// Time converts the timestamp to a time.Time in UTC.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

// Customer is the buyer on an order.
type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Item is one ordered line item.
type Item struct {
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"` // unit price in UZS
}

// Order is a single seller order as returned by the Uzum API. The API is the
// source of truth; this system never mutates orders.
type Order struct {
	ID              ID              `json:"id"`
	CreatedAt       Millis          `json:"createdAt"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	DeliveryMethod  string          `json:"deliveryMethod"`
	DeliveryAddress string          `json:"deliveryAddress"`
	Customer        Customer        `json:"customer"`
	Items           []Item          `json:"items"`
}
