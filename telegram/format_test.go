package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"uzum-order-notifier/pkg/orders"
)

func sampleOrder() orders.Order {
	createdAt := time.Date(2024, 5, 10, 14, 30, 0, 0, time.UTC)
	return orders.Order{
		ID:              "1042",
		CreatedAt:       orders.Millis(createdAt.UnixMilli()),
		TotalPrice:      decimal.NewFromInt(250000),
		DeliveryMethod:  "Courier",
		DeliveryAddress: "Tashkent, Chilonzor 5",
		Customer:        orders.Customer{Name: "Aziz Karimov", Phone: "+998901234567"},
		Items: []orders.Item{
			{ProductName: "Phone case", Quantity: 2, Price: decimal.NewFromInt(50000)},
			{ProductName: "Charger", Quantity: 1, Price: decimal.NewFromInt(150000)},
		},
	}
}

func TestFormatOrder(t *testing.T) {
	msg := FormatOrder(sampleOrder())

	for _, want := range []string{
		"<b>New Uzum Order!</b>",
		"<code>1042</code>",
		"2024-05-10 14:30:00",
		"250000 UZS",
		"Courier",
		"Aziz Karimov",
		"+998901234567",
		"- Phone case × 2 (50000 UZS)",
		"- Charger × 1 (150000 UZS)",
		"Tashkent, Chilonzor 5",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("FormatOrder() missing %q\nmessage:\n%s", want, msg)
		}
	}
}

func TestFormatOrderMissingOptionalFields(t *testing.T) {
	o := sampleOrder()
	o.DeliveryMethod = ""
	o.DeliveryAddress = "  "

	msg := FormatOrder(o)

	if want := "🚚 <b>Method:</b> N/A"; !strings.Contains(msg, want) {
		t.Errorf("FormatOrder() missing %q for absent delivery method", want)
	}
	if want := "📍 <b>Address:</b> N/A"; !strings.Contains(msg, want) {
		t.Errorf("FormatOrder() missing %q for blank address", want)
	}
}

func TestFormatOrderEscapesHTML(t *testing.T) {
	o := sampleOrder()
	o.Customer.Name = "<script>alert(1)</script> & Co"

	msg := FormatOrder(o)

	if strings.Contains(msg, "<script>") {
		t.Error("FormatOrder() left raw markup in customer name")
	}
	if !strings.Contains(msg, "&lt;script&gt;alert(1)&lt;/script&gt; &amp; Co") {
		t.Error("FormatOrder() did not escape customer name")
	}
}
