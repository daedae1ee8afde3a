package telegram

import (
	"fmt"
	"strings"

	"uzum-order-notifier/pkg/orders"
)

// missingField is rendered in place of optional order fields the API omitted.
const missingField = "N/A"

// FormatOrder renders an order as the HTML notification message.
func FormatOrder(o orders.Order) string {
	var b strings.Builder

	b.WriteString("🛍️ <b>New Uzum Order!</b>\n\n")
	fmt.Fprintf(&b, "📦 <b>Order ID:</b> <code>%s</code>\n", escapeHTML(string(o.ID)))
	fmt.Fprintf(&b, "📅 <b>Date:</b> %s\n", o.CreatedAt.Time().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "💰 <b>Total:</b> %s UZS\n", o.TotalPrice.String())
	fmt.Fprintf(&b, "🚚 <b>Method:</b> %s\n\n", escapeHTML(orPlaceholder(o.DeliveryMethod)))

	fmt.Fprintf(&b, "👤 <b>Customer:</b> %s\n", escapeHTML(orPlaceholder(o.Customer.Name)))
	fmt.Fprintf(&b, "📞 <b>Phone:</b> %s\n\n", escapeHTML(orPlaceholder(o.Customer.Phone)))

	b.WriteString("📦 <b>Items:</b>\n")
	for _, item := range o.Items {
		fmt.Fprintf(&b, "- %s × %d (%s UZS)\n",
			escapeHTML(item.ProductName), item.Quantity, item.Price.String())
	}

	fmt.Fprintf(&b, "\n📍 <b>Address:</b> %s", escapeHTML(orPlaceholder(o.DeliveryAddress)))

	return b.String()
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return missingField
	}
	return s
}

// escapeHTML escapes the characters Telegram's HTML parse mode treats as
// markup.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
