package email

import (
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderItem represents an item in an order for email purposes
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	Price     decimal.Decimal
}

const footer = `<p>Trân trọng,<br>Đội ngũ BanDongHo</p>`

// BuildOrderConfirmationBody builds the HTML body for order confirmation email
func BuildOrderConfirmationBody(customer, orderNumber string, total decimal.Decimal, items []OrderItem) string {
	var itemsHTML strings.Builder
	for _, item := range items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		fmt.Fprintf(&itemsHTML,
			`<tr><td style="padding: 8px;">%s</td><td style="padding: 8px; text-align: center;">%d</td><td style="padding: 8px; text-align: right;">%s VNĐ</td></tr>`,
			html.EscapeString(name),
			item.Quantity,
			FormatVND(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))),
		)
	}

	return fmt.Sprintf(`<html><body>
<h2>Xác nhận đơn hàng thành công!</h2>
<p>Xin chào <strong>%s</strong>,</p>
<p>Cảm ơn bạn đã đặt hàng tại BanDongHo.</p>
<p><strong>Mã đơn hàng:</strong> %s</p>
<table style="border-collapse: collapse;">
<thead><tr><th style="padding: 8px; text-align: left;">Sản phẩm</th><th style="padding: 8px;">Số lượng</th><th style="padding: 8px; text-align: right;">Thành tiền</th></tr></thead>
<tbody>%s</tbody>
</table>
<p><strong>Tổng tiền:</strong> %s VNĐ</p>
<p>Đơn hàng của bạn đã được tiếp nhận và sẽ được xử lý sớm nhất.</p>
%s
</body></html>`,
		html.EscapeString(customer),
		html.EscapeString(orderNumber),
		itemsHTML.String(),
		FormatVND(total),
		footer,
	)
}

// BuildStatusUpdateBody builds the HTML body for a status change email
func BuildStatusUpdateBody(customer, orderNumber, statusLabel string) string {
	return fmt.Sprintf(`<html><body>
<h2>Cập nhật trạng thái đơn hàng</h2>
<p>Xin chào <strong>%s</strong>,</p>
<p>Đơn hàng <strong>%s</strong> của bạn đã chuyển sang trạng thái: <strong>%s</strong>.</p>
%s
</body></html>`,
		html.EscapeString(customer),
		html.EscapeString(orderNumber),
		html.EscapeString(statusLabel),
		footer,
	)
}

// FormatVND rounds to whole dong and adds comma separators
func FormatVND(amount decimal.Decimal) string {
	str := amount.Round(0).StringFixed(0)
	sign := ""
	if strings.HasPrefix(str, "-") {
		sign, str = "-", str[1:]
	}
	if len(str) <= 3 {
		return sign + str
	}

	var result strings.Builder
	result.WriteString(sign)
	remainder := len(str) % 3
	if remainder > 0 {
		result.WriteString(str[:remainder])
		result.WriteString(",")
	}

	for i := remainder; i < len(str); i += 3 {
		result.WriteString(str[i : i+3])
		if i+3 < len(str) {
			result.WriteString(",")
		}
	}

	return result.String()
}
