package email

import (
	"fmt"
	"mime"
	"net/smtp"

	"github.com/shopspring/decimal"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service handles email sending via SMTP
type Service struct {
	host     string
	port     string
	from     string
	auth     smtp.Auth
	sendMail sendFunc
}

// NewService creates a new email service. Without a username the server is
// used unauthenticated.
func NewService(host, port, from, username, password string) *Service {
	s := &Service{
		host:     host,
		port:     port,
		from:     from,
		sendMail: smtp.SendMail,
	}
	if username != "" {
		s.auth = smtp.PlainAuth("", username, password, host)
	}
	return s
}

// SendOrderConfirmation tells the customer their order was received
func (s *Service) SendOrderConfirmation(to, orderNumber string, total decimal.Decimal, items []OrderItem) error {
	subject := "Xác nhận đơn hàng #" + orderNumber
	body := BuildOrderConfirmationBody(to, orderNumber, total, items)
	return s.send(to, subject, body)
}

// SendStatusUpdate tells the customer their order moved to statusLabel
func (s *Service) SendStatusUpdate(to, orderNumber, statusLabel string) error {
	subject := fmt.Sprintf("Cập nhật đơn hàng #%s: %s", orderNumber, statusLabel)
	body := BuildStatusUpdateBody(to, orderNumber, statusLabel)
	return s.send(to, subject, body)
}

func (s *Service) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, mime.QEncoding.Encode("UTF-8", subject), body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return s.sendMail(addr, s.auth, s.from, []string{to}, []byte(msg))
}
