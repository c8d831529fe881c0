package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/voyasim/simflow/core"
)

// smtpTimeout bounds one delivery attempt end to end. net/smtp has no
// context support, so the dial-and-send runs in a goroutine and the
// caller waits on whichever finishes first.
const smtpTimeout = 15 * time.Second

// SMTPSender delivers order emails over a plain SMTP relay. It satisfies
// core.EmailSender and is the default sender wired when SIMFLOW_SMTP_HOST
// is set; embedders with a transactional-mail provider inject their own.
type SMTPSender struct {
	addr   string
	from   string
	auth   smtp.Auth
	logger core.Logger

	// send is swapped in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender builds a sender from the email channel config. Returns nil
// when SMTPHost is unset so callers can wire the port conditionally.
func NewSMTPSender(cfg core.EmailConfig, logger core.Logger) *SMTPSender {
	if cfg.SMTPHost == "" {
		return nil
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	port := cfg.SMTPPort
	if port <= 0 {
		port = 587
	}
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return &SMTPSender{
		addr:   fmt.Sprintf("%s:%d", cfg.SMTPHost, port),
		from:   cfg.FromAddress,
		auth:   auth,
		logger: logger,
		send:   smtp.SendMail,
	}
}

// SendESIMDelivery emails the eSIM artifact to the order's customer.
func (s *SMTPSender) SendESIMDelivery(ctx context.Context, order *core.Order, esim *core.ESIMData) (string, error) {
	if order == nil || esim == nil {
		return "", fmt.Errorf("send esim delivery: missing order or artifact")
	}
	subject := fmt.Sprintf("Your eSIM for order %s is ready", order.OrderNumber)
	body := esimDeliveryBody(order, esim)
	id, err := s.Send(ctx, order.CustomerEmail, subject, body)
	if err != nil {
		return "", err
	}
	s.logger.Info("esim delivery email sent", map[string]interface{}{
		"order_id":       order.ID,
		"correlation_id": order.CorrelationID,
		"customer_email": MaskEmail(order.CustomerEmail),
	})
	return id, nil
}

// Send delivers a free-form plain-text message.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) (string, error) {
	if to == "" {
		return "", fmt.Errorf("send email: empty recipient")
	}
	msg := buildMessage(s.from, to, subject, body)

	ctx, cancel := context.WithTimeout(ctx, smtpTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.send(s.addr, s.auth, s.from, []string{to}, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("send email via %s: %w", s.addr, err)
		}
	case <-ctx.Done():
		return "", fmt.Errorf("send email via %s: %w", s.addr, ctx.Err())
	}
	return messageID(), nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func esimDeliveryBody(order *core.Order, esim *core.ESIMData) string {
	var b strings.Builder
	name := order.CustomerName
	if name == "" {
		name = "customer"
	}
	fmt.Fprintf(&b, "Hello %s,\n\n", name)
	fmt.Fprintf(&b, "Your eSIM for order %s is ready to install.\n\n", order.OrderNumber)
	fmt.Fprintf(&b, "ICCID: %s\n", esim.ICCID)
	fmt.Fprintf(&b, "Activation code: %s\n", esim.ActivationCode)
	if esim.QRCodeURL != "" {
		fmt.Fprintf(&b, "QR code: %s\n", esim.QRCodeURL)
	}
	b.WriteString("\nScan the QR code from device settings, or enter the activation code manually under Add eSIM.\n")
	return b.String()
}

func messageID() string {
	return fmt.Sprintf("smtp-%d", time.Now().UnixNano())
}
