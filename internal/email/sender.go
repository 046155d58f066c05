// Package email arma y envía los correos transaccionales del servicio:
// confirmación de registro y reset de contraseña.
package email

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/stridelab/stride/internal/observability/logger"
)

// Sender envía un correo ya armado. La implementación real es SMTP; los
// tests usan un spy.
type Sender interface {
	Send(to, subject, htmlBody, textBody string) error
}

// LogSender loguea el correo en lugar de enviarlo. Se usa en dev cuando no
// hay SMTP configurado; el token queda visible en el log local.
type LogSender struct{}

func (LogSender) Send(to, subject, _, textBody string) error {
	logger.Named("email").Info("outgoing email (log only)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", textBody),
	)
	return nil
}

// Mailer arma los correos del dominio sobre un Sender.
type Mailer struct {
	sender  Sender
	appName string
	baseURL string
}

func NewMailer(sender Sender, appName, baseURL string) *Mailer {
	return &Mailer{sender: sender, appName: appName, baseURL: baseURL}
}

// SendSignupConfirmation manda el link de activación de cuenta.
func (m *Mailer) SendSignupConfirmation(to, token string) error {
	link := fmt.Sprintf("%s/v1/auth/signup/confirm?token=%s", m.baseURL, token)
	subject := fmt.Sprintf("Confirmá tu cuenta de %s", m.appName)
	text := fmt.Sprintf("Bienvenido a %s.\n\nConfirmá tu cuenta entrando a:\n%s\n\nSi no creaste esta cuenta, ignorá este correo.\n", m.appName, link)
	html := fmt.Sprintf(`<p>Bienvenido a <b>%s</b>.</p><p><a href="%s">Confirmá tu cuenta</a> para empezar a registrar entrenamientos.</p><p>Si no creaste esta cuenta, ignorá este correo.</p>`, m.appName, link)
	return m.sender.Send(to, subject, html, text)
}

// SendPasswordReset manda el link de reset. El token es de un solo uso.
func (m *Mailer) SendPasswordReset(to, token string) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", m.baseURL, token)
	subject := fmt.Sprintf("Restablecer tu contraseña de %s", m.appName)
	text := fmt.Sprintf("Pediste restablecer tu contraseña.\n\nEntrá a:\n%s\n\nEl link vence en una hora. Si no fuiste vos, ignorá este correo: tu contraseña sigue igual.\n", link)
	html := fmt.Sprintf(`<p>Pediste restablecer tu contraseña.</p><p><a href="%s">Elegí una contraseña nueva</a>. El link vence en una hora.</p><p>Si no fuiste vos, ignorá este correo: tu contraseña sigue igual.</p>`, link)
	return m.sender.Send(to, subject, html, text)
}
