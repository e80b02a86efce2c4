package avail

import (
	"fmt"
	"net/smtp"
	"strings"
)

const DefaultSubject = "COVID WA Availability - Notification"

// Notifier emails configured addresses when a source fails.
type Notifier struct {
	config *Config
	// replaced in tests
	sendMail func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewNotifier(config *Config) *Notifier {
	return &Notifier{config: config, sendMail: smtp.SendMail}
}

func (n *Notifier) NotifyError(name string, err error) error {
	if n == nil || !n.config.NotifyOnError {
		return nil
	}

	body := fmt.Sprintf("Error loading availability: %s: %v", name, err)
	return n.sendEmail(DefaultSubject, body)
}

func (n *Notifier) sendEmail(subject string, body string) error {
	config := n.config
	if len(config.SmtpHost) == 0 || len(config.NotifyEmailAddrs) == 0 {
		return nil
	}

	Log.Infof("Subject: %s", subject)
	Log.Infof("Body: %s", body)

	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("From: %s\r\n", config.FromEmailAddress))
	sb.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(config.NotifyEmailAddrs, ", ")))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	sb.WriteString("\r\n")
	sb.WriteString(body)

	auth := smtp.PlainAuth("", config.SmtpUsername, config.SmtpPassword, config.SmtpHost)

	err := n.sendMail(fmt.Sprintf("%s:%d", config.SmtpHost, config.SmtpPort), auth, config.FromEmailAddress, config.NotifyEmailAddrs, []byte(sb.String()))
	if err != nil {
		Log.Errorf("sendEmail: %+v", err)
	}

	return err
}
