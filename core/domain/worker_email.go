package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

var (
	ErrMissingMessageID = errors.New("message_id is required")
	ErrEmptyContent     = errors.New("email has neither subject nor body")
)

// Email is a parsed message. It is read-only to the triage pipeline; any
// truncation happens on copies handed to the model.
type Email struct {
	MessageID     string `json:"message_id"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	SenderAddress string `json:"sender_address"`
}

// Validate reports whether the email carries enough to be triaged.
func (e Email) Validate() error {
	if strings.TrimSpace(e.MessageID) == "" {
		return ErrMissingMessageID
	}
	if strings.TrimSpace(e.Subject) == "" && strings.TrimSpace(e.Body) == "" {
		return ErrEmptyContent
	}
	return nil
}

// Text joins subject and body the way both the classifier and embedder see them.
func (e Email) Text() string {
	if e.Subject == "" {
		return e.Body
	}
	return e.Subject + "\n\n" + e.Body
}

var addrPattern = regexp.MustCompile(`[\w.+-]+@[\w-]+(\.[\w-]+)+`)

// CleanSender reduces "Display Name <addr@host>" to a lower-cased address.
func CleanSender(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(raw); err == nil {
		return strings.ToLower(addr.Address)
	}
	if m := addrPattern.FindString(raw); m != "" {
		return strings.ToLower(m)
	}
	return strings.ToLower(raw)
}
