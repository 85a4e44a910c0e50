package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gregdel/pushover"
)

// pushoverSender is the part of the pushover client we use.
type pushoverSender interface {
	SendMessage(m *pushover.Message, r *pushover.Recipient) (*pushover.Response, error)
}

// Pushover maps severity onto the Pushover priority scale:
// info=normal, warning=high, critical=emergency.
type Pushover struct {
	app       pushoverSender
	recipient *pushover.Recipient
	device    string
}

func NewPushover(token, user, device string) *Pushover {
	if token == "" || user == "" {
		return nil
	}
	return &Pushover{
		app:       pushover.New(token),
		recipient: pushover.NewRecipient(user),
		device:    pushoverDevice(device),
	}
}

func pushoverPriority(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return pushover.PriorityEmergency
	case SeverityWarning:
		return pushover.PriorityHigh
	default:
		return pushover.PriorityNormal
	}
}

// pushoverDevice reduces a device name to what the API accepts as a device
// target: letters, digits, '_' and '-', at most 25 characters.
func pushoverDevice(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteByte('_')
		}
		if b.Len() == 25 {
			break
		}
	}
	return b.String()
}

func (p *Pushover) Send(_ context.Context, title, text string, sev Severity) error {
	if p == nil || p.app == nil {
		return errors.New("pushover disabled")
	}
	msg := pushover.NewMessageWithTitle(text, title)
	msg.Priority = pushoverPriority(sev)
	if msg.Priority == pushover.PriorityEmergency {
		// emergency priority is rejected without a retry schedule
		msg.Retry = time.Minute
		msg.Expire = time.Hour
	}
	msg.DeviceName = p.device

	if _, err := p.app.SendMessage(msg, p.recipient); err != nil {
		return fmt.Errorf("send pushover message: %w", err)
	}
	return nil
}
