package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"guardian/core"
)

// EmailChannel sends the message over SMTP with PLAIN auth.
//
// Settings: smtp_host, smtp_port, from, to (comma-separated), and
// optionally username/password.
type EmailChannel struct {
	logger *zap.SugaredLogger
	// send is swapped in tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel creates an SMTP adapter.
func NewEmailChannel(logger *zap.SugaredLogger) *EmailChannel {
	return &EmailChannel{logger: logger, send: smtp.SendMail}
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) Deliver(ctx context.Context, cfg core.ChannelConfig, msg Message) core.DeliveryResult {
	host := cfg.Settings["smtp_host"]
	port := cfg.Settings["smtp_port"]
	from := cfg.Settings["from"]
	if host == "" || port == "" || from == "" {
		return core.Failed("email channel requires smtp_host, smtp_port and from")
	}
	to := splitAddresses(cfg.Settings["to"])
	if len(to) == 0 {
		return core.Failed("email channel has no recipients")
	}

	var auth smtp.Auth
	if user := cfg.Settings["username"]; user != "" {
		auth = smtp.PlainAuth("", user, cfg.Settings["password"], host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Title)
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&b, "Severity: %s\r\n", msg.Severity)
	fmt.Fprintf(&b, "Target: %s %s\r\n", msg.TargetKind, msg.TargetID)
	fmt.Fprintf(&b, "Time: %s\r\n", msg.OccurredAt.Format(time.RFC3339))
	for key, value := range msg.Body {
		fmt.Fprintf(&b, "%s: %v\r\n", key, value)
	}

	// smtp.SendMail has no cancellation hook, so the send runs in its
	// own goroutine and the attempt deadline is enforced here. A send
	// still in flight when the context expires is abandoned and the
	// attempt counted as failed.
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.send(host+":"+port, auth, from, to, []byte(b.String()))
	}()

	select {
	case <-ctx.Done():
		return core.Failed(fmt.Sprintf("smtp send aborted: %v", ctx.Err()))
	case err := <-errCh:
		if err != nil {
			return core.Failed(fmt.Sprintf("smtp send failed: %v", err))
		}
		return core.Sent()
	}
}

func splitAddresses(raw string) []string {
	var out []string
	for _, addr := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
