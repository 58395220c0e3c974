package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "outreach/pkg/logx"
)

const plainFallback = "Your email client does not support HTML."

type SMTPConfig struct {
	Host     string
	Port     int // 465 means implicit TLS, anything else STARTTLS
	User     string
	Password string
	From     string

	// Timeout bounds dial + handshake + submission of one message.
	Timeout time.Duration

	// MinInterval is a hard floor between submissions. It sits below
	// the warm-up limiter as a transport-level ceiling; the warm-up
	// delays are normally much longer.
	MinInterval time.Duration
}

// SMTP is the production transport. One instance per run or per daemon
// is fine; connections are per-message, like a human mail client.
type SMTP struct {
	cfg     SMTPConfig
	log     logx.Logger
	limiter *rate.Limiter
}

func NewSMTP(cfg SMTPConfig, log logx.Logger) (*SMTP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(cfg.User) == "" || cfg.Password == "" {
		return nil, errors.New("smtp credentials are required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	var lim *rate.Limiter
	if cfg.MinInterval > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	return &SMTP{cfg: cfg, log: log, limiter: lim}, nil
}

func (t *SMTP) Send(ctx context.Context, msg Message) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	d := net.Dialer{Timeout: t.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(t.cfg.Timeout))

	tlsCfg := &tls.Config{ServerName: t.cfg.Host}
	if t.cfg.Port == 465 {
		conn = tls.Client(conn, tlsCfg)
	}

	c, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer c.Close()

	if t.cfg.Port != 465 {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return fmt.Errorf("smtp server %s does not offer STARTTLS", addr)
		}
		if err := c.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}

	auth := smtp.PlainAuth("", t.cfg.User, t.cfg.Password, t.cfg.Host)
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}

	if err := c.Mail(t.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	body, err := buildMIME(t.cfg.From, msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp submit: %w", err)
	}
	return c.Quit()
}

// buildMIME assembles a multipart/alternative message with a plain-text
// fallback before the HTML part, quoted-printable encoded.
func buildMIME(from string, msg Message) ([]byte, error) {
	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n", mp.Boundary())
	buf.WriteString("\r\n")

	if err := writePart(mp, "text/plain", plainFallback); err != nil {
		return nil, err
	}
	if err := writePart(mp, "text/html", msg.HTMLBody); err != nil {
		return nil, err
	}
	if err := mp.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(mp *multipart.Writer, contentType, body string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType+"; charset=utf-8")
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	p, err := mp.CreatePart(h)
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(p)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}
