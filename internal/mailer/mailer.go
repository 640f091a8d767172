// Package mailer は通知に付随するメール送信を提供する。
// アプリ内通知とは独立しており、送信失敗が通知の保存に影響することはない。
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taskflow/notification/internal/config"
)

// Sender はメールを1通送信する。
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Nop は何も送信しないSender。SMTPが未設定の場合に使う。
type Nop struct{}

// Send は常に成功する。
func (Nop) Send(context.Context, string, string, string) error { return nil }

// New は設定からSenderを生成する。smtp.addr が空ならNopを返す。
func New(cfg config.SMTP, log *zap.Logger) Sender {
	if cfg.Addr == "" {
		return Nop{}
	}
	return NewSMTP(cfg, log)
}

// SMTP はSMTPサーバー経由でメールを送るSender。
type SMTP struct {
	addr       string
	auth       smtp.Auth
	useTLS     bool
	timeout    time.Duration
	from       string
	subjPrefix string

	log *zap.Logger
}

// NewSMTP はSMTP送信器を生成する。
func NewSMTP(cfg config.SMTP, log *zap.Logger) *SMTP {
	if log == nil {
		log = zap.NewNop()
	}
	var auth smtp.Auth
	if cfg.User != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, host(cfg.Addr))
	}
	return &SMTP{
		addr:       cfg.Addr,
		auth:       auth,
		useTLS:     cfg.UseTLS,
		timeout:    cfg.Timeout,
		from:       cfg.From,
		subjPrefix: cfg.SubjPrefix,
		log:        log.With(zap.String("component", "mailer")),
	}
}

// Send はメールを送信する。ctxのデッドラインは接続確立に使われる。
func (m *SMTP) Send(ctx context.Context, to, subject, body string) error {
	subj := strings.TrimSpace(m.subjPrefix + " " + subject)
	msg := buildMessage(m.from, to, subj, body)

	start := time.Now()
	log := m.log.With(zap.String("to", to), zap.String("subject", subj))

	dialer := net.Dialer{Timeout: m.timeout}
	var (
		conn net.Conn
		err  error
	)
	if m.useTLS {
		td := tls.Dialer{NetDialer: &dialer, Config: &tls.Config{ServerName: host(m.addr)}}
		conn, err = td.DialContext(ctx, "tcp", m.addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", m.addr)
	}
	if err != nil {
		log.Warn("SMTPサーバーへの接続に失敗", zap.Error(err))
		return fmt.Errorf("SMTP接続に失敗: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, host(m.addr))
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("SMTPクライアントの生成に失敗: %w", err)
	}
	defer func() { _ = c.Close() }()

	if !m.useTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: host(m.addr)}); err != nil {
				return fmt.Errorf("STARTTLSに失敗: %w", err)
			}
		}
	}
	if m.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(m.auth); err != nil {
				return fmt.Errorf("SMTP認証に失敗: %w", err)
			}
		}
	}
	if err := c.Mail(m.from); err != nil {
		return fmt.Errorf("MAIL FROMに失敗: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TOに失敗: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATAに失敗: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("本文の書き込みに失敗: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("本文の送信に失敗: %w", err)
	}
	if err := c.Quit(); err != nil {
		log.Debug("QUITに失敗", zap.Error(err))
	}

	log.Info("メールを送信しました", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// buildMessage はRFC 5322形式のメッセージを組み立てる。
func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func host(addr string) string {
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}
