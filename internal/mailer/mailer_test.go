package mailer

import (
	"bufio"
	"context"
	"mime"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflow/notification/internal/config"
)

// fakeSMTP は1接続だけ受け付ける最小限のSMTPサーバー。
type fakeSMTP struct {
	ln   net.Listener
	mu   sync.Mutex
	rcpt []string
	data string
	done chan struct{}
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	f := &fakeSMTP{ln: ln, done: make(chan struct{})}
	go f.serve()
	return f
}

func (f *fakeSMTP) serve() {
	defer close(f.done)

	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
	reply("220 localhost ESMTP")

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 localhost")
		case strings.HasPrefix(cmd, "MAIL FROM"):
			reply("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO"):
			f.mu.Lock()
			f.rcpt = append(f.rcpt, strings.TrimSpace(line))
			f.mu.Unlock()
			reply("250 OK")
		case cmd == "DATA":
			reply("354 go ahead")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			f.mu.Lock()
			f.data = b.String()
			f.mu.Unlock()
			reply("250 OK")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 unsupported")
		}
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("アドレス未設定ならNop", func(t *testing.T) {
		t.Parallel()
		s := New(config.SMTP{}, nil)
		assert.IsType(t, Nop{}, s)
		assert.NoError(t, s.Send(t.Context(), "a@example.com", "s", "b"))
	})

	t.Run("アドレス設定済みならSMTP", func(t *testing.T) {
		t.Parallel()
		s := New(config.SMTP{Addr: "localhost:25"}, nil)
		assert.IsType(t, &SMTP{}, s)
	})
}

func TestSMTPSend(t *testing.T) {
	t.Parallel()

	t.Run("メールを送信できる", func(t *testing.T) {
		t.Parallel()
		srv := startFakeSMTP(t)

		m := NewSMTP(config.SMTP{
			Addr:       srv.ln.Addr().String(),
			From:       "no-reply@taskflow.local",
			SubjPrefix: "[taskflow]",
			Timeout:    time.Second,
		}, nil)

		ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
		defer cancel()
		require.NoError(t, m.Send(ctx, "bob@example.com", "📣 Maintenance", "Downtime at 2am"))
		<-srv.done

		srv.mu.Lock()
		defer srv.mu.Unlock()
		require.Len(t, srv.rcpt, 1)
		assert.Contains(t, srv.rcpt[0], "bob@example.com")
		assert.Contains(t, srv.data, "To: bob@example.com")
		assert.Contains(t, srv.data, "Subject: "+mime.QEncoding.Encode("utf-8", "[taskflow] 📣 Maintenance"))
		assert.Contains(t, srv.data, "Downtime at 2am")
	})

	t.Run("接続できない場合はエラー", func(t *testing.T) {
		t.Parallel()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().String()
		require.NoError(t, ln.Close())

		m := NewSMTP(config.SMTP{Addr: addr, Timeout: 200 * time.Millisecond}, nil)
		assert.Error(t, m.Send(t.Context(), "bob@example.com", "s", "b"))
	})
}

func TestBuildMessage(t *testing.T) {
	t.Parallel()

	msg := string(buildMessage("a@example.com", "b@example.com", "件名", "1行目\n2行目"))
	assert.Contains(t, msg, "Content-Type: text/plain; charset=utf-8\r\n")
	assert.Contains(t, msg, "1行目\r\n2行目\r\n")
	assert.NotContains(t, msg, "Subject: 件名")
}
