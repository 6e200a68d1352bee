package providers

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessage(t *testing.T) {
	msg := string(BuildMessage("probe@example.com", "ops@example.com", "docprobe: 1 failed",
		"<p>failed</p>", "line one\nline two", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))

	assert.Contains(t, msg, "From: probe@example.com\r\n")
	assert.Contains(t, msg, "To: ops@example.com\r\n")
	assert.Contains(t, msg, "Subject: docprobe: 1 failed\r\n")
	assert.Contains(t, msg, "Date: Sun, 01 Mar 2026 09:00:00 +0000\r\n")
	assert.Contains(t, msg, "line one\r\nline two")
	assert.Less(t, strings.Index(msg, "text/plain"), strings.Index(msg, "text/html"))
	assert.True(t, strings.HasSuffix(msg, "--"+boundary+"--\r\n"))
}

func TestBuildMessageEncodesSubject(t *testing.T) {
	msg := string(BuildMessage("a@example.com", "b@example.com", "Prüfung fehlgeschlagen", "", "", time.Now()))
	assert.Contains(t, msg, "Subject: =?utf-8?q?")
}

func TestSMTPSenderSend(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", 587, "user", "secret", "probe@example.com")

	var gotAddr string
	var gotTo []string
	var gotAuth smtp.Auth
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotAuth = addr, to, a
		return nil
	}

	require.NoError(t, s.Send(context.Background(), "ops@example.com", "subject", "<p>x</p>", "x"))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"ops@example.com"}, gotTo)
	assert.NotNil(t, gotAuth)

	s.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("454 TLS not available") }
	assert.ErrorContains(t, s.Send(context.Background(), "ops@example.com", "s", "", ""), "failed to send email")
}

func TestSMTPSenderCanceled(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", 587, "", "", "probe@example.com")
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("should not dial with a canceled context")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, "ops@example.com", "s", "", ""), context.Canceled)
}
