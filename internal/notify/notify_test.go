package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"viewpulse/internal/model"
)

func TestRegistrySendWrapsErrors(t *testing.T) {
	email := NewMockSender(model.ChannelEmail, "bad@example.com")
	reg := NewRegistry(email, nil)

	require.NoError(t, reg.Send(context.Background(), model.ChannelEmail, "ok@example.com", "hi"))

	err := reg.Send(context.Background(), model.ChannelEmail, "bad@example.com", "hi")
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	require.Equal(t, model.ChannelEmail, sendErr.Channel)
	require.Equal(t, "bad@example.com", sendErr.Recipient)

	err = reg.Send(context.Background(), model.ChannelSMS, "+15550100", "hi")
	require.ErrorAs(t, err, &sendErr)
	require.Contains(t, err.Error(), "no sender configured")

	require.Equal(t, []model.Channel{model.ChannelEmail}, reg.Channels())
	require.Len(t, email.Sent(), 1)
}

func TestChatSender(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got["chat_id"] == "blocked" {
			_, _ = w.Write([]byte(`{"ok":false,"description":"Forbidden: bot was blocked by the user"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sender := &ChatSender{Endpoint: srv.URL, Token: "tok", Timeout: time.Second}
	require.Equal(t, model.ChannelChat, sender.Channel())
	require.NoError(t, sender.Send(context.Background(), "42", "rate is high"))
	require.Equal(t, "/bottok/sendMessage", path)
	require.Equal(t, "42", got["chat_id"])
	require.Equal(t, "rate is high", got["text"])

	err := sender.Send(context.Background(), "blocked", "rate is high")
	require.Error(t, err)
	require.Contains(t, err.Error(), "blocked by the user")
}

func TestChatSenderNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	sender := &ChatSender{Endpoint: srv.URL, Token: "tok", Timeout: time.Second}
	err := sender.Send(context.Background(), "42", "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestSMSSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/Accounts/AC1/Messages.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = r.ParseForm()
		if r.PostForm.Get("To") == "+10000000000" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"invalid To number"}`))
			return
		}
		if r.PostForm.Get("From") != "+15550000" || r.PostForm.Get("Body") != "hello" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sender := &SMSSender{Endpoint: srv.URL, AccountSID: "AC1", AuthToken: "secret", From: "+15550000", Timeout: time.Second}
	require.NoError(t, sender.Send(context.Background(), "+15550100", "hello"))

	err := sender.Send(context.Background(), "+10000000000", "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid To number")
}

func TestEmailSender(t *testing.T) {
	sender := NewEmailSender(EmailConfig{Host: "smtp.example.com", From: "alerts@example.com", Username: "u", Password: "p"})
	var gotAddr string
	var gotTo []string
	var gotMsg string
	sender.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotTo = to
		gotMsg = string(msg)
		if to[0] == "bounce@example.com" {
			return errors.New("550 mailbox unavailable")
		}
		return nil
	}

	require.Equal(t, model.ChannelEmail, sender.Channel())
	require.NoError(t, sender.Send(context.Background(), "ops@example.com", "line one\nline two"))
	require.Equal(t, "smtp.example.com:587", gotAddr)
	require.Equal(t, []string{"ops@example.com"}, gotTo)
	require.Contains(t, gotMsg, "Subject: viewpulse alert\r\n")
	require.True(t, strings.HasSuffix(gotMsg, "line one\r\nline two\r\n"))

	require.Error(t, sender.Send(context.Background(), "bounce@example.com", "x"))
	require.Error(t, sender.Send(context.Background(), "a@example.com\r\nBcc: b@example.com", "x"))
}

func TestEmailSenderHonoursContext(t *testing.T) {
	sender := NewEmailSender(EmailConfig{Host: "smtp.example.com"})
	release := make(chan struct{})
	defer close(release)
	sender.send = func(string, smtp.Auth, string, []string, []byte) error {
		<-release
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sender.Send(ctx, "ops@example.com", "x")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
