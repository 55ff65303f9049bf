package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"viewpulse/internal/model"
)

// SMSSender submits messages to a Twilio-compatible gateway:
// POST {endpoint}/Accounts/{sid}/Messages.json with To, From and Body form
// fields and basic auth.
type SMSSender struct {
	Endpoint   string
	AccountSID string
	AuthToken  string
	From       string
	Timeout    time.Duration
}

func (s *SMSSender) Channel() model.Channel {
	return model.ChannelSMS
}

func (s *SMSSender) Send(ctx context.Context, recipient, message string) error {
	form := url.Values{}
	form.Set("To", recipient)
	form.Set("From", s.From)
	form.Set("Body", message)
	endpoint := strings.TrimRight(s.Endpoint, "/") + "/Accounts/" + url.PathEscape(s.AccountSID) + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.AccountSID, s.AuthToken)
	client := &http.Client{Timeout: s.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
