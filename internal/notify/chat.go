package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"viewpulse/internal/model"
)

// ChatSender posts messages through a Telegram-style bot API:
// POST {endpoint}/bot{token}/sendMessage {"chat_id": ..., "text": ...}.
// Recipients are chat IDs.
type ChatSender struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

type chatResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (s *ChatSender) Channel() model.Channel {
	return model.ChannelChat
}

func (s *ChatSender) Send(ctx context.Context, recipient, message string) error {
	payload := map[string]any{"chat_id": recipient, "text": message}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := strings.TrimRight(s.Endpoint, "/") + "/bot" + s.Token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: s.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return fmt.Errorf("decode chat response (status %d): %w", resp.StatusCode, err)
	}
	if !chatResp.OK {
		if chatResp.Description == "" {
			return fmt.Errorf("chat api returned status %d", resp.StatusCode)
		}
		return errors.New(chatResp.Description)
	}
	return nil
}
