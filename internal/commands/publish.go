package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"chatsync/internal/channels"
	"chatsync/internal/config"
)

type publishRequest struct {
	Channel string             `json:"channel"`
	Name    channels.EventName `json:"name"`
	Data    json.RawMessage    `json:"data"`
}

type publishResponse struct {
	Delivered int `json:"delivered"`
}

// Publish injects one event. On the websocket transport it goes through the
// broker's HTTP endpoint, so it is stamped as coming from the server.
func Publish(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, channel string, name channels.EventName, data json.RawMessage) error {
	topic, ok := channels.Default().TopicOf(channel)
	if !ok {
		return fmt.Errorf("unknown channel %q", channel)
	}
	if _, err := topic.Schema(name); err != nil {
		return err
	}
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if !json.Valid(data) {
		return fmt.Errorf("event data is not valid JSON")
	}

	if cfg.Transport != config.TransportWS {
		conn, err := Connect(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()
		if err := conn.Publish(ctx, channel, name, data); err != nil {
			return fmt.Errorf("failed to publish: %w", err)
		}
		_, _ = fmt.Fprintf(out, "Published %s on %s\n", name, channel)
		return nil
	}

	endpoint, err := PublishURL(cfg.WSURL)
	if err != nil {
		return err
	}
	reqBody, err := json.Marshal(publishRequest{Channel: channel, Name: name, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call broker: %w. Is the broker running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to publish (Status: %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Published %s on %s to %d connection(s)\n", name, channel, result.Delivered)
	return nil
}

// PublishURL turns the broker's websocket URL into its publish endpoint.
func PublishURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("invalid websocket url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid websocket url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws") + "/publish"
	return u.String(), nil
}
