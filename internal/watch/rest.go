package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	msgdomain "bizlinkone/backend/internal/message/domain"
)

// MessageLister fetches the current message list of a channel.
type MessageLister interface {
	ListMessages(ctx context.Context, workspaceID, channelID string) ([]*msgdomain.Message, error)
}

// RestClient calls the gateway REST routes with a bearer token.
type RestClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewRestClient returns a client for baseURL (e.g. http://localhost:4000/rest/v1). httpClient may be nil.
func NewRestClient(baseURL, token string, httpClient *http.Client) (*RestClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("watch: REST base URL is empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RestClient{baseURL: strings.TrimSuffix(baseURL, "/"), token: token, http: httpClient}, nil
}

// ListMessages returns the channel's messages, newest last.
func (c *RestClient) ListMessages(ctx context.Context, workspaceID, channelID string) ([]*msgdomain.Message, error) {
	u := fmt.Sprintf("%s/workspaces/%s/channels/%s/messages",
		c.baseURL, url.PathEscape(workspaceID), url.PathEscape(channelID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("watch: list messages: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &body) == nil && body.Error != "" {
			return nil, fmt.Errorf("watch: list messages: %s: %s", resp.Status, body.Error)
		}
		return nil, fmt.Errorf("watch: list messages: %s", resp.Status)
	}
	var msgs []*msgdomain.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("watch: decode messages: %w", err)
	}
	return msgs, nil
}
