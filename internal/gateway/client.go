// Package gateway is a client for the WAHA-style WhatsApp HTTP API.
package gateway

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
	"time"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/metrics"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
)

// Config holds gateway connection settings
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// Media is an attachment sent alongside text
type Media struct {
	URL      string
	MimeType string
	Filename string
	Caption  string
}

// PollRequest describes a WhatsApp poll
type PollRequest struct {
	Name            string
	Options         []string
	MultipleAnswers bool
}

// SendResult is the gateway response for a sent message
type SendResult struct {
	MessageID string
}

// Session describes a gateway session
type Session struct {
	Name   string
	Status string
	Phone  string
	Push   string
}

// Chat describes a WhatsApp chat
type Chat struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client is the WhatsApp gateway API
type Client interface {
	SendText(ctx context.Context, session, phone, text string) (*SendResult, error)
	SendImage(ctx context.Context, session, phone string, media Media) (*SendResult, error)
	SendVideo(ctx context.Context, session, phone string, media Media) (*SendResult, error)
	SendFile(ctx context.Context, session, phone string, media Media) (*SendResult, error)
	SendVoice(ctx context.Context, session, phone string, media Media) (*SendResult, error)
	SendPoll(ctx context.Context, session, phone string, poll PollRequest) (*SendResult, error)
	GetSession(ctx context.Context, session string) (*Session, error)
	GetChat(ctx context.Context, session, phone string) (*Chat, error)
	GetProfilePicture(ctx context.Context, session, phone string) (string, error)
}

// APIError is a non-2xx gateway response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Body)
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    HTTPDoer
	logger  *slog.Logger
}

// NewClient creates a gateway client with retries
func NewClient(cfg Config, logger *slog.Logger) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewClientWithDoer(cfg, NewRetryClient(&http.Client{Timeout: timeout}, cfg.MaxRetries), logger)
}

// NewClientWithDoer creates a gateway client on a custom transport
func NewClientWithDoer(cfg Config, doer HTTPDoer, logger *slog.Logger) Client {
	return &httpClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    doer,
		logger:  logger,
	}
}

// ChatID converts international digits to a WhatsApp chat id
func ChatID(phone string) string {
	if strings.Contains(phone, "@") {
		return phone
	}
	return phone + "@c.us"
}

// MapSessionStatus converts gateway session states to device statuses
func MapSessionStatus(status string) string {
	switch strings.ToUpper(status) {
	case "WORKING":
		return models.DeviceStatusConnected
	case "STARTING":
		return models.DeviceStatusConnecting
	case "SCAN_QR_CODE":
		return models.DeviceStatusQRPending
	default:
		return models.DeviceStatusDisconnected
	}
}

type fileRef struct {
	URL      string `json:"url"`
	Mimetype string `json:"mimetype,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type sendResponse struct {
	ID  json.RawMessage `json:"id"`
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

func (r *sendResponse) messageID() string {
	if r.Key.ID != "" {
		return r.Key.ID
	}
	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		return s
	}
	var obj struct {
		ID         string `json:"id"`
		Serialized string `json:"_serialized"`
	}
	if err := json.Unmarshal(r.ID, &obj); err == nil {
		if obj.Serialized != "" {
			return obj.Serialized
		}
		return obj.ID
	}
	return ""
}

// SendText sends a plain text message
func (c *httpClient) SendText(ctx context.Context, session, phone, text string) (*SendResult, error) {
	return c.send(ctx, "sendText", map[string]interface{}{
		"session": session,
		"chatId":  ChatID(phone),
		"text":    text,
	})
}

// SendImage sends an image with optional caption
func (c *httpClient) SendImage(ctx context.Context, session, phone string, media Media) (*SendResult, error) {
	return c.sendMedia(ctx, "sendImage", session, phone, media)
}

// SendVideo sends a video with optional caption
func (c *httpClient) SendVideo(ctx context.Context, session, phone string, media Media) (*SendResult, error) {
	return c.sendMedia(ctx, "sendVideo", session, phone, media)
}

// SendFile sends a document
func (c *httpClient) SendFile(ctx context.Context, session, phone string, media Media) (*SendResult, error) {
	return c.sendMedia(ctx, "sendFile", session, phone, media)
}

// SendVoice sends a voice note
func (c *httpClient) SendVoice(ctx context.Context, session, phone string, media Media) (*SendResult, error) {
	return c.sendMedia(ctx, "sendVoice", session, phone, media)
}

func (c *httpClient) sendMedia(ctx context.Context, endpoint, session, phone string, media Media) (*SendResult, error) {
	payload := map[string]interface{}{
		"session": session,
		"chatId":  ChatID(phone),
		"file": fileRef{
			URL:      media.URL,
			Mimetype: media.MimeType,
			Filename: media.Filename,
		},
	}
	if media.Caption != "" {
		payload["caption"] = media.Caption
	}
	return c.send(ctx, endpoint, payload)
}

// SendPoll sends a poll
func (c *httpClient) SendPoll(ctx context.Context, session, phone string, poll PollRequest) (*SendResult, error) {
	return c.send(ctx, "sendPoll", map[string]interface{}{
		"session": session,
		"chatId":  ChatID(phone),
		"poll": map[string]interface{}{
			"name":            poll.Name,
			"options":         poll.Options,
			"multipleAnswers": poll.MultipleAnswers,
		},
	})
}

func (c *httpClient) send(ctx context.Context, endpoint string, payload interface{}) (*SendResult, error) {
	var resp sendResponse
	if err := c.do(ctx, http.MethodPost, "/api/"+endpoint, endpoint, payload, &resp); err != nil {
		return nil, err
	}
	return &SendResult{MessageID: resp.messageID()}, nil
}

// GetSession reads the session status
func (c *httpClient) GetSession(ctx context.Context, session string) (*Session, error) {
	var resp struct {
		Name   string `json:"name"`
		Status string `json:"status"`
		Me     *struct {
			ID       string `json:"id"`
			PushName string `json:"pushName"`
		} `json:"me"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(session), "session", nil, &resp); err != nil {
		return nil, err
	}

	out := &Session{Name: resp.Name, Status: MapSessionStatus(resp.Status)}
	if resp.Me != nil {
		out.Phone = strings.TrimSuffix(resp.Me.ID, "@c.us")
		out.Push = resp.Me.PushName
	}
	return out, nil
}

// GetChat reads chat metadata
func (c *httpClient) GetChat(ctx context.Context, session, phone string) (*Chat, error) {
	var chat Chat
	path := "/api/" + url.PathEscape(session) + "/chats/" + url.PathEscape(ChatID(phone))
	if err := c.do(ctx, http.MethodGet, path, "chat", nil, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetProfilePicture returns the contact's profile picture URL, if any
func (c *httpClient) GetProfilePicture(ctx context.Context, session, phone string) (string, error) {
	var resp struct {
		ProfilePictureURL string `json:"profilePictureURL"`
	}
	q := url.Values{}
	q.Set("session", session)
	q.Set("contactId", ChatID(phone))
	if err := c.do(ctx, http.MethodGet, "/api/contacts/profile-picture?"+q.Encode(), "profile_picture", nil, &resp); err != nil {
		return "", err
	}
	return resp.ProfilePictureURL, nil
}

func (c *httpClient) do(ctx context.Context, method, path, endpoint string, payload, out interface{}) error {
	var body io.Reader
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal gateway request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	if raw != nil {
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(raw)), nil
		}
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.GatewayRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("gateway request rejected",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
		)
		return &APIError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 300)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
