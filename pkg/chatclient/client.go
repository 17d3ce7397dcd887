// Package chatclient is a Go client for the order chat endpoints: sending,
// typing signals, read receipts, the thread view and the SSE fallback stream.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/kayakoyan/marketplace-backend/pkg/types"
)

const (
	customerBase             = "/chats"
	workerBase               = "/worker/chats"
	errorBodyReadLimit int64 = 4096
	defaultHTTPTimeout       = 15 * time.Second
)

var errBaseURLRequired = errors.New("chat api base url is required")

// Client talks to one side of the chat API on behalf of a signed-in user.
type Client struct {
	httpClient *http.Client
	streamHTTP *http.Client
	baseURL    string
	token      string
	chatBase   string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the client used for request/response calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithStreamHTTPClient overrides the client used for the long-lived SSE
// stream. It should not carry a short overall timeout.
func WithStreamHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.streamHTTP = client
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// AsWorker targets the worker routes instead of the customer ones.
func AsWorker() Option {
	return func(c *Client) {
		c.chatBase = workerBase
	}
}

// NewClient builds a chat client for the API at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	client := &Client{
		baseURL:    trimmed,
		chatBase:   customerBase,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		streamHTTP: &http.Client{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Message mirrors the message.sent payload.
type Message struct {
	ID         uint64     `json:"id"`
	SenderID   uint64     `json:"sender_id"`
	SenderName string     `json:"sender_name"`
	Message    *string    `json:"message"`
	Type       string     `json:"type"`
	FilePath   *string    `json:"file_path"`
	FileName   *string    `json:"file_name"`
	FileURL    *string    `json:"file_url"`
	CreatedAt  time.Time  `json:"created_at"`
	ReadAt     *time.Time `json:"read_at"`
}

// Counterparty is the other participant of an order.
type Counterparty struct {
	ID     uint64  `json:"id"`
	Name   string  `json:"name"`
	Role   string  `json:"role"`
	Avatar *string `json:"avatar"`
}

// Thread is the full conversation of one order.
type Thread struct {
	OrderID      uint64       `json:"order_id"`
	OrderNumber  string       `json:"order_number"`
	Status       string       `json:"status"`
	StatusLabel  string       `json:"status_label"`
	ChatEnabled  bool         `json:"chat_enabled"`
	Counterparty Counterparty `json:"counterparty"`
	Messages     []Message    `json:"messages"`
}

// ReadReceipt mirrors the messages.read payload.
type ReadReceipt struct {
	ReaderID   uint64    `json:"reader_id"`
	ReaderName string    `json:"reader_name"`
	MessageIDs []uint64  `json:"message_ids"`
	ReadAt     time.Time `json:"read_at"`
}

// APIError is a non-2xx answer decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("chat api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("chat api: %s: %s", e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Send posts a text message.
func (c *Client) Send(ctx context.Context, orderID uint64, text string) (*Message, error) {
	body, err := json.Marshal(map[string]string{"message": text})
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	var out Message
	if err := c.do(ctx, http.MethodPost, c.orderPath(orderID, ""), "application/json", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendFile uploads a file as a message. The server keeps the original name.
func (c *Client) SendFile(ctx context.Context, orderID uint64, fileName string, file io.Reader) (*Message, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy upload: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("finish upload: %w", err)
	}
	var out Message
	if err := c.do(ctx, http.MethodPost, c.orderPath(orderID, ""), form.FormDataContentType(), &buf, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Typing sends an ephemeral typing signal.
func (c *Client) Typing(ctx context.Context, orderID uint64, isTyping bool) error {
	body, err := json.Marshal(map[string]bool{"is_typing": isTyping})
	if err != nil {
		return fmt.Errorf("encode typing: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.orderPath(orderID, "/typing"), "application/json", bytes.NewReader(body), nil)
}

// MarkRead marks the counterparty's messages as read. The receipt is nil
// when nothing was unread.
func (c *Client) MarkRead(ctx context.Context, orderID uint64) (*ReadReceipt, error) {
	var out struct {
		Receipt *ReadReceipt `json:"receipt"`
	}
	if err := c.do(ctx, http.MethodPost, c.orderPath(orderID, "/read"), "", nil, &out); err != nil {
		return nil, err
	}
	return out.Receipt, nil
}

// Messages loads the whole thread of an order.
func (c *Client) Messages(ctx context.Context, orderID uint64) (*Thread, error) {
	var out Thread
	if err := c.do(ctx, http.MethodGet, c.orderPath(orderID, "/messages"), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UnreadCount returns the caller's total unread messages.
func (c *Client) UnreadCount(ctx context.Context) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, c.baseURL+c.chatBase+"/unread-count", "", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) orderPath(orderID uint64, suffix string) string {
	return fmt.Sprintf("%s%s/%d%s", c.baseURL, c.chatBase, orderID, suffix)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) do(ctx context.Context, method, url, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
	var envelope types.ErrorEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Code == "" {
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	return &APIError{Status: resp.StatusCode, Code: envelope.Error.Code, Message: envelope.Error.Message}
}
