package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mailpilot/internal/model"
	"mailpilot/pkg/circuitbreaker"
)

// HTTPClient 通过 mailbox 网关服务访问具体后端（Gmail 类 / Outlook 类）。
// 网关负责 OAuth 和底层 SDK 调用；这里只映射能力面和错误类别。
type HTTPClient struct {
	baseURL        string
	httpClient     *http.Client
	webhookBreaker *circuitbreaker.CircuitBreaker
	logger         *zap.Logger
}

func NewHTTPClient(baseURL string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		webhookBreaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger:         logger,
	}
}

type threadRequest struct {
	Label string `json:"label,omitempty"`
}

type draftRequest struct {
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return statusToError(resp.StatusCode)
}

// statusToError 把网关状态码映射到引擎的错误类别，
// RetryingClient 据此决定是否重试
func statusToError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: provider returned 429", ErrRateLimited)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: provider returned 404", ErrNotFound)
	case status >= 500:
		return fmt.Errorf("%w: provider returned %d", ErrTransient, status)
	default:
		return fmt.Errorf("provider returned %d", status)
	}
}

func (c *HTTPClient) ArchiveThread(ctx context.Context, accountID int64, threadID string) error {
	return c.post(ctx, fmt.Sprintf("/accounts/%d/threads/%s/archive", accountID, threadID), nil)
}

func (c *HTTPClient) ApplyLabel(ctx context.Context, accountID int64, threadID, label string) error {
	return c.post(ctx, fmt.Sprintf("/accounts/%d/threads/%s/labels", accountID, threadID), threadRequest{Label: label})
}

func (c *HTTPClient) RemoveLabel(ctx context.Context, accountID int64, threadID, label string) error {
	return c.post(ctx, fmt.Sprintf("/accounts/%d/threads/%s/labels/remove", accountID, threadID), threadRequest{Label: label})
}

func (c *HTTPClient) MarkRead(ctx context.Context, accountID int64, messageID string) error {
	return c.post(ctx, fmt.Sprintf("/accounts/%d/messages/%s/read", accountID, messageID), nil)
}

func (c *HTTPClient) MarkSpam(ctx context.Context, accountID int64, threadID string) error {
	return c.post(ctx, fmt.Sprintf("/accounts/%d/threads/%s/spam", accountID, threadID), nil)
}

// CreateDraft 空 threadID 表示独立草稿（如摘要投递），走账号级端点，
// 不能拼出带空路径段的 URL
func (c *HTTPClient) CreateDraft(ctx context.Context, accountID int64, threadID string, draft DraftInput) error {
	if threadID == "" {
		return c.post(ctx, fmt.Sprintf("/accounts/%d/drafts", accountID), draftRequest(draft))
	}
	return c.post(ctx, fmt.Sprintf("/accounts/%d/threads/%s/drafts", accountID, threadID), draftRequest(draft))
}

func (c *HTTPClient) SendReply(ctx context.Context, accountID int64, threadID string, draft DraftInput) error {
	return c.post(ctx, fmt.Sprintf("/accounts/%d/threads/%s/reply", accountID, threadID), draftRequest(draft))
}

func (c *HTTPClient) Forward(ctx context.Context, accountID int64, messageID string, draft DraftInput) error {
	return c.post(ctx, fmt.Sprintf("/accounts/%d/messages/%s/forward", accountID, messageID), draftRequest(draft))
}

// CallWebhook posts directly to the rule's webhook URL. 第三方 endpoint
// 不稳定是常态，熔断保护其余动作的执行时延。
func (c *HTTPClient) CallWebhook(ctx context.Context, accountID int64, url string, payload []byte) error {
	return c.webhookBreaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		return nil
	})
}

func (c *HTTPClient) GetThread(ctx context.Context, accountID int64, threadID string) ([]model.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+fmt.Sprintf("/accounts/%d/threads/%s", accountID, threadID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := statusToError(resp.StatusCode); err != nil {
		return nil, err
	}

	var msgs []model.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("failed to decode thread: %w", err)
	}
	return msgs, nil
}

func (c *HTTPClient) GetMessage(ctx context.Context, accountID int64, messageID string) (*model.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+fmt.Sprintf("/accounts/%d/messages/%s", accountID, messageID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := statusToError(resp.StatusCode); err != nil {
		return nil, err
	}

	var msg model.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}
