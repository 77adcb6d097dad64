package classify

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
	"mailpilot/pkg/metrics"
)

// Verdict 分类服务的裁决。RuleID 为 nil 表示弃权（没有规则适用）。
type Verdict struct {
	RuleID    *int64 `json:"rule_id"`
	Rationale string `json:"rationale"`
}

// CandidateRule 发给分类服务的候选规则摘要
type CandidateRule struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
}

type classifyRequest struct {
	From    string          `json:"from"`
	ReplyTo string          `json:"reply_to,omitempty"`
	Cc      string          `json:"cc,omitempty"`
	Subject string          `json:"subject"`
	Body    string          `json:"body"`
	Rules   []CandidateRule `json:"rules"`
}

// Client 调用外部 AI 分类服务。服务被视为不可靠且慢：
// 超时、5xx、格式错误的响应一律当作弃权处理，从不作为硬错误上抛。
type Client struct {
	baseURL      string
	maxBodyChars int
	httpClient   *http.Client
	breaker      *circuitbreaker.CircuitBreaker
	logger       *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, maxBodyChars int, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if maxBodyChars == 0 {
		maxBodyChars = 2000
	}
	return &Client{
		baseURL:      baseURL,
		maxBodyChars: maxBodyChars,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger:  logger,
	}
}

// Classify asks the classification service to pick exactly one rule for the
// message, or abstain. Never returns an error for service-side uncertainty;
// the zero verdict (nil RuleID) means "no match".
func (c *Client) Classify(ctx context.Context, msg *model.Message, candidates []CandidateRule) Verdict {
	if len(candidates) == 0 {
		return Verdict{}
	}

	body := msg.Body
	if len(body) > c.maxBodyChars {
		body = body[:c.maxBodyChars]
	}

	req := classifyRequest{
		From:    msg.From,
		ReplyTo: msg.ReplyTo,
		Cc:      msg.Cc,
		Subject: msg.Subject,
		Body:    body,
		Rules:   candidates,
	}

	start := time.Now()
	var verdict Verdict
	err := c.breaker.Execute(func() error {
		return c.call(ctx, req, &verdict)
	})
	if err != nil {
		// AI 不确定不是错误：降级为"没有匹配"
		metrics.RecordClassifierCallLatency("error", time.Since(start))
		c.logger.Warn("Classifier call failed, treating as no match",
			zap.String("message_id", msg.ID),
			zap.Int("candidates", len(candidates)),
			zap.Error(err),
		)
		return Verdict{}
	}
	metrics.RecordClassifierCallLatency("ok", time.Since(start))

	// 裁决必须指向候选集里的规则，否则视为弃权
	if verdict.RuleID != nil && !containsRule(candidates, *verdict.RuleID) {
		c.logger.Warn("Classifier picked unknown rule, treating as no match",
			zap.String("message_id", msg.ID),
			zap.Int64("rule_id", *verdict.RuleID),
		)
		return Verdict{}
	}

	return verdict
}

func (c *Client) call(ctx context.Context, req classifyRequest, out *Verdict) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(b))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("classifier service returned %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("classifier response malformed: %w", err)
	}
	return nil
}

func containsRule(candidates []CandidateRule, id int64) bool {
	for _, c := range candidates {
		if c.ID == id {
			return true
		}
	}
	return false
}
