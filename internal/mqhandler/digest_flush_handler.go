package mqhandler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	contracts "mailpilot/contracts/mq"
	"mailpilot/internal/digest"
)

// DigestFlushHandler 把一个已结束窗口的摘要片段渲染成一份 digest 投递
type DigestFlushHandler struct {
	digests *digest.Service
	logger  *zap.Logger
}

func NewDigestFlushHandler(digests *digest.Service, logger *zap.Logger) *DigestFlushHandler {
	return &DigestFlushHandler{digests: digests, logger: logger}
}

func (h *DigestFlushHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p contracts.DigestFlushPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Malformed digest.flush payload, dropping", zap.Error(err))
		return nil
	}

	windowStart, err := time.Parse(time.RFC3339, p.WindowStart)
	if err != nil {
		h.logger.Error("Invalid digest window timestamp, dropping",
			zap.String("window_start", p.WindowStart),
			zap.Error(err),
		)
		return nil
	}

	return h.digests.Flush(ctx, p.AccountID, windowStart)
}
