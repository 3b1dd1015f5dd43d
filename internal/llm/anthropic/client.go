package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/llm"
)

var _ llm.Extractor = (*Client)(nil)

// Extract implements llm.Extractor with one user message holding the attachment
// block followed by the instruction text.
func (c *Client) Extract(ctx context.Context, req llm.ExtractRequest) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	if c.cfg.APIKey == "" {
		return "", common.ExtractionError(http.StatusUnauthorized, "anthropic api key is not configured", common.ErrUnauthorized)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	block, mt, err := attachmentBlock(req.Attachment)
	if err != nil {
		return "", err
	}

	c.logger.Info("llm.extract.start",
		"req_id", rid,
		"provider", "anthropic",
		"model", c.cfg.Model,
		"attachment", req.Attachment.Kind,
		"mime", mt,
		"bytes", len(req.Attachment.Data),
		"max_tokens", maxTokens,
	)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(block, anthropic.NewTextBlock(req.Instruction)),
		},
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(c.cfg.Temperature))
	}

	message, err := c.messages.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		c.logger.Error("llm.extract.http_error",
			"req_id", rid, "status", status, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", common.ExtractionError(status, "anthropic messages call failed", err)
	}

	var b strings.Builder
	for _, content := range message.Content {
		if text := content.AsText(); text.Text != "" {
			b.WriteString(text.Text)
		}
	}
	if message.StopReason == anthropic.StopReasonMaxTokens {
		c.logger.Warn("llm.extract.truncated", "req_id", rid, "max_tokens", maxTokens)
	}
	out := strings.TrimSpace(b.String())

	c.logger.Info("llm.extract.ok",
		"req_id", rid,
		"stop_reason", message.StopReason,
		"content_len", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func attachmentBlock(a llm.Attachment) (anthropic.ContentBlockParamUnion, string, error) {
	mt := llm.AttachmentMIME(a)
	content := base64.StdEncoding.EncodeToString(a.Data)

	switch mt {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return anthropic.NewImageBlockBase64(mt, content), mt, nil
	case "application/pdf":
		block := anthropic.DocumentBlockParam{
			Source: anthropic.DocumentBlockParamSourceUnion{
				OfBase64: &anthropic.Base64PDFSourceParam{
					Data: content,
				},
			},
		}
		return anthropic.ContentBlockParamUnion{OfDocument: &block}, mt, nil
	default:
		return anthropic.ContentBlockParamUnion{}, mt,
			common.ExtractionError(0, "unsupported attachment type "+mt, common.ErrInvalidInput)
	}
}
