package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"

	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/llm"
)

var _ llm.Extractor = (*Client)(nil)

// Extract implements llm.Extractor with a single-turn chat completion carrying
// the instruction and one image (or PDF file) part.
func (c *Client) Extract(ctx context.Context, req llm.ExtractRequest) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	if c.cfg.APIKey == "" {
		return "", common.ExtractionError(http.StatusUnauthorized, "openai api key is not configured", common.ErrUnauthorized)
	}

	mt := llm.AttachmentMIME(req.Attachment)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	c.logger.Info("llm.extract.start",
		"req_id", rid,
		"provider", "openai",
		"model", c.cfg.Model,
		"attachment", req.Attachment.Kind,
		"mime", mt,
		"bytes", len(req.Attachment.Data),
		"max_tokens", maxTokens,
	)

	params := oai.ChatCompletionNewParams{
		Model: c.cfg.Model,
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage(buildParts(req, mt)),
		},
		MaxCompletionTokens: oai.Int(int64(maxTokens)),
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = oai.Float(float64(c.cfg.Temperature))
	}
	if req.JSONOnly {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := c.chat.Chat.Completions.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		c.logger.Error("llm.extract.http_error",
			"req_id", rid, "status", status, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", common.ExtractionError(status, "openai chat completion failed", err)
	}
	if len(completion.Choices) == 0 {
		c.logger.Error("llm.extract.no_choices",
			"req_id", rid, "elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", common.ExtractionError(http.StatusOK, "no choices in openai response", nil)
	}

	choice := completion.Choices[0]
	if choice.FinishReason == "length" {
		c.logger.Warn("llm.extract.truncated", "req_id", rid, "max_tokens", maxTokens)
	}
	content := strings.TrimSpace(choice.Message.Content)

	c.logger.Info("llm.extract.ok",
		"req_id", rid,
		"finish_reason", choice.FinishReason,
		"content_len", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}

func buildParts(req llm.ExtractRequest, mimeType string) []oai.ChatCompletionContentPartUnionParam {
	parts := []oai.ChatCompletionContentPartUnionParam{
		oai.TextContentPart(req.Instruction),
	}
	dataURL := llm.DataURL(mimeType, req.Attachment.Data)

	if req.Attachment.Kind == llm.AttachDocument && llm.IsPDF(req.Attachment) {
		filename := req.Attachment.Filename
		if filename == "" {
			filename = "invoice.pdf"
		}
		return append(parts, oai.FileContentPart(oai.ChatCompletionContentPartFileFileParam{
			FileData: oai.String(dataURL),
			Filename: oai.String(filename),
		}))
	}
	return append(parts, oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
		URL: dataURL,
	}))
}
