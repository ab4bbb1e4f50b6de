package generate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tryrack/tryon/internal/config"
	"github.com/tryrack/tryon/pkg/models"
)

// transportAttempts bounds the retry budget for transient transport failures.
const transportAttempts = 3

// GeminiInvoker implements Invoker against the Gemini generateContent API.
type GeminiInvoker struct {
	cfg     config.GeminiConfig
	client  *http.Client
	backoff time.Duration
}

func NewGeminiInvoker(cfg config.GeminiConfig) *GeminiInvoker {
	return &GeminiInvoker{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		backoff: 2 * time.Second,
	}
}

func (g *GeminiInvoker) Name() string { return "gemini" }

// Generate sends one multi-image request and returns the generated image. It
// retries transport failures up to transportAttempts times; a service-level
// rejection or an imageless response is returned as-is.
func (g *GeminiInvoker) Generate(ctx context.Context, subject models.ImagePayload, items []ItemImage, opts Options) (models.ImagePayload, error) {
	if subject.Empty() {
		return models.ImagePayload{}, fmt.Errorf("%w: empty subject payload", ErrServiceError)
	}
	if len(items) == 0 {
		return models.ImagePayload{}, fmt.Errorf("%w: no item payloads", ErrServiceError)
	}

	body, err := g.buildRequest(subject, items, opts)
	if err != nil {
		return models.ImagePayload{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= transportAttempts; attempt++ {
		payload, err := g.doRequest(ctx, body)
		if err == nil {
			return payload, nil
		}
		if !errors.Is(err, ErrTransport) {
			return models.ImagePayload{}, err
		}
		lastErr = err

		if attempt < transportAttempts {
			select {
			case <-time.After(g.backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return models.ImagePayload{}, fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
			}
		}
	}
	return models.ImagePayload{}, lastErr
}

func (g *GeminiInvoker) buildRequest(subject models.ImagePayload, items []ItemImage, opts Options) ([]byte, error) {
	parts := []geminiPart{{Text: BuildPrompt(items, opts)}}
	parts = append(parts, inlinePart(subject))
	for _, item := range items {
		parts = append(parts, inlinePart(item.Payload))
	}

	req := geminiRequest{
		Contents: []geminiContent{{Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			ResponseModalities: []string{"Image"},
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal generation request: %w", err)
	}
	return body, nil
}

func (g *GeminiInvoker) doRequest(ctx context.Context, body []byte) (models.ImagePayload, error) {
	u := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.cfg.BaseURL, g.cfg.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return models.ImagePayload{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	httpReq.Header.Set("x-goog-api-key", g.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return models.ImagePayload{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.ImagePayload{}, fmt.Errorf("%w: status %d: %s", ErrServiceError, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return models.ImagePayload{}, fmt.Errorf("%w: decoding response: %v", ErrServiceError, err)
	}

	return extractImage(geminiResp)
}

// extractImage pulls the first inline image out of the response parts.
func extractImage(resp geminiResponse) (models.ImagePayload, error) {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return models.ImagePayload{}, fmt.Errorf("%w: invalid image encoding: %v", ErrNoImageInResponse, err)
			}
			contentType := part.InlineData.MimeType
			if contentType == "" {
				contentType = "image/png"
			}
			return models.ImagePayload{Data: data, ContentType: contentType}, nil
		}
	}
	return models.ImagePayload{}, ErrNoImageInResponse
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: timeout: %v", ErrTransport, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrTransport, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

func inlinePart(p models.ImagePayload) geminiPart {
	mime := p.ContentType
	if mime == "" {
		mime = "image/jpeg"
	}
	return geminiPart{InlineData: &geminiInlineData{
		MimeType: mime,
		Data:     base64.StdEncoding.EncodeToString(p.Data),
	}}
}

// --- Gemini wire types ---

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Compile-time check that GeminiInvoker implements Invoker.
var _ Invoker = (*GeminiInvoker)(nil)
