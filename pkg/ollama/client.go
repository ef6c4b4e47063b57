package ollama

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"github.com/menta2k/annotation-overlay/pkg/findings"
)

// DefaultTimeout bounds one analysis when the caller's context has no deadline
const DefaultTimeout = 300 * time.Second

// Client is a findings.Source backed by an Ollama vision model
type Client struct {
	client *api.Client
	model  string
	logger *zap.Logger
}

// NewClient creates a client for the server at ollamaURL. Any path on the URL
// is ignored. model is used when a request does not name one.
func NewClient(ollamaURL, model string, logger *zap.Logger) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", ollamaURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{
		client: api.NewClient(baseURL, http.DefaultClient),
		model:  model,
		logger: logger.Named("ollama"),
	}, nil
}

// Findings asks the model to locate findings on the image
func (c *Client) Findings(ctx context.Context, req findings.Request) ([]findings.Finding, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	imgBytes, err := base64.StdEncoding.DecodeString(req.ImageB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = findings.DefaultPrompt
	}

	streamFalse := false
	chatReq := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream:  &streamFalse,
		Options: modelOptions(model),
	}

	start := time.Now()
	var responseContent strings.Builder
	err = c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		responseContent.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}
	if responseContent.Len() == 0 {
		return nil, fmt.Errorf("empty response from ollama")
	}

	list, err := findings.ParseResponse(responseContent.String())
	if err != nil {
		return nil, err
	}
	c.logger.Info("analysis complete",
		zap.String("model", model),
		zap.Int("findings", len(list)),
		zap.Duration("took", time.Since(start)))
	return list, nil
}

// modelOptions lowers sampling randomness for localization tasks and widens
// the context for the MiniCPM-V 4.x family
func modelOptions(model string) map[string]any {
	options := map[string]any{
		"temperature": 0.2,
	}
	m := strings.ToLower(model)
	if strings.Contains(m, "minicpm-v4") || strings.Contains(m, "minicpm-v-4") || strings.Contains(m, "minicpmv4") {
		options["top_p"] = 0.8
		options["num_ctx"] = 4096
	}
	return options
}
