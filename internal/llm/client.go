package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MimeLyc/sairing/internal/prompt"
)

// Client talks to an OpenAI-compatible API. It is safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new LLM client with the given configuration
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Client{
		config:  config,
		baseURL: strings.TrimRight(config.APIURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}, nil
}

// ChatCompletion creates a chat completion request to the configured LLM API
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, opts *ChatCompletionOptions) (*ChatResponse, error) {
	if opts == nil {
		opts = NewChatCompletionOptions()
	}

	if opts.SystemPrompt != "" {
		messages = append([]Message{{Role: "system", Content: opts.SystemPrompt}}, messages...)
	}

	request := ChatRequest{
		Model:       c.getModel(opts),
		Messages:    messages,
		MaxTokens:   c.getMaxTokens(opts),
		Temperature: c.getTemperature(opts),
	}

	response, err := c.makeRequest(ctx, http.MethodPost, "/chat/completions", request)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	return response, nil
}

// SimpleChat sends one user prompt and returns the first choice.
func (c *Client) SimpleChat(ctx context.Context, userPrompt string, systemPrompt string) (string, error) {
	opts := NewChatCompletionOptions().WithSystemPrompt(systemPrompt)
	return c.firstChoice(ctx, []Message{{Role: "user", Content: userPrompt}}, opts)
}

// Complete runs instruction as the system prompt over text. This is the
// text-in/text-out capability used for classification.
func (c *Client) Complete(ctx context.Context, instruction, text string) (string, error) {
	opts := NewChatCompletionOptions().
		WithSystemPrompt(instruction).
		WithTemperature(0)
	return c.firstChoice(ctx, []Message{{Role: "user", Content: text}}, opts)
}

// DescribeImage asks the vision model for a natural-language description.
func (c *Client) DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	return c.askImage(ctx, prompt.DescribeImage, image, mimeType)
}

// ReadText asks the vision model to copy the text visible in an image.
func (c *Client) ReadText(ctx context.Context, image []byte, mimeType string) (string, error) {
	return c.askImage(ctx, prompt.ReadImageText, image, mimeType)
}

func (c *Client) askImage(ctx context.Context, instruction string, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("empty image")
	}
	msg := Message{
		Role:    "user",
		Content: instruction,
		Images:  []Image{{MimeType: mimeType, Data: image}},
	}
	opts := NewChatCompletionOptions().WithModel(c.config.visionModel())
	return c.firstChoice(ctx, []Message{msg}, opts)
}

// Transcribe uploads audio to /audio/transcriptions and returns the text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	upload := NewFile(filename, audio)
	if err := upload.ToMultipart(writer, "file"); err != nil {
		return "", err
	}
	if err := writer.WriteField("model", c.config.transcribeModel()); err != nil {
		return "", err
	}
	if err := writer.WriteField("response_format", "text"); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	raw, err := c.do(ctx, http.MethodPost, "/audio/transcriptions", &body, writer.FormDataContentType())
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (c *Client) firstChoice(ctx context.Context, messages []Message, opts *ChatCompletionOptions) (string, error) {
	response, err := c.ChatCompletion(ctx, messages, opts)
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return response.Choices[0].Message.Content, nil
}

// makeRequest sends payload as JSON and decodes a chat response.
func (c *Client) makeRequest(ctx context.Context, method, path string, payload interface{}) (*ChatResponse, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	responseBody, err := c.do(ctx, method, path, body, "application/json")
	if err != nil {
		return nil, err
	}

	var chatResponse ChatResponse
	if err := json.Unmarshal(responseBody, &chatResponse); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if chatResponse.Error != nil && chatResponse.Error.Message != "" {
		return &chatResponse, chatResponse.Error
	}
	return &chatResponse, nil
}

// do performs the HTTP round trip and returns the body of a 2xx response.
// Error bodies carrying an API error object are returned as *Error.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return nil, fmt.Errorf("request timed out: %w", err)
		}
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error *Error `json:"error"`
		}
		if json.Unmarshal(responseBody, &apiErr) == nil && apiErr.Error != nil && apiErr.Error.Message != "" {
			return nil, apiErr.Error
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(responseBody))
	}

	return responseBody, nil
}

// getModel returns the model to use for the request
func (c *Client) getModel(opts *ChatCompletionOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	return c.config.Model
}

// getMaxTokens returns the max tokens to use for the request
func (c *Client) getMaxTokens(opts *ChatCompletionOptions) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return c.config.MaxTokens
}

// getTemperature returns the temperature to use for the request
func (c *Client) getTemperature(opts *ChatCompletionOptions) float64 {
	if opts.Temperature >= 0 && opts.Temperature <= 2 {
		return opts.Temperature
	}
	return c.config.Temperature
}
