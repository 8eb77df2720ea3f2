package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/MimeLyc/sairing/internal/prompt"
	"github.com/MimeLyc/sairing/pkg/log"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-1.5-flash"

// Provider serves completion, image description, image text reading and
// audio transcription from one Gemini model.
type Provider struct {
	client      *genai.Client
	modelName   string
	temperature float32
	logger      *log.Logger
}

func New(ctx context.Context, apiKey, modelName string, temperature float32, opts ...option.ClientOption) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Provider{
		client:      client,
		modelName:   modelName,
		temperature: temperature,
		logger:      log.GetLogger().With("gemini"),
	}, nil
}

func (p *Provider) Close() error {
	return p.client.Close()
}

func (p *Provider) Complete(ctx context.Context, instruction, text string) (string, error) {
	model := p.model(instruction)
	model.SetTemperature(0)
	return p.generate(ctx, model, genai.Text(text))
}

func (p *Provider) DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("empty image")
	}
	return p.generate(ctx, p.model(""), imagePart(image, mimeType), genai.Text(prompt.DescribeImage))
}

// ReadText transcribes the visible text of an image. It stands in for OCR
// when no tesseract binary is configured.
func (p *Provider) ReadText(ctx context.Context, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("empty image")
	}
	return p.generate(ctx, p.model(""), imagePart(image, mimeType), genai.Text(prompt.ReadImageText))
}

func (p *Provider) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio")
	}
	blob := genai.Blob{MIMEType: audioMimeType(filename), Data: audio}
	return p.generate(ctx, p.model(""), blob, genai.Text(prompt.Transcribe))
}

func (p *Provider) model(system string) *genai.GenerativeModel {
	model := p.client.GenerativeModel(p.modelName)
	model.SetTemperature(p.temperature)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	return model
}

func (p *Provider) generate(ctx context.Context, model *genai.GenerativeModel, parts ...genai.Part) (string, error) {
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		p.logger.Error("GenerateContent failed: %v", err)
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	return responseText(resp), nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(sb.String())
}

func imagePart(image []byte, mimeType string) genai.Part {
	format := strings.TrimPrefix(strings.ToLower(mimeType), "image/")
	if format == "" || format == "jpg" {
		format = "jpeg"
	}
	return genai.ImageData(format, image)
}

func audioMimeType(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(lower, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(lower, ".m4a"), strings.HasSuffix(lower, ".aac"):
		return "audio/aac"
	default:
		return "audio/mp3"
	}
}
