// Package openai provides a transcriber backed by the OpenAI Audio
// Transcriptions API (POST /v1/audio/transcriptions).
//
// Any OpenAI-compatible server (Groq, LocalAI, faster-whisper-server) works
// with [WithBaseURL]. Raw PCM segments are wrapped in WAV before upload.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/transcriber"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Provider implements the transcriber.Provider interface.
var _ transcriber.Provider = (*Provider)(nil)

// Provider implements transcriber.Provider using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    string
	language string
	prompt   string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	language     string
	prompt       string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithLanguage sets the ISO-639-1 input language hint (e.g., "fr").
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithPrompt sets a vocabulary/style prompt sent with every request.
func WithPrompt(prompt string) Option {
	return func(c *config) {
		c.prompt = prompt
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI transcription Provider.
// If model is empty, DefaultModel (whisper-1) is used.
//
// The SDK's own retry loop is disabled: the capture pipeline owns retries.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai transcriber: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// Transcribe implements transcriber.Provider.
func (p *Provider) Transcribe(ctx context.Context, data []byte, contentType string) (transcriber.Result, error) {
	if len(data) == 0 {
		return transcriber.Result{}, transcriber.ErrEmptyAudio
	}

	uploadType := audio.MediaType(contentType)
	if f := audio.ParseFormat(contentType); f.IsPCM() {
		data = audio.EncodeWAV(data, f.SampleRate, f.Channels)
		uploadType = audio.ContentTypeWAV
	}
	filename := "segment." + audio.FileExtension(uploadType)

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(data), filename, uploadType),
		Model:          p.model,
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if p.language != "" {
		params.Language = param.NewOpt(p.language)
	}
	if p.prompt != "" {
		params.Prompt = param.NewOpt(p.prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("openai transcriber: transcribe: %w", err)
	}
	return transcriber.Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: p.language,
	}, nil
}

// ModelID returns the configured model name.
func (p *Provider) ModelID() string {
	return p.model
}
