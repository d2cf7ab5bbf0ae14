// Package whisper provides a transcriber backed by a whisper.cpp server.
//
// It talks to a running whisper-server binary, which exposes a REST API at
// POST /inference. Each call uploads one segment as multipart/form-data. Raw
// PCM segments are wrapped in a WAV container first; other formats (WebM,
// Ogg) are uploaded as-is and require the server to be started with
// --convert so that it can decode them through ffmpeg.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("fr"),
//	)
//	res, err := p.Transcribe(ctx, segment, "audio/pcm;rate=16000;channels=1")
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/transcriber"
)

const defaultLanguage = "auto"

// Compile-time assertion that Provider implements transcriber.Provider.
var _ transcriber.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base", "small"). When empty the server uses whichever model it was
// started with; this is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "fr"). Defaults to "auto" (server-side detection).
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests. The
// request deadline comes from the ctx passed to Transcribe, so the client
// should not impose a shorter timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// DefaultServerURL is where a locally started whisper.cpp server listens when
// run with --port 8081.
const DefaultServerURL = "http://localhost:8081"

// Provider implements transcriber.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads audio to the /inference endpoint and returns the text.
func (p *Provider) Transcribe(ctx context.Context, data []byte, contentType string) (transcriber.Result, error) {
	if len(data) == 0 {
		return transcriber.Result{}, transcriber.ErrEmptyAudio
	}

	payload, filename := data, "segment."+audio.FileExtension(contentType)
	if f := audio.ParseFormat(contentType); f.IsPCM() {
		payload = audio.EncodeWAV(data, f.SampleRate, f.Channels)
		filename = "segment.wav"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(payload); err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: write audio data: %w", err)
	}

	fields := [][2]string{
		{"response_format", "json"},
		{"language", p.language},
		{"model", p.model},
	}
	for _, kv := range fields {
		if kv[1] == "" {
			continue
		}
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return transcriber.Result{}, fmt.Errorf("whisper: write %s field: %w", kv[0], err)
		}
	}

	if err := mw.Close(); err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return transcriber.Result{}, fmt.Errorf("whisper: server returned HTTP %d: %s",
			resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	if result.Error != "" {
		return transcriber.Result{}, fmt.Errorf("whisper: server error: %s", result.Error)
	}

	res := transcriber.Result{Text: strings.TrimSpace(result.Text)}
	if p.language != defaultLanguage {
		res.Language = p.language
	}
	return res, nil
}
