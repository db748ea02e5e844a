// Package transcribe turns media files into timestamped transcripts via
// an OpenAI-compatible speech service, working around the service's
// upload size limit with audio extraction and chunked submission.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mediavault/mediavault/pkg/config"
	"github.com/mediavault/mediavault/pkg/models"
)

// SpeechClient is the port to the external speech-to-text service.
type SpeechClient interface {
	Transcribe(ctx context.Context, audioPath, language string) (*models.TranscriptionResult, error)
}

// OpenAIClient submits files to an OpenAI-compatible transcription
// endpoint and parses the verbose response into ordered segments.
type OpenAIClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewOpenAIClient builds the client from provider configuration.
func NewOpenAIClient(providers config.ProviderConfig) *OpenAIClient {
	baseURL := providers.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     providers.APIKey,
		model:      providers.SpeechModel,
	}
}

type verboseResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads one audio file. An empty language requests
// auto-detection.
func (c *OpenAIClient) Transcribe(ctx context.Context, audioPath, language string) (*models.TranscriptionResult, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		defer writer.Close()
		part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		_ = writer.WriteField("model", c.model)
		_ = writer.WriteField("response_format", "verbose_json")
		if language != "" {
			_ = writer.WriteField("language", language)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", pr)
	if err != nil {
		return nil, fmt.Errorf("failed to build transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, string(body))
	}

	var out verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode transcription response: %w", err)
	}

	result := &models.TranscriptionResult{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
		Segments: make([]models.Segment, 0, len(out.Segments)),
	}
	for _, s := range out.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		result.Segments = append(result.Segments, models.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  text,
		})
	}
	return result, nil
}
