package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/sakif/propability/internal/model"
)

// DefaultGeminiModel is used when GEMINI_MODEL is not set.
const DefaultGeminiModel = "gemini-1.5-flash"

const geminiPrompt = `You are a plant propagation expert. Look at this photo of a plant cutting
placed in water or soil on day %d of propagation.
Respond with a single JSON object and nothing else, using exactly these keys:
  "species":       best guess of the plant species, or "Unknown"
  "success_rate":  integer 0-100, the chance this cutting will root
  "health_status": one or two words, e.g. "Healthy", "Wilting", "Rotting"
  "feedback":      one or two sentences of practical advice`

// generator is the part of *genai.GenerativeModel the analyzer uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiAnalyzer scores photos with a Gemini vision model. The photo is
// downloaded from its public URL and sent inline.
type GeminiAnalyzer struct {
	client *genai.Client
	model  generator
	http   *http.Client
}

// NewGeminiAnalyzer creates a Gemini client. Call Close when done.
func NewGeminiAnalyzer(ctx context.Context, apiKey, modelName string, timeout time.Duration) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("inference: GEMINI_API_KEY is not set")
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("inference: creating gemini client: %w", err)
	}

	m := client.GenerativeModel(modelName)
	m.SetTemperature(0.2)
	m.ResponseMIMEType = "application/json"

	a := newGeminiAnalyzer(m, timeout)
	a.client = client
	return a, nil
}

func newGeminiAnalyzer(g generator, timeout time.Duration) *GeminiAnalyzer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiAnalyzer{model: g, http: &http.Client{Timeout: timeout}}
}

// Close releases the underlying gRPC connection.
func (a *GeminiAnalyzer) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

func (a *GeminiAnalyzer) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.Analysis, error) {
	data, contentType, err := a.fetchImage(ctx, req.ImageURL)
	if err != nil {
		return nil, err
	}

	resp, err := a.model.GenerateContent(ctx,
		genai.Blob{MIMEType: contentType, Data: data},
		genai.Text(fmt.Sprintf(geminiPrompt, req.DaysPropagating)),
	)
	if err != nil {
		return nil, fmt.Errorf("inference: generating content: %w", err)
	}

	text, err := firstText(resp)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &payload); err != nil {
		return nil, fmt.Errorf("inference: %w: decoding model output: %v", ErrInvalidResponse, err)
	}
	analysis, err := payload.toAnalysis()
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	return analysis, nil
}

func (a *GeminiAnalyzer) fetchImage(ctx context.Context, url string) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("inference: creating image request: %w", err)
	}
	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("inference: fetching image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("inference: fetching image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, model.MaxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("inference: reading image: %w", err)
	}
	if len(data) > model.MaxImageBytes {
		return nil, "", fmt.Errorf("inference: image larger than %d bytes", model.MaxImageBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates returned from Gemini", ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty content returned from Gemini", ErrInvalidResponse)
	}
	if txt, ok := candidate.Content.Parts[0].(genai.Text); ok {
		return string(txt), nil
	}
	return "", fmt.Errorf("%w: unexpected response format from Gemini", ErrInvalidResponse)
}

// stripCodeFence removes a ```json ... ``` wrapper some models add.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var _ Analyzer = (*GeminiAnalyzer)(nil)
