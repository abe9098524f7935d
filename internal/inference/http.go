package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/propability/internal/model"
)

// HTTPAnalyzer calls POST <baseURL>/analyze.
//
// Request:  {"image_url": "...", "days_propagating": 0}
// Response: {"species": "...", "success_rate": 72, "health_status": "...", "feedback": "..."}
type HTTPAnalyzer struct {
	endpoint string
	client   *http.Client
}

// NewHTTPAnalyzer creates a client for the inference service at baseURL.
func NewHTTPAnalyzer(baseURL string, timeout time.Duration) *HTTPAnalyzer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPAnalyzer{
		endpoint: strings.TrimRight(baseURL, "/") + "/analyze",
		client:   &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	ImageURL        string `json:"image_url"`
	DaysPropagating int    `json:"days_propagating"`
}

// Analyze sends the photo URL and decodes the scored result. Any non-2xx
// status or malformed body is an error.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.Analysis, error) {
	body, err := json.Marshal(analyzeRequest{
		ImageURL:        req.ImageURL,
		DaysPropagating: req.DaysPropagating,
	})
	if err != nil {
		return nil, fmt.Errorf("inference: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inference: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("inference: sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference: backend error: %d %s: %s",
			resp.StatusCode, http.StatusText(resp.StatusCode), strings.TrimSpace(string(snippet)))
	}

	var payload analysisPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("inference: %w: decoding body: %v", ErrInvalidResponse, err)
	}
	analysis, err := payload.toAnalysis()
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	return analysis, nil
}

var _ Analyzer = (*HTTPAnalyzer)(nil)
