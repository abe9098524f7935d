// Package inference talks to the service that scores a cutting photo.
//
// Two backends implement Analyzer: HTTPAnalyzer posts to a JSON /analyze
// endpoint, GeminiAnalyzer asks a Gemini vision model for the same fields.
package inference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/sakif/propability/internal/model"
)

// Analyzer scores one photo. Implementations must return an error rather
// than a partial Analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req model.AnalysisRequest) (*model.Analysis, error)
}

// ErrInvalidResponse is wrapped by every error caused by a malformed or
// incomplete analysis payload.
var ErrInvalidResponse = errors.New("invalid analysis response")

// analysisPayload is the wire shape shared by both backends.
type analysisPayload struct {
	Species      string   `json:"species"`
	SuccessRate  *float64 `json:"success_rate"`
	HealthStatus string   `json:"health_status"`
	Feedback     string   `json:"feedback"`
}

func (p analysisPayload) toAnalysis() (*model.Analysis, error) {
	if p.SuccessRate == nil {
		return nil, fmt.Errorf("%w: success_rate missing", ErrInvalidResponse)
	}
	rate := *p.SuccessRate
	if math.IsNaN(rate) || rate < 0 || rate > 100 {
		return nil, fmt.Errorf("%w: success_rate %v out of range", ErrInvalidResponse, rate)
	}
	if rate != math.Trunc(rate) {
		return nil, fmt.Errorf("%w: success_rate %v is not a whole number", ErrInvalidResponse, rate)
	}
	health := strings.TrimSpace(p.HealthStatus)
	if health == "" {
		return nil, fmt.Errorf("%w: health_status missing", ErrInvalidResponse)
	}

	return &model.Analysis{
		Species:      strings.TrimSpace(p.Species),
		SuccessRate:  int(rate),
		HealthStatus: health,
		Feedback:     strings.TrimSpace(p.Feedback),
	}, nil
}
