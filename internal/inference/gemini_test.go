package inference

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/propability/internal/model"
)

type fakeGenerator struct {
	parts []genai.Part
	text  string
	err   error
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(f.text)}},
		}},
	}, nil
}

func newImageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func errorsIsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidResponse)
}

func TestGeminiAnalyzer_Success(t *testing.T) {
	img := newImageServer(t)
	gen := &fakeGenerator{text: "```json\n{\"species\":\"Monstera\",\"success_rate\":88,\"health_status\":\"Healthy\",\"feedback\":\"Good node.\"}\n```"}
	a := newGeminiAnalyzer(gen, 0)

	res, err := a.Analyze(context.Background(), model.AnalysisRequest{ImageURL: img.URL + "/p.png"})
	require.NoError(t, err)

	assert.Equal(t, "Monstera", res.Species)
	assert.Equal(t, 88, res.SuccessRate)
	require.Len(t, gen.parts, 2)
	blob, ok := gen.parts[0].(genai.Blob)
	require.True(t, ok, "first part should be the inline image")
	assert.Equal(t, "image/png", blob.MIMEType)
}

func TestGeminiAnalyzer_GenerateError(t *testing.T) {
	img := newImageServer(t)
	a := newGeminiAnalyzer(&fakeGenerator{err: errors.New("quota exceeded")}, 0)

	_, err := a.Analyze(context.Background(), model.AnalysisRequest{ImageURL: img.URL})

	assert.ErrorContains(t, err, "quota exceeded")
}

func TestGeminiAnalyzer_InvalidOutput(t *testing.T) {
	img := newImageServer(t)
	a := newGeminiAnalyzer(&fakeGenerator{text: "I think it looks healthy!"}, 0)

	_, err := a.Analyze(context.Background(), model.AnalysisRequest{ImageURL: img.URL})

	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestGeminiAnalyzer_ImageUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	gen := &fakeGenerator{}
	a := newGeminiAnalyzer(gen, 0)

	_, err := a.Analyze(context.Background(), model.AnalysisRequest{ImageURL: srv.URL})

	assert.ErrorContains(t, err, "status 404")
	assert.Nil(t, gen.parts, "model should not be called without an image")
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("  {\"a\":1} "))
}
