package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/agentflow/internal/config"
	"github.com/phrazzld/agentflow/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// fakeModels replays scripted responses.
type fakeModels struct {
	mu        sync.Mutex
	responses []*genai.GenerateContentResponse
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeModels) GenerateContent(
	_ context.Context,
	_ string,
	contents []*genai.Content,
	_ *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, contents[0].Parts[0].Text)

	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var resp *genai.GenerateContentResponse
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	return resp, err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: text}}},
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

func testGenerator(models contentGenerator, maxRetries int) *Generator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := newGenerator(logger, config.LLMConfig{ModelName: "test-model", MaxRetries: maxRetries}, models)
	g.baseDelay = time.Millisecond
	return g
}

func TestGenerateSuccess(t *testing.T) {
	models := &fakeModels{responses: []*genai.GenerateContentResponse{textResponse("hello there")}}

	out, err := testGenerator(models, 3).Generate(context.Background(), "say hello")

	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
	assert.Equal(t, []string{"say hello"}, models.prompts)
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	models := &fakeModels{
		errs:      []error{errors.New("503"), errors.New("503"), nil},
		responses: []*genai.GenerateContentResponse{nil, nil, textResponse("ok")},
	}

	out, err := testGenerator(models, 3).Generate(context.Background(), "prompt")

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, models.calls)
}

func TestGenerateGivesUpAfterMaxRetries(t *testing.T) {
	models := &fakeModels{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}

	_, err := testGenerator(models, 2).Generate(context.Background(), "prompt")

	assert.ErrorIs(t, err, generation.ErrTransientFailure)
	assert.Equal(t, 3, models.calls)
}

func TestGeneratePermanentFailures(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
		want error
	}{
		{"nil response", nil, generation.ErrInvalidResponse},
		{"no candidates", &genai.GenerateContentResponse{}, generation.ErrInvalidResponse},
		{"blocked", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonSafety,
		}}}, generation.ErrContentBlocked},
		{"empty text", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: ""}}},
		}}}, generation.ErrInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models := &fakeModels{responses: []*genai.GenerateContentResponse{tt.resp}}

			_, err := testGenerator(models, 3).Generate(context.Background(), "prompt")

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, models.calls, "permanent errors are not retried")
		})
	}
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	models := &fakeModels{}

	_, err := testGenerator(models, 3).Generate(context.Background(), "   ")

	assert.ErrorIs(t, err, generation.ErrEmptyPrompt)
	assert.Zero(t, models.calls)
}

func TestGenerateStopsOnCancellation(t *testing.T) {
	models := &fakeModels{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	g := testGenerator(models, 5)
	g.baseDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := g.Generate(ctx, "prompt")
	assert.ErrorIs(t, err, generation.ErrTransientFailure)
	assert.Equal(t, 1, models.calls)
}

func TestValidateConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	_, err := validateConfig(ctx, logger, config.LLMConfig{ModelName: "m"})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	_, err = validateConfig(ctx, logger, config.LLMConfig{GeminiAPIKey: "k"})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	cfg, err := validateConfig(ctx, logger, config.LLMConfig{
		GeminiAPIKey:      "k",
		ModelName:         "m",
		MaxRetries:        -1,
		RetryDelaySeconds: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, defaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, defaultRetryDelaySeconds, cfg.RetryDelaySeconds)

	_, err = NewGenerator(ctx, nil, cfg)
	assert.Error(t, err)
}
