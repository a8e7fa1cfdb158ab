package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/webtech-network/autograder-sub001/internal/logging"
	"github.com/webtech-network/autograder-sub001/internal/template"
)

// =============================================================================
// GENAI PRODUCER
// =============================================================================
// Rewrites the formatter's deterministic summary into conversational feedback
// and grades essay tests. Backed by Google's Gemini API.

const feedbackSystemPrompt = `You are a teaching assistant writing feedback for a student's graded programming assignment.
You receive the grading breakdown. Rewrite it as encouraging, specific feedback:
lead with what works, then walk through the highest-impact fixes in order.
Do not change any scores or invent results. Keep it under 400 words.`

const essaySystemPrompt = `You are grading a student's written answer.
Score it from 0 to 100 against the question and the grading criteria.
Respond with ONLY a JSON object: {"score": <number>, "report": "<one-paragraph justification>"}`

// GenAIProducer produces AI feedback and grades essays.
type GenAIProducer struct {
	client    *genai.Client
	model     string
	timeout   time.Duration
	formatter Formatter
}

// NewGenAIProducer creates a producer against the Gemini API.
func NewGenAIProducer(apiKey, model string, timeout time.Duration) (*GenAIProducer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIProducer{client: client, model: model, timeout: timeout}, nil
}

// Produce formats the result deterministically, then asks the model to turn
// it into prose. The model never sees raw submission files.
func (p *GenAIProducer) Produce(ctx context.Context, in Input) (string, error) {
	summary, err := p.formatter.Produce(ctx, in)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	text, err := p.generate(ctx, feedbackSystemPrompt, summary)
	if err != nil {
		return "", fmt.Errorf("AI feedback generation failed: %w", err)
	}
	logging.Feedback("AI feedback generated for %s (%d bytes)", in.Submission.ID, len(text))
	return text, nil
}

// Score implements template.Scorer for the essay template.
func (p *GenAIProducer) Score(ctx context.Context, req template.ScoreRequest) (float64, string, error) {
	prompt := fmt.Sprintf("QUESTION:\n%s\n\nGRADING CRITERIA:\n%s\n\nSTUDENT ANSWER:\n%s",
		req.Question, orDefault(req.Rubric, "correctness, completeness, clarity"), req.Answer)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	text, err := p.generate(ctx, essaySystemPrompt, prompt)
	if err != nil {
		return 0, "", err
	}
	return parseEssayVerdict(text)
}

func (p *GenAIProducer) generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		})
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("model returned an empty response")
	}
	return text, nil
}

// parseEssayVerdict extracts the {score, report} object, tolerating markdown
// fences around the JSON.
func parseEssayVerdict(text string) (float64, string, error) {
	cleaned := stripMarkdownFences(text)
	var verdict struct {
		Score  float64 `json:"score"`
		Report string  `json:"report"`
	}
	if err := json.NewDecoder(strings.NewReader(cleaned)).Decode(&verdict); err != nil {
		return 0, "", fmt.Errorf("model output is not a score object: %w (raw: %s)", err, firstChars(text, 200))
	}
	if verdict.Score < 0 {
		verdict.Score = 0
	}
	if verdict.Score > 100 {
		verdict.Score = 100
	}
	return verdict.Score, verdict.Report, nil
}

func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func firstChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
