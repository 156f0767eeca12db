package reviewer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = `You are a senior engineer reviewing a pull request.
Identify bugs, security issues, and maintainability problems in the diff.
Respond with a JSON object:
{"summary": "...", "comments": [{"file": "path", "line": 10, "comment": "..."}]}
Only comment on lines present in the diff. Keep the summary under 200 words.`

// maxDiffBytes bounds how much diff we send to the model. Oversized
// diffs are truncated; the prompt says so, so the summary reflects it.
const maxDiffBytes = 120 << 10

// OpenAIReviewer reviews diffs through an OpenAI-compatible
// chat completions endpoint.
type OpenAIReviewer struct {
	// baseURL overrides the API base URL for testing.
	// Empty string means https://api.openai.com.
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenAIReviewer(baseURL, apiKey, model string) *OpenAIReviewer {
	return &OpenAIReviewer{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (r *OpenAIReviewer) apiBase() string {
	if r.baseURL != "" {
		return r.baseURL
	}
	return "https://api.openai.com"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Review sends the pull request to the model and parses its verdict.
func (r *OpenAIReviewer) Review(ctx context.Context, in Input) (*Result, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(in)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}

	url := r.apiBase() + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode model response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("model error: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	summary, comments, err := parseVerdict(parsed.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	return &Result{
		Summary:    summary,
		Comments:   comments,
		Model:      r.model,
		TokensUsed: parsed.Usage.TotalTokens,
	}, nil
}

func buildPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\nPull request #%d by %s\nTitle: %s\n",
		in.RepoFullName, in.Number, in.Author, in.Title)
	if in.Description != "" {
		fmt.Fprintf(&b, "Description:\n%s\n", in.Description)
	}
	if in.Guidelines != "" {
		fmt.Fprintf(&b, "\nReview guidelines:\n%s\n", in.Guidelines)
	}

	diff := in.Diff
	truncated := false
	if len(diff) > maxDiffBytes {
		diff = diff[:maxDiffBytes]
		truncated = true
	}
	b.WriteString("\nDiff:\n```diff\n")
	b.WriteString(diff)
	b.WriteString("\n```\n")
	if truncated {
		b.WriteString("\n(The diff was truncated for length; note this in the summary.)\n")
	}

	for _, f := range in.Files {
		if f.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "\nFull contents of %s at the PR head:\n```\n%s\n```\n", f.Path, f.Content)
	}
	return b.String()
}

// parseVerdict extracts the JSON verdict from model output, tolerating a
// markdown code fence around it.
func parseVerdict(content string) (string, []Comment, error) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}

	var verdict struct {
		Summary  string `json:"summary"`
		Comments []struct {
			File    string `json:"file"`
			Line    int    `json:"line"`
			Comment string `json:"comment"`
		} `json:"comments"`
	}
	if err := json.Unmarshal([]byte(text), &verdict); err != nil {
		return "", nil, fmt.Errorf("parse review verdict: %w", err)
	}
	if verdict.Summary == "" {
		return "", nil, fmt.Errorf("review verdict missing summary")
	}

	comments := make([]Comment, 0, len(verdict.Comments))
	for _, c := range verdict.Comments {
		if c.File == "" || c.Comment == "" {
			continue
		}
		comments = append(comments, Comment{File: c.File, Line: c.Line, Comment: c.Comment})
	}
	return verdict.Summary, comments, nil
}
