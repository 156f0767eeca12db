package reviewer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseVerdict(t *testing.T) {
	plain := `{"summary": "ok", "comments": [{"file": "a.go", "line": 3, "comment": "nit"}]}`
	summary, comments, err := parseVerdict(plain)
	if err != nil {
		t.Fatalf("parseVerdict failed: %v", err)
	}
	if summary != "ok" || len(comments) != 1 || comments[0].File != "a.go" {
		t.Errorf("summary %q comments %+v", summary, comments)
	}

	fenced := "```json\n" + plain + "\n```"
	summary, comments, err = parseVerdict(fenced)
	if err != nil {
		t.Fatalf("parseVerdict of fenced output failed: %v", err)
	}
	if summary != "ok" || len(comments) != 1 {
		t.Errorf("fenced: summary %q comments %+v", summary, comments)
	}
}

func TestParseVerdictDropsIncompleteComments(t *testing.T) {
	raw := `{"summary": "ok", "comments": [
		{"file": "", "line": 1, "comment": "no file"},
		{"file": "a.go", "line": 2, "comment": ""},
		{"file": "b.go", "line": 3, "comment": "kept"}
	]}`
	_, comments, err := parseVerdict(raw)
	if err != nil {
		t.Fatalf("parseVerdict failed: %v", err)
	}
	if len(comments) != 1 || comments[0].File != "b.go" {
		t.Errorf("comments = %+v, want only b.go", comments)
	}
}

func TestParseVerdictErrors(t *testing.T) {
	if _, _, err := parseVerdict("the model rambled instead of emitting JSON"); err == nil {
		t.Error("expected error for non-JSON output")
	}
	if _, _, err := parseVerdict(`{"comments": []}`); err == nil {
		t.Error("expected error for missing summary")
	}
}

func TestOpenAIReviewerReview(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{
					"content": `{"summary": "two issues found", "comments": [{"file": "main.go", "line": 14, "comment": "unchecked error"}]}`,
				}},
			},
			"usage": map[string]any{"total_tokens": 321},
		})
	}))
	defer srv.Close()

	r := NewOpenAIReviewer(srv.URL, "sk-test", "gpt-4o")
	result, err := r.Review(context.Background(), Input{
		RepoFullName: "acme/widgets",
		Number:       5,
		Title:        "Add widget cache",
		Author:       "alice",
		Diff:         "diff --git a/main.go b/main.go",
	})
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotReq.Model != "gpt-4o" || len(gotReq.Messages) != 2 {
		t.Errorf("request = %+v", gotReq)
	}
	if !strings.Contains(gotReq.Messages[1].Content, "acme/widgets") {
		t.Error("prompt missing repository name")
	}

	if result.Summary != "two issues found" || result.TokensUsed != 321 || result.Model != "gpt-4o" {
		t.Errorf("result = %+v", result)
	}
	if len(result.Comments) != 1 || result.Comments[0].Line != 14 {
		t.Errorf("comments = %+v", result.Comments)
	}
}

func TestOpenAIReviewerAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limit exceeded"},
		})
	}))
	defer srv.Close()

	r := NewOpenAIReviewer(srv.URL, "sk-test", "gpt-4o")
	_, err := r.Review(context.Background(), Input{RepoFullName: "acme/widgets", Number: 1})
	if err == nil {
		t.Fatal("expected error from API failure")
	}
	if !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Errorf("error = %v, want model error message", err)
	}
}

func TestBuildPromptTruncatesDiff(t *testing.T) {
	in := Input{
		RepoFullName: "acme/widgets",
		Number:       1,
		Diff:         strings.Repeat("x", maxDiffBytes+100),
	}
	prompt := buildPrompt(in)
	if !strings.Contains(prompt, "truncated") {
		t.Error("oversized diff should be flagged as truncated")
	}
	if len(prompt) > maxDiffBytes+2048 {
		t.Errorf("prompt length %d not bounded", len(prompt))
	}
}

func TestBuildPromptIncludesFileContents(t *testing.T) {
	in := Input{
		RepoFullName: "acme/widgets",
		Number:       1,
		Diff:         "+x",
		Files: []SourceFile{
			{Path: "main.go", Patch: "+x", Content: "package main"},
			{Path: "gone.go", Patch: "-y"},
		},
	}
	prompt := buildPrompt(in)
	if !strings.Contains(prompt, "Full contents of main.go") || !strings.Contains(prompt, "package main") {
		t.Errorf("prompt missing file contents:\n%s", prompt)
	}
	if strings.Contains(prompt, "Full contents of gone.go") {
		t.Error("prompt has a contents section for a file without contents")
	}
}
