// Package reviewer produces AI code reviews for pull request diffs.
package reviewer

import (
	"context"
)

// SourceFile is one changed file handed to the model. Content holds the
// file as it stands at the PR head; empty for removed files or when the
// content budget is spent.
type SourceFile struct {
	Path    string
	Patch   string
	Content string
}

// Input is everything the model sees about a pull request.
type Input struct {
	RepoFullName string
	Number       int
	Title        string
	Description  string
	Author       string
	Diff         string
	Files        []SourceFile
	Guidelines   string
}

// Comment is one line-anchored review finding.
type Comment struct {
	File    string
	Line    int
	Comment string
}

// Result is a finished review.
type Result struct {
	Summary    string
	Comments   []Comment
	Model      string
	TokensUsed int64
}

// Reviewer turns a pull request into a review. Implementations are
// expected to be safe for concurrent use; the worker pool shares one.
type Reviewer interface {
	Review(ctx context.Context, in Input) (*Result, error)
}
