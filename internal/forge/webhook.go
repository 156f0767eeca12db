package forge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Webhook actions that trigger a review. Everything else is ignored.
var reviewableActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
}

// PullRequestEvent is a webhook delivery that should trigger a review.
type PullRequestEvent struct {
	Action       string
	RepoFullName string
	Number       int
	Author       string
}

// VerifySignature checks a GitHub X-Hub-Signature-256 header against the
// raw request body. Comparison is constant-time.
func VerifySignature(secret string, body []byte, signature string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature[len(prefix):]))
}

// ParsePullRequestEvent decodes a pull_request webhook payload. It
// returns (nil, nil) for deliveries whose action does not warrant a
// review.
func ParsePullRequestEvent(body []byte) (*PullRequestEvent, error) {
	var raw struct {
		Action      string `json:"action"`
		PullRequest struct {
			Number int `json:"number"`
			User   struct {
				Login string `json:"login"`
			} `json:"user"`
		} `json:"pull_request"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	if !reviewableActions[raw.Action] {
		return nil, nil
	}
	if raw.Repository.FullName == "" || raw.PullRequest.Number == 0 {
		return nil, fmt.Errorf("webhook payload missing repository or pull request number")
	}

	return &PullRequestEvent{
		Action:       raw.Action,
		RepoFullName: raw.Repository.FullName,
		Number:       raw.PullRequest.Number,
		Author:       raw.PullRequest.User.Login,
	}, nil
}
