package daemon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/reviewbot-dev/reviewbot/internal/storage"
)

// Client provides an interface for interacting with the reviewbot daemon.
// This abstraction allows for easy mocking in tests.
type Client interface {
	// SubmitReview requests a review for a pull request
	SubmitReview(repository, developer string, pullRequest int) (*ReviewResponse, error)

	// GetJob retrieves a job with its comments by public id
	GetJob(jobUUID string) (*JobResponse, error)

	// ListJobs lists the account's jobs, newest first
	ListJobs(limit int) ([]storage.ReviewJob, error)

	// GetStatus retrieves daemon status
	GetStatus() (*storage.DaemonStatus, error)

	// GetUsage retrieves the account's usage for a billing month
	GetUsage(month string) (*UsageResponse, error)

	// WhitelistAdd adds a developer to a repository's whitelist
	WhitelistAdd(repository, developer string) error

	// WhitelistRemove removes a developer from a repository's whitelist
	WhitelistRemove(repository, developer string) error

	// ResetSeats releases all seats taken in a billing month
	ResetSeats(month string) (int64, error)
}

// HTTPClient is the default HTTP-based implementation of Client.
type HTTPClient struct {
	addr       string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP daemon client. The token is sent as
// a bearer token on authenticated endpoints.
func NewHTTPClient(addr, token string) *HTTPClient {
	return &HTTPClient{
		addr:       addr,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) do(method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.addr+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("server returned %s: %s", resp.Status, errResp.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) SubmitReview(repository, developer string, pullRequest int) (*ReviewResponse, error) {
	var resp ReviewResponse
	err := c.do("POST", "/api/review", ReviewRequest{
		Repository:  repository,
		PullRequest: pullRequest,
		Developer:   developer,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) GetJob(jobUUID string) (*JobResponse, error) {
	var resp JobResponse
	if err := c.do("GET", "/api/job?id="+url.QueryEscape(jobUUID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) ListJobs(limit int) ([]storage.ReviewJob, error) {
	var resp struct {
		Jobs []storage.ReviewJob `json:"jobs"`
	}
	path := "/api/jobs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.do("GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *HTTPClient) GetStatus() (*storage.DaemonStatus, error) {
	var status storage.DaemonStatus
	if err := c.do("GET", "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *HTTPClient) GetUsage(month string) (*UsageResponse, error) {
	path := "/api/usage"
	if month != "" {
		path += "?month=" + url.QueryEscape(month)
	}
	var usage UsageResponse
	if err := c.do("GET", path, nil, &usage); err != nil {
		return nil, err
	}
	return &usage, nil
}

func (c *HTTPClient) WhitelistAdd(repository, developer string) error {
	return c.do("POST", "/api/whitelist/add", WhitelistRequest{Repository: repository, Developer: developer}, nil)
}

func (c *HTTPClient) WhitelistRemove(repository, developer string) error {
	return c.do("POST", "/api/whitelist/remove", WhitelistRequest{Repository: repository, Developer: developer}, nil)
}

func (c *HTTPClient) ResetSeats(month string) (int64, error) {
	var resp struct {
		SeatsReleased int64 `json:"seats_released"`
	}
	if err := c.do("POST", "/api/seats/reset", SeatsResetRequest{Month: month}, &resp); err != nil {
		return 0, err
	}
	return resp.SeatsReleased, nil
}
