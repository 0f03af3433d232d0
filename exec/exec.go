// Package exec runs code snippets against a Piston-style execution API. It is
// invoked by UI layers; the session core never calls it.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
)

// Request is a snippet to execute.
type Request struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Result is the outcome of a remote execution.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	Error    string `json:"error,omitempty"`
}

type runtime struct {
	language string
	version  string
}

// Pinned runtime versions per language identifier.
var runtimes = map[string]runtime{
	"javascript": {"javascript", "18.15.0"},
	"typescript": {"typescript", "5.0.3"},
	"python":     {"python", "3.10.0"},
	"java":       {"java", "15.0.2"},
	"cpp":        {"c++", "10.2.0"},
	"go":         {"go", "1.16.2"},
	"rust":       {"rust", "1.68.2"},
	"csharp":     {"csharp", "6.12.0"},
	"ruby":       {"ruby", "3.0.1"},
	"php":        {"php", "8.2.3"},
}

// Client talks to a Piston-compatible endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type pistonRequest struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Files    []pistonFile `json:"files"`
}

type pistonFile struct {
	Content string `json:"content"`
}

type pistonResponse struct {
	Run struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
		Code   int    `json:"code"`
		Signal string `json:"signal"`
	} `json:"run"`
}

// Execute submits the snippet and returns its output. Transient transport
// failures are retried briefly; an unsupported language is reported in the
// result, not as an error.
func (c *Client) Execute(ctx context.Context, req Request) (Result, error) {
	rt, ok := runtimes[req.Language]
	if !ok {
		return Result{
			Stderr:   fmt.Sprintf("Language '%s' is not supported", req.Language),
			ExitCode: 1,
			Error:    "Unsupported language",
		}, nil
	}

	body, err := json.Marshal(pistonRequest{
		Language: rt.language,
		Version:  rt.version,
		Files:    []pistonFile{{Content: req.Code}},
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode execution request: %w", err)
	}

	var resp pistonResponse
	attempt := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode >= 500 {
			return fmt.Errorf("execution API returned %d", httpResp.StatusCode)
		}
		if httpResp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("execution API returned %d", httpResp.StatusCode))
		}
		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			return backoff.Permanent(fmt.Errorf("decode execution response: %w", err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 15 * time.Second
	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		return Result{ExitCode: 1, Error: err.Error()}, nil
	}

	result := Result{
		Stdout:   resp.Run.Stdout,
		Stderr:   resp.Run.Stderr,
		ExitCode: resp.Run.Code,
	}
	if resp.Run.Signal != "" {
		result.Error = fmt.Sprintf("Process killed by signal: %s", resp.Run.Signal)
	}
	return result, nil
}
