package prcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// GitHub is a Checker backed by the GitHub REST API.
type GitHub struct {
	token   string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger

	// BaseURL is overridable for tests.
	BaseURL string
}

// NewGitHub creates a GitHub checker. An empty token makes anonymous calls.
func NewGitHub(token string, timeout time.Duration, logger *slog.Logger) *GitHub {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHub{
		token:   token,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		BaseURL: "https://api.github.com",
	}
}

type ghPull struct {
	State          string `json:"state"`
	Merged         bool   `json:"merged"`
	MergeCommitSHA string `json:"merge_commit_sha"`
	Head           struct {
		SHA string `json:"sha"`
	} `json:"head"`
}

type ghFile struct {
	Filename string `json:"filename"`
}

// Lookup implements Checker. Transport or decode failures degrade to
// StateUnknown rather than erroring: the gate chain treats unknown as a
// policy decision, not a hard failure.
func (g *GitHub) Lookup(ctx context.Context, prURL string) (*PR, error) {
	owner, repo, number, err := ParseURL(prURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var pull ghPull
	if err := g.getJSON(ctx, fmt.Sprintf("%s/repos/%s/%s/pulls/%d", g.BaseURL, owner, repo, number), &pull); err != nil {
		g.logger.Debug("PR lookup failed, returning unknown", "url", prURL, "error", err)
		return &PR{URL: prURL, State: StateUnknown}, nil
	}

	state := StateOpen
	switch {
	case pull.Merged:
		state = StateMerged
	case pull.State == "closed":
		state = StateClosed
	}

	pr := &PR{URL: prURL, HeadSHA: pull.Head.SHA, State: state}

	var files []ghFile
	if err := g.getJSON(ctx, fmt.Sprintf("%s/repos/%s/%s/pulls/%d/files?per_page=100", g.BaseURL, owner, repo, number), &files); err != nil {
		g.logger.Debug("PR file list failed", "url", prURL, "error", err)
	} else {
		for _, f := range files {
			pr.ChangedFiles = append(pr.ChangedFiles, f.Filename)
		}
	}

	if pull.Head.SHA != "" {
		if passed, err := g.checksPassed(ctx, owner, repo, pull.Head.SHA); err == nil {
			pr.ChecksPassed = &passed
		}
	}

	return pr, nil
}

type ghCheckRuns struct {
	CheckRuns []struct {
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
	} `json:"check_runs"`
}

func (g *GitHub) checksPassed(ctx context.Context, owner, repo, sha string) (bool, error) {
	var runs ghCheckRuns
	if err := g.getJSON(ctx, fmt.Sprintf("%s/repos/%s/%s/commits/%s/check-runs", g.BaseURL, owner, repo, sha), &runs); err != nil {
		return false, err
	}
	for _, run := range runs.CheckRuns {
		if run.Status != "completed" {
			return false, nil
		}
		switch run.Conclusion {
		case "success", "neutral", "skipped":
		default:
			return false, nil
		}
	}
	return true, nil
}

func (g *GitHub) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github API %s: %d %s", url, resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
