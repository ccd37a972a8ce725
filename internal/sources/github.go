package sources

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
)

// GitHubFile is a paper file fetched from a GitHub repository.
type GitHubFile struct {
	Owner   string
	Repo    string
	Path    string
	Content []byte
	SHA     string // blob SHA
	URL     string // raw download URL
}

// Ref returns the source reference stored on the imported document.
func (f *GitHubFile) Ref() string {
	return fmt.Sprintf("%s/%s/%s", f.Owner, f.Repo, f.Path)
}

// GitHub fetches PDF and Markdown papers from GitHub repositories.
type GitHub struct {
	client *github.Client
}

// NewGitHub creates a GitHub source with rate limiting. A non-empty token
// authenticates requests for higher limits.
func NewGitHub(token string) (*GitHub, error) {
	// Waits out primary and secondary rate limits instead of failing.
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, err
	}

	client := github.NewClient(rateLimiter)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHub{client: client}, nil
}

// NewGitHubWithClient wraps an existing go-github client.
func NewGitHubWithClient(client *github.Client) *GitHub {
	return &GitHub{client: client}
}

// IsPaperFile reports whether name has an importable extension.
func IsPaperFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf", ".md", ".markdown":
		return true
	}
	return false
}

// ListPapers recursively lists importable files under dir.
func (g *GitHub) ListPapers(ctx context.Context, owner, repo, dir string) ([]string, error) {
	_, entries, _, err := g.client.Repositories.GetContents(ctx, owner, repo, dir, nil)
	if err != nil {
		return nil, wrapGitHubError(err, owner, repo, dir)
	}

	var files []string
	for _, entry := range entries {
		if entry.Type == nil || entry.Name == nil {
			continue
		}

		entryPath := path.Join(dir, *entry.Name)
		switch *entry.Type {
		case "file":
			if IsPaperFile(*entry.Name) {
				files = append(files, entryPath)
			}
		case "dir":
			sub, err := g.ListPapers(ctx, owner, repo, entryPath)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
		}
	}
	return files, nil
}

// Fetch downloads a single file. Files too large for the contents API are
// streamed through the download endpoint.
func (g *GitHub) Fetch(ctx context.Context, owner, repo, filePath string) (*GitHubFile, error) {
	if owner == "" || repo == "" || filePath == "" {
		return nil, errors.New("owner, repo and path are required")
	}
	if !IsPaperFile(filePath) {
		return nil, fmt.Errorf("%s: only PDF and Markdown files can be imported", filePath)
	}

	fileContent, _, _, err := g.client.Repositories.GetContents(ctx, owner, repo, filePath, nil)
	if err != nil {
		return nil, wrapGitHubError(err, owner, repo, filePath)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("%s is a directory", filePath)
	}

	// Files over 1MB come back with encoding "none" and no inline content.
	var content []byte
	if fileContent.GetEncoding() == "base64" && fileContent.Content != nil && *fileContent.Content != "" {
		content, err = base64.StdEncoding.DecodeString(*fileContent.Content)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", filePath, err)
		}
	} else {
		content, err = g.download(ctx, owner, repo, filePath)
		if err != nil {
			return nil, err
		}
	}
	if len(content) > maxPaperBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", filePath, maxPaperBytes)
	}

	return &GitHubFile{
		Owner:   owner,
		Repo:    repo,
		Path:    filePath,
		Content: content,
		SHA:     fileContent.GetSHA(),
		URL:     fileContent.GetDownloadURL(),
	}, nil
}

func (g *GitHub) download(ctx context.Context, owner, repo, filePath string) ([]byte, error) {
	rc, _, err := g.client.Repositories.DownloadContents(ctx, owner, repo, filePath, nil)
	if err != nil {
		return nil, wrapGitHubError(err, owner, repo, filePath)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxPaperBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", filePath, err)
	}
	return data, nil
}

func wrapGitHubError(err error, owner, repo, p string) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s/%s/%s", ErrPaperNotFound, owner, repo, p)
	}
	return fmt.Errorf("get contents of %s/%s/%s: %w", owner, repo, p, err)
}
