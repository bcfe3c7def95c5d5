// Package httpsource fetches case attachments from an HTTP backend.
//
//	GET {base}/cases/{caseId}/attachments  -> JSON array of attachments
//	GET {locator}                          -> raw attachment bytes
//
// Relative locators resolve against the base URL; an empty locator means
// {base}/attachments/{id}.
package httpsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/app"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/domain"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/remote"
)

// Config configures a Source.
type Config struct {
	BaseURL  string
	Token    string        // sent as a bearer token when set
	Timeout  time.Duration // per request; defaults to 60s
	MaxBytes int64         // per attachment; zero means unlimited
	Client   *http.Client  // overrides the default client
}

// Source implements app.RemoteSource over HTTP.
type Source struct {
	base     *url.URL
	token    string
	maxBytes int64
	client   *http.Client
}

var _ app.RemoteSource = (*Source)(nil)

// New validates cfg and returns a Source.
func New(cfg Config) (*Source, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("httpsource: base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("httpsource: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("httpsource: unsupported scheme %q", base.Scheme)
	}
	if base.Path == "" || base.Path[len(base.Path)-1] != '/' {
		base.Path += "/"
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Source{base: base, token: cfg.Token, maxBytes: cfg.MaxBytes, client: client}, nil
}

// ListCaseAttachments returns the attachments the backend lists for caseID.
func (s *Source) ListCaseAttachments(ctx context.Context, caseID string) ([]domain.RemoteAttachment, error) {
	if caseID == "" {
		return nil, errors.New("httpsource: empty case id")
	}
	u := s.base.ResolveReference(&url.URL{Path: "cases/" + url.PathEscape(caseID) + "/attachments"})
	resp, err := s.get(ctx, u.String(), "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var list []domain.RemoteAttachment
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&list); err != nil {
		return nil, fmt.Errorf("httpsource: decode attachment list: %w", err)
	}
	for i := range list {
		if list[i].CaseID == "" {
			list[i].CaseID = caseID
		}
	}
	return list, nil
}

// Fetch downloads the bytes behind locator, reporting progress from the
// response's Content-Length when the server sends one.
func (s *Source) Fetch(ctx context.Context, id, locator string, progress app.ProgressFunc) ([]byte, error) {
	target, err := s.resolve(id, locator)
	if err != nil {
		return nil, err
	}
	resp, err := s.get(ctx, target, "application/octet-stream, */*")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return remote.ReadAll(resp.Body, resp.ContentLength, s.maxBytes, progress)
}

func (s *Source) resolve(id, locator string) (string, error) {
	if locator == "" {
		return s.base.ResolveReference(&url.URL{Path: "attachments/" + url.PathEscape(id)}).String(), nil
	}
	ref, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("httpsource: bad locator %q: %w", locator, err)
	}
	return s.base.ResolveReference(ref).String(), nil
}

func (s *Source) get(ctx context.Context, target, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("httpsource: build request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpsource: GET %s: %w", target, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("httpsource: GET %s returned %s: %s", target, resp.Status, body)
	}
	return resp, nil
}
