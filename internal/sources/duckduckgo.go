package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// duckduckgoAPIBase is the instant-answer endpoint; var for tests.
var duckduckgoAPIBase = "https://api.duckduckgo.com/"

type DuckDuckGoBackend struct {
	Client *http.Client
}

func NewDuckDuckGoBackend() *DuckDuckGoBackend {
	return &DuckDuckGoBackend{Client: &http.Client{Timeout: 10 * time.Second}}
}

func (b *DuckDuckGoBackend) Name() string { return "duckduckgo" }

func (b *DuckDuckGoBackend) Lookup(ctx context.Context, term string) (*Record, error) {
	params := url.Values{}
	params.Set("q", term)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, duckduckgoAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned HTTP %d", resp.StatusCode)
	}

	var parsed struct {
		Heading       string `json:"Heading"`
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parsing duckduckgo response: %w", err)
	}

	if parsed.AbstractText != "" && parsed.AbstractURL != "" {
		title := strings.TrimSpace(parsed.Heading)
		if title == "" {
			title = term
		}
		return &Record{
			Title:   title,
			URL:     parsed.AbstractURL,
			Extract: strings.TrimSpace(parsed.AbstractText),
		}, nil
	}

	// The abstract is often empty for broad terms; fall back to the first
	// related topic that carries a link.
	for _, topic := range parsed.RelatedTopics {
		if topic.FirstURL == "" || strings.TrimSpace(topic.Text) == "" {
			continue
		}
		return &Record{
			Title:   topicTitle(topic.Text),
			URL:     topic.FirstURL,
			Extract: strings.TrimSpace(topic.Text),
		}, nil
	}
	return nil, nil
}

func topicTitle(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, " - "); idx > 0 {
		return text[:idx]
	}
	if len(text) > 60 {
		return strings.TrimSpace(text[:60])
	}
	return text
}
