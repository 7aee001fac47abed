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

// wikipediaAPIBase is the MediaWiki API endpoint. Declared as a var so
// tests can substitute an httptest server.
var wikipediaAPIBase = "https://en.wikipedia.org/w/api.php"

const wikipediaPageBase = "https://en.wikipedia.org/wiki/"

type WikipediaBackend struct {
	Client *http.Client
}

func NewWikipediaBackend() *WikipediaBackend {
	return &WikipediaBackend{Client: &http.Client{Timeout: 10 * time.Second}}
}

func (b *WikipediaBackend) Name() string { return "wikipedia" }

// Lookup runs a generator search and returns the top page's intro extract.
func (b *WikipediaBackend) Lookup(ctx context.Context, term string) (*Record, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("generator", "search")
	params.Set("gsrsearch", term)
	params.Set("gsrlimit", "1")
	params.Set("prop", "extracts")
	params.Set("exintro", "1")
	params.Set("explaintext", "1")
	params.Set("exchars", "1200")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wikipediaAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wikipedia request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wikipedia returned HTTP %d", resp.StatusCode)
	}

	var parsed struct {
		Query struct {
			Pages map[string]struct {
				Title   string `json:"title"`
				Extract string `json:"extract"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parsing wikipedia response: %w", err)
	}

	for _, page := range parsed.Query.Pages {
		title := strings.TrimSpace(page.Title)
		if title == "" {
			continue
		}
		return &Record{
			Title:   title,
			URL:     wikipediaPageBase + url.PathEscape(strings.ReplaceAll(title, " ", "_")),
			Extract: strings.TrimSpace(page.Extract),
		}, nil
	}
	return nil, nil
}
