package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// LocalProvider is an offline stand-in for a real model. It echoes the
// last user prompt back, except for planning prompts, which get a
// deterministic three-section outline so a full run can complete without
// network access or API keys.
type LocalProvider struct{}

func (LocalProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	prompt := lastUserContent(messages)
	if strings.Contains(prompt, `"sections"`) {
		return localOutline(queryLine(prompt))
	}
	return prompt, nil
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return ""
}

// queryLine pulls the research query out of a planning prompt, falling
// back to the whole prompt when no "Query:" line is present.
func queryLine(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if rest, ok := strings.CutPrefix(line, "Query:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(prompt)
}

func localOutline(query string) (string, error) {
	type section struct {
		Title string `json:"title"`
		Focus string `json:"focus"`
	}
	payload := map[string][]section{
		"sections": {
			{Title: fmt.Sprintf("Overview of %s", query), Focus: fmt.Sprintf("What %s covers and why it matters", query)},
			{Title: fmt.Sprintf("Key details of %s", query), Focus: fmt.Sprintf("The main facts and findings about %s", query)},
			{Title: fmt.Sprintf("Summary of %s", query), Focus: fmt.Sprintf("Conclusions drawn about %s", query)},
		},
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
