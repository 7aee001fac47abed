package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const snippetLimit = 200

// MalformedOutputError means none of the recovery tactics could turn the
// model response into structured data.
type MalformedOutputError struct {
	Snippet string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed model output: %s", e.Snippet)
}

var (
	fencedBlockRE   = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")
	trailingCommaRE = regexp.MustCompile(`,\s*([}\]])`)
	quotedStringRE  = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
)

// JSON recovers a JSON object from arbitrary model output. Models wrap JSON
// in prose, code fences, or leave trailing commas; each tactic below handles
// one of those failure shapes, tried in order, first success wins.
func JSON(text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)

	if parsed, ok := parseObject(trimmed); ok {
		return parsed, nil
	}
	if inner, ok := fencedBlock(trimmed); ok {
		if parsed, ok := parseObject(inner); ok {
			return parsed, nil
		}
	}
	if body, ok := braceSpan(trimmed); ok {
		if parsed, ok := parseObject(body); ok {
			return parsed, nil
		}
		if parsed, ok := parseObject(stripTrailingCommas(body)); ok {
			return parsed, nil
		}
	}
	if list, ok := bracketSpan(trimmed); ok {
		if parsed, ok := parseObject(`{"queries": ` + stripTrailingCommas(list) + `}`); ok {
			return parsed, nil
		}
	}
	if queries := quotedStrings(trimmed); len(queries) > 0 {
		return map[string]any{"queries": queries}, nil
	}

	return nil, &MalformedOutputError{Snippet: snippet(text)}
}

func parseObject(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

func fencedBlock(text string) (string, bool) {
	match := fencedBlockRE.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	return match[1], true
}

func braceSpan(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func bracketSpan(text string) (string, bool) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func stripTrailingCommas(text string) string {
	return trailingCommaRE.ReplaceAllString(text, "$1")
}

func quotedStrings(text string) []any {
	matches := quotedStringRE.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]any, 0, len(matches))
	for _, match := range matches {
		if strings.TrimSpace(match[1]) == "" {
			continue
		}
		out = append(out, match[1])
	}
	return out
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLimit {
		return text
	}
	return string(runes[:snippetLimit])
}
