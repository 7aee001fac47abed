// Package research turns one outline section into written report content.
package research

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/draftmill/draftmill/internal/llm"
	"github.com/draftmill/draftmill/internal/metrics"
	"github.com/draftmill/draftmill/internal/outline"
	"github.com/draftmill/draftmill/internal/sources"
	"github.com/draftmill/draftmill/internal/store"
)

const (
	maxQueryLen       = 200
	minOnTopicWordLen = 4
)

// Processor researches and writes a single outline section. Process never
// returns an error: every failure is folded into the section's content so
// one bad section cannot sink the whole run.
type Processor struct {
	provider llm.Provider
	backends []sources.Backend
	logger   *zap.Logger
}

func NewProcessor(provider llm.Provider, backends []sources.Backend, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{provider: provider, backends: backends, logger: logger}
}

func (p *Processor) Process(ctx context.Context, section outline.Section) store.SectionResult {
	query := retrievalQuery(section)
	records := p.lookup(ctx, query)

	contextBlock := buildContext(section, records)
	content, err := p.synthesize(ctx, section.Title, contextBlock, "")
	if err != nil {
		p.logger.Warn("section synthesis failed",
			zap.String("section", section.Title),
			zap.Error(err))
		metrics.SectionsProcessed.WithLabelValues("failed").Inc()
		return failSoft(section, err)
	}

	if !mentionsTitle(section.Title, content) {
		metrics.SynthesisRetries.Inc()
		reinforced := fmt.Sprintf("Your previous draft drifted off topic. Write specifically about %q and nothing else.", section.Title)
		retried, retryErr := p.synthesize(ctx, section.Title, contextBlock, reinforced)
		if retryErr != nil {
			p.logger.Warn("on-topic retry failed, keeping first draft",
				zap.String("section", section.Title),
				zap.Error(retryErr))
		} else {
			content = retried
		}
	}

	metrics.SectionsProcessed.WithLabelValues("ok").Inc()
	return store.SectionResult{
		Title:   section.Title,
		Content: content,
		Sources: recordSources(records),
	}
}

// lookup fans the retrieval query across every configured backend. A backend
// error degrades retrieval to fewer sources; it never propagates upward.
func (p *Processor) lookup(ctx context.Context, query string) []sources.Record {
	var records []sources.Record
	for _, backend := range p.backends {
		record, err := backend.Lookup(ctx, query)
		if err != nil {
			metrics.SourceLookupFailures.WithLabelValues(backend.Name()).Inc()
			p.logger.Warn("source lookup failed",
				zap.String("backend", backend.Name()),
				zap.String("query", query),
				zap.Error(err))
			continue
		}
		if record != nil {
			records = append(records, *record)
		}
	}
	return records
}

func (p *Processor) synthesize(ctx context.Context, title, contextBlock, reinforcement string) (string, error) {
	system := "You are a research writer. Write a focused markdown section for a report. Do not add a top-level heading; the report supplies one."
	user := fmt.Sprintf("Section title: %s\n\n%s\n\nWrite the body of this section in markdown.", title, contextBlock)
	if reinforcement != "" {
		user += "\n\n" + reinforcement
	}
	return p.provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
}

func retrievalQuery(section outline.Section) string {
	query := strings.TrimSpace(section.Title + " " + section.Focus)
	if runes := []rune(query); len(runes) > maxQueryLen {
		query = string(runes[:maxQueryLen])
	}
	return query
}

func buildContext(section outline.Section, records []sources.Record) string {
	if len(records) == 0 {
		return fmt.Sprintf("No reference material was found. Use general knowledge about %s.", section.Focus)
	}
	var b strings.Builder
	b.WriteString("Reference material:\n")
	for _, record := range records {
		fmt.Fprintf(&b, "\n### %s\n%s\n", record.Title, record.Extract)
	}
	return b.String()
}

// mentionsTitle reports whether any significant title word appears in the
// synthesized content.
func mentionsTitle(title, content string) bool {
	lowered := strings.ToLower(content)
	significant := 0
	for _, word := range strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(word) < minOnTopicWordLen {
			continue
		}
		significant++
		if strings.Contains(lowered, word) {
			return true
		}
	}
	// Titles made only of short words have nothing to check against.
	return significant == 0
}

func failSoft(section outline.Section, err error) store.SectionResult {
	return store.SectionResult{
		Title:   section.Title,
		Content: fmt.Sprintf("Research for this section could not be completed: %v", err),
		Sources: []store.Source{},
	}
}

func recordSources(records []sources.Record) []store.Source {
	out := make([]store.Source, 0, len(records))
	for _, record := range records {
		out = append(out, store.Source{Title: record.Title, URL: record.URL})
	}
	return out
}
