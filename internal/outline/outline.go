package outline

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Section is one planned chapter of the report. Order within an outline is
// authoritative: it determines final report order.
type Section struct {
	Title string `json:"title"`
	Focus string `json:"focus"`
}

var ErrEmptyPlan = errors.New("plan contains no sections")

type Kind string

const (
	KindDualOption  Kind = "dual_option"
	KindComparison  Kind = "comparison"
	KindSingleTopic Kind = "single_topic"
)

// QueryClass is the classification of a research query, computed once and
// threaded through planning, validation, and fallback generation.
type QueryClass struct {
	Kind     Kind
	Topic    string   // dual-option: text before "with or without"
	Option   string   // dual-option: text after it
	Terms    []string // comparison: the compared terms
	Keywords []string // single-topic: up to 3 significant words
}

const (
	maxTopicKeywords     = 3
	minKeywordLen        = 3
	fallbackTriggerRatio = 0.75
)

var (
	dualOptionRE    = regexp.MustCompile(`(?i)^(.+?)\s+with\s+or\s+without\s+(.+)$`)
	comparisonSepRE = regexp.MustCompile(`(?i)\s+(?:vs\.?|versus|or)\s+`)
	wordRE          = regexp.MustCompile(`[a-z0-9]+`)
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "any": {}, "can": {}, "had": {}, "has": {},
	"have": {}, "was": {}, "were": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "who": {}, "why": {}, "how": {}, "does": {}, "did": {},
	"this": {}, "that": {}, "with": {}, "without": {}, "about": {},
	"into": {}, "over": {}, "between": {}, "their": {}, "there": {},
	"should": {}, "would": {}, "could": {}, "tell": {}, "more": {},
}

// Classify buckets a query as dual-option, comparison, or single-topic,
// checked in that precedence order.
func Classify(query string) QueryClass {
	cleaned := strings.TrimSpace(query)

	if match := dualOptionRE.FindStringSubmatch(cleaned); match != nil {
		return QueryClass{
			Kind:   KindDualOption,
			Topic:  normalizeTerm(match[1]),
			Option: normalizeTerm(match[2]),
		}
	}

	if comparisonSepRE.MatchString(cleaned) {
		parts := comparisonSepRE.Split(cleaned, -1)
		terms := make([]string, 0, len(parts))
		for _, part := range parts {
			if term := normalizeTerm(part); term != "" {
				terms = append(terms, term)
			}
		}
		if len(terms) >= 2 {
			return QueryClass{Kind: KindComparison, Terms: terms}
		}
	}

	return QueryClass{Kind: KindSingleTopic, Keywords: topicKeywords(cleaned)}
}

// Validate checks a candidate outline against the query and returns the
// authoritative outline: the candidate when it is acceptably on-topic,
// otherwise a deterministic fallback shaped by the query class. The trigger
// is strict: relevant < 0.75*total, or zero relevant sections.
func Validate(query string, sections []Section) ([]Section, error) {
	if len(sections) == 0 {
		return nil, ErrEmptyPlan
	}

	class := Classify(query)
	keywords := class.matchKeywords()
	if len(keywords) == 0 {
		// Nothing extractable to judge against; accept the candidate.
		return sections, nil
	}

	relevant := 0
	for _, section := range sections {
		if sectionMentionsAny(section, keywords) {
			relevant++
		}
	}
	if relevant == 0 || float64(relevant) < fallbackTriggerRatio*float64(len(sections)) {
		return Fallback(class), nil
	}
	return sections, nil
}

// Fallback builds the fixed 4-section outline for a query class. Every run
// ends with a non-degenerate, on-topic outline even when generative planning
// drifts entirely off subject.
func Fallback(class QueryClass) []Section {
	switch class.Kind {
	case KindDualOption:
		return []Section{
			{
				Title: fmt.Sprintf("Introduction to %s", class.Topic),
				Focus: fmt.Sprintf("What %s is and why the choice of %s comes up", class.Topic, class.Option),
			},
			{
				Title: fmt.Sprintf("%s with %s", class.Topic, class.Option),
				Focus: fmt.Sprintf("Benefits, drawbacks, and typical use of %s with %s", class.Topic, class.Option),
			},
			{
				Title: fmt.Sprintf("%s without %s", class.Topic, class.Option),
				Focus: fmt.Sprintf("Benefits, drawbacks, and typical use of %s without %s", class.Topic, class.Option),
			},
			{
				Title: fmt.Sprintf("Comparing %s with and without %s", class.Topic, class.Option),
				Focus: fmt.Sprintf("Direct comparison and recommendations for choosing between %s with or without %s", class.Topic, class.Option),
			},
		}
	case KindComparison:
		first, second := class.Terms[0], class.Terms[1]
		joined := strings.Join(class.Terms, " vs ")
		return []Section{
			{
				Title: fmt.Sprintf("Introduction: %s", joined),
				Focus: fmt.Sprintf("Why %s are compared and what distinguishes them at a glance", joined),
			},
			{
				Title: fmt.Sprintf("About %s", first),
				Focus: fmt.Sprintf("Background, characteristics, and strengths of %s", first),
			},
			{
				Title: fmt.Sprintf("About %s", second),
				Focus: fmt.Sprintf("Background, characteristics, and strengths of %s", second),
			},
			{
				Title: fmt.Sprintf("Comparing %s", joined),
				Focus: fmt.Sprintf("Head-to-head comparison of %s with a concluding recommendation", joined),
			},
		}
	default:
		topic := strings.Join(class.Keywords, " ")
		if topic == "" {
			topic = "the topic"
		}
		return []Section{
			{
				Title: fmt.Sprintf("Introduction to %s", topic),
				Focus: fmt.Sprintf("Definition, origin, and context of %s", topic),
			},
			{
				Title: fmt.Sprintf("Key Aspects of %s", topic),
				Focus: fmt.Sprintf("The most important concepts and mechanisms behind %s", topic),
			},
			{
				Title: fmt.Sprintf("Applications of %s", topic),
				Focus: fmt.Sprintf("Real-world uses and notable examples of %s", topic),
			},
			{
				Title: fmt.Sprintf("Conclusion on %s", topic),
				Focus: fmt.Sprintf("Summary of findings and outlook for %s", topic),
			},
		}
	}
}

// SectionsFromPayload maps the loosely-shaped object recovered from a plan
// response onto sections. Accepts {"sections": [{title, focus}...]} as well
// as the extraction cascade's {"queries": [...]} recovery shape.
func SectionsFromPayload(payload map[string]any) []Section {
	for _, key := range []string{"sections", "outline", "queries"} {
		raw, ok := payload[key].([]any)
		if !ok {
			continue
		}
		sections := make([]Section, 0, len(raw))
		for _, item := range raw {
			switch v := item.(type) {
			case string:
				if title := strings.TrimSpace(v); title != "" {
					sections = append(sections, Section{Title: title})
				}
			case map[string]any:
				title, _ := v["title"].(string)
				focus, _ := v["focus"].(string)
				if strings.TrimSpace(title) == "" {
					continue
				}
				sections = append(sections, Section{
					Title: strings.TrimSpace(title),
					Focus: strings.TrimSpace(focus),
				})
			}
		}
		if len(sections) > 0 {
			return sections
		}
	}
	return nil
}

func (c QueryClass) matchKeywords() []string {
	switch c.Kind {
	case KindDualOption:
		return append(wordsOf(c.Topic), wordsOf(c.Option)...)
	case KindComparison:
		var words []string
		for _, term := range c.Terms {
			words = append(words, wordsOf(term)...)
		}
		return words
	default:
		return c.Keywords
	}
}

func sectionMentionsAny(section Section, keywords []string) bool {
	words := map[string]struct{}{}
	for _, w := range wordsOf(section.Title + " " + section.Focus) {
		words[w] = struct{}{}
	}
	for _, keyword := range keywords {
		if _, ok := words[keyword]; ok {
			return true
		}
	}
	return false
}

func topicKeywords(query string) []string {
	keywords := make([]string, 0, maxTopicKeywords)
	for _, word := range wordsOf(query) {
		if len(word) < minKeywordLen {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		keywords = append(keywords, word)
		if len(keywords) == maxTopicKeywords {
			break
		}
	}
	return keywords
}

func normalizeTerm(raw string) string {
	term := strings.ToLower(strings.TrimSpace(raw))
	return strings.Trim(term, " ?!.,;:\"'")
}

func wordsOf(text string) []string {
	return wordRE.FindAllString(strings.ToLower(text), -1)
}
