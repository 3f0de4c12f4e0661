package index

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Result describes a single search hit.
type Result struct {
	Key        string   `json:"key"`
	Project    string   `json:"project_uuid"`
	Rule       string   `json:"rule,omitempty"`
	Status     string   `json:"status"`
	Resolution string   `json:"resolution,omitempty"`
	Severity   string   `json:"severity,omitempty"`
	Type       string   `json:"type"`
	Assignee   string   `json:"assignee,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Message    string   `json:"message,omitempty"`
	Snippet    string   `json:"snippet,omitempty"`

	Score     float64   `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

type SortMode string

const (
	SortRelevance SortMode = "relevance"
	SortRecent    SortMode = "recent"
	SortSeverity  SortMode = "severity"
)

// filter holds the field restrictions of a query. Empty fields match all.
type filter struct {
	statuses   []string
	severities []string
	types      []string
	assignee   string
	unassigned bool
	tags       []string
	resolved   *bool
}

// Search matches rawQuery against the indexed issues. Tokens of the form
// field:value filter (status, severity, type, assignee, tag, is), the rest
// are ranked against key, rule, tags and message. The limit applies after
// scoring.
func (idx *Index) Search(ctx context.Context, rawQuery string, limit int, sortMode SortMode) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode := normalizeSortMode(sortMode, rawQuery)
	f, terms := parseQuery(rawQuery)

	idx.mu.RLock()
	records := make([]record, 0, len(idx.docs))
	for _, rec := range idx.docs {
		if f.matches(rec) {
			records = append(records, rec)
		}
	}
	idx.mu.RUnlock()

	results := make([]Result, 0, len(records))
	for _, rec := range records {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		score, matched := rankRecord(rec, terms)
		if len(terms) > 0 && !matched {
			continue
		}
		snippet := buildSnippet(rec.message, terms)
		results = append(results, rec.result(score, snippet))
	}

	applySort(results, mode)
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

func (f filter) matches(rec record) bool {
	if len(f.statuses) > 0 && !containsFold(f.statuses, rec.status) {
		return false
	}
	if len(f.severities) > 0 && !containsFold(f.severities, rec.severity) {
		return false
	}
	if len(f.types) > 0 && !containsFold(f.types, rec.issueType) {
		return false
	}
	if f.unassigned && rec.assignee != "" {
		return false
	}
	if f.assignee != "" && !strings.EqualFold(f.assignee, rec.assignee) {
		return false
	}
	for _, tag := range f.tags {
		if !containsFold(rec.tags, tag) {
			return false
		}
	}
	if f.resolved != nil && *f.resolved != (rec.resolution != "") {
		return false
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func normalizeSortMode(mode SortMode, query string) SortMode {
	raw := strings.TrimSpace(strings.ToLower(string(mode)))
	switch SortMode(raw) {
	case SortRecent, SortSeverity, SortRelevance:
		return SortMode(raw)
	}
	if strings.TrimSpace(query) == "" {
		return SortRecent
	}
	return SortRelevance
}

var severityRank = map[string]int{
	"BLOCKER":  0,
	"CRITICAL": 1,
	"MAJOR":    2,
	"MINOR":    3,
	"INFO":     4,
}

func rankSeverity(s string) int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

func applySort(results []Result, mode SortMode) {
	byScore := func(i, j int) (bool, bool) {
		if d := results[i].Score - results[j].Score; d != 0 {
			return d > 0, true
		}
		return false, false
	}
	byRecent := func(i, j int) (bool, bool) {
		if !results[i].UpdatedAt.Equal(results[j].UpdatedAt) {
			return results[i].UpdatedAt.After(results[j].UpdatedAt), true
		}
		return false, false
	}
	bySeverity := func(i, j int) (bool, bool) {
		if a, b := rankSeverity(results[i].Severity), rankSeverity(results[j].Severity); a != b {
			return a < b, true
		}
		return false, false
	}

	var order []func(i, j int) (bool, bool)
	switch mode {
	case SortRecent:
		order = append(order, byRecent, byScore)
	case SortSeverity:
		order = append(order, bySeverity, byScore, byRecent)
	default:
		order = append(order, byScore, byRecent)
	}
	sort.Slice(results, func(i, j int) bool {
		for _, cmp := range order {
			if less, decided := cmp(i, j); decided {
				return less
			}
		}
		return results[i].Key < results[j].Key
	})
}

func parseQuery(raw string) (filter, []string) {
	var f filter
	var terms []string

	for _, token := range tokenizeQuery(raw) {
		lower := strings.ToLower(token)
		field, value, ok := strings.Cut(lower, ":")
		if !ok || value == "" {
			if term := normalizeTerm(token); term != "" {
				terms = append(terms, term)
			}
			continue
		}
		original := trimQuotes(token[len(field)+1:])

		switch field {
		case "status":
			f.statuses = append(f.statuses, strings.Split(value, ",")...)
		case "severity":
			f.severities = append(f.severities, strings.Split(value, ",")...)
		case "type":
			f.types = append(f.types, strings.Split(value, ",")...)
		case "assignee":
			if value == "none" {
				f.unassigned = true
			} else {
				f.assignee = original
			}
		case "tag", "tags":
			f.tags = append(f.tags, trimQuotes(value))
		case "is":
			switch value {
			case "resolved":
				t := true
				f.resolved = &t
			case "unresolved", "open":
				v := false
				f.resolved = &v
			case "unassigned":
				f.unassigned = true
			}
		default:
			// Rule keys such as go:S1144 are search terms, not filters.
			if term := normalizeTerm(token); term != "" {
				terms = append(terms, term)
			}
		}
	}
	return f, terms
}

func tokenizeQuery(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var tokens []string
	var buf strings.Builder
	var quote rune

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		tokens = append(tokens, buf.String())
		buf.Reset()
	}

	for _, r := range raw {
		switch {
		case quote != 0:
			buf.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
			buf.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		default:
			buf.WriteRune(r)
		}
	}

	flush()
	return tokens
}

func trimQuotes(value string) string {
	return strings.Trim(strings.TrimSpace(value), "\"'")
}

func normalizeTerm(token string) string {
	return strings.ToLower(strings.Trim(token, "\"'"))
}

func rankRecord(rec record, terms []string) (float64, bool) {
	if len(terms) == 0 {
		// Pure filter queries return all results with neutral score.
		return 0, true
	}

	var score float64
	var matched bool
	for _, term := range terms {
		if sc, ok := fieldScore(term, rec.lowerKey, 6); ok {
			score += sc
			matched = true
		}
		if sc, ok := fieldScore(term, rec.lowerRule, 5); ok {
			score += sc
			matched = true
		}
		for _, tag := range rec.tags {
			if sc, ok := fieldScore(term, tag, 3); ok {
				score += sc
				matched = true
				break
			}
		}
		if sc, ok := fieldScore(term, rec.lowerMessage, 2); ok {
			score += sc
			matched = true
		}
	}
	return score, matched
}

func fieldScore(term, field string, weight float64) (float64, bool) {
	if field == "" || term == "" {
		return 0, false
	}

	switch {
	case field == term:
		return weight * 5, true
	case strings.HasPrefix(field, term):
		return weight * 4, true
	case strings.Contains(field, term):
		return weight * 3, true
	case isSubsequence(term, field):
		return weight * 2, true
	default:
		return 0, false
	}
}

func isSubsequence(term, field string) bool {
	ri := 0
	runesTerm := []rune(term)
	for _, r := range field {
		if ri < len(runesTerm) && r == runesTerm[ri] {
			ri++
		}
		if ri == len(runesTerm) {
			return true
		}
	}
	return ri == len(runesTerm)
}

func buildSnippet(text string, terms []string) string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return ""
	}

	lower := strings.ToLower(clean)
	for _, term := range terms {
		if idx := strings.Index(lower, term); idx >= 0 {
			start := max(idx-40, 0)
			end := min(idx+len(term)+40, len(clean))
			snippet := strings.TrimSpace(clean[start:end])
			if start > 0 {
				snippet = "…" + snippet
			}
			if end < len(clean) {
				snippet = snippet + "…"
			}
			return snippet
		}
	}

	if len(clean) > 120 {
		return strings.TrimSpace(clean[:120]) + "…"
	}
	return clean
}
