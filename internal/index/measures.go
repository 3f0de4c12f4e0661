package index

import (
	"context"
	"sort"
)

// Measures are the issue counters of one project, computed from the index.
type Measures struct {
	ProjectUUID string         `json:"project_uuid"`
	Issues      int            `json:"issues"`
	Unresolved  int            `json:"unresolved"`
	BySeverity  map[string]int `json:"by_severity,omitempty"`
	ByType      map[string]int `json:"by_type,omitempty"`
	FalsePos    int            `json:"false_positives"`
	WontFix     int            `json:"wont_fix"`
}

// ComputeMeasures counts the indexed issues of project. Severity and type
// breakdowns only cover unresolved issues.
func (idx *Index) ComputeMeasures(project string) Measures {
	m := Measures{ProjectUUID: project, BySeverity: map[string]int{}, ByType: map[string]int{}}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, rec := range idx.docs {
		if rec.project != project {
			continue
		}
		m.Issues++
		switch rec.resolution {
		case "":
			m.Unresolved++
			m.BySeverity[rec.severity]++
			m.ByType[rec.issueType]++
		case "FALSE-POSITIVE":
			m.FalsePos++
		case "WONTFIX":
			m.WontFix++
		}
	}
	return m
}

// RefreshMeasures recomputes and caches the measures of projects. It
// satisfies bulkchange.MeasureRefresher.
func (idx *Index) RefreshMeasures(ctx context.Context, projects []string) error {
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return err
		}
		m := idx.ComputeMeasures(p)
		idx.mu.Lock()
		idx.measures[p] = m
		idx.mu.Unlock()
		idx.logger.Debug("measures refreshed", "project", p, "unresolved", m.Unresolved)
	}
	return nil
}

// CachedMeasures returns the measures of the last refresh, sorted by project.
func (idx *Index) CachedMeasures() []Measures {
	idx.mu.RLock()
	out := make([]Measures, 0, len(idx.measures))
	for _, m := range idx.measures {
		out = append(out, m)
	}
	idx.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectUUID < out[j].ProjectUUID })
	return out
}
