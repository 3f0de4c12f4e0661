package issuestore

import (
	"context"
	"fmt"

	"github.com/qualityhub/issueflow/internal/storage"
	"github.com/qualityhub/issueflow/internal/types"
)

// Load reads issues by key with their changelog, stamping the read time used
// to detect concurrent modifications on save. Unknown keys are skipped; the
// result follows the order of keys.
func (s *Store) Load(ctx context.Context, keys []string) ([]*types.Issue, error) {
	selectedAt := s.now()
	recs, err := s.db.SelectIssuesByKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load issues: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	byKey := make(map[string]*types.Issue, len(recs))
	found := make([]string, 0, len(recs))
	var compUUIDs []string
	seen := make(map[string]bool)
	for _, rec := range recs {
		issue := rec.ToIssue(selectedAt)
		byKey[issue.Key] = issue
		found = append(found, issue.Key)
		for _, u := range []string{issue.ComponentUUID, issue.ProjectUUID} {
			if !seen[u] {
				seen[u] = true
				compUUIDs = append(compUUIDs, u)
			}
		}
	}

	comps, err := s.db.SelectComponentsByUUIDs(ctx, compUUIDs)
	if err != nil {
		return nil, fmt.Errorf("load components: %w", err)
	}
	compKeys := make(map[string]string, len(comps))
	for _, c := range comps {
		compKeys[c.UUID] = c.Key
	}

	changes, err := s.db.SelectChangesByIssueKeys(ctx, found, storage.ChangeTypeDiff)
	if err != nil {
		return nil, fmt.Errorf("load changelog: %w", err)
	}
	history := make(map[string][]*types.FieldDiffs)
	for _, c := range changes {
		diffs, err := ParseChange(c)
		if err != nil {
			return nil, err
		}
		history[c.IssueKey] = append(history[c.IssueKey], diffs)
	}

	out := make([]*types.Issue, 0, len(recs))
	for _, key := range keys {
		issue, ok := byKey[key]
		if !ok {
			continue
		}
		issue.ComponentKey = compKeys[issue.ComponentUUID]
		issue.ProjectKey = compKeys[issue.ProjectUUID]
		issue.SetHistory(history[key])
		out = append(out, issue)
		// Duplicate keys load once.
		delete(byKey, key)
	}
	return out, nil
}

// LoadOne reads a single issue.
func (s *Store) LoadOne(ctx context.Context, key string) (*types.Issue, error) {
	issues, err := s.Load(ctx, []string{key})
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return nil, fmt.Errorf("issue %s: %w", key, storage.ErrNotFound)
	}
	return issues[0], nil
}

// ParseChange decodes a diff row into FieldDiffs carrying the row's issue,
// author and date.
func ParseChange(c *storage.ChangeRecord) (*types.FieldDiffs, error) {
	diffs, err := types.ParseFieldDiffs(c.Data)
	if err != nil {
		return nil, fmt.Errorf("change %s of issue %s: %w", c.Key, c.IssueKey, err)
	}
	diffs.IssueKey = c.IssueKey
	diffs.UserUUID = c.UserUUID
	diffs.CreatedAt = c.ChangeDate
	return diffs, nil
}
