package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/qualityhub/issueflow/internal/debug"
	"github.com/qualityhub/issueflow/internal/fields"
	"github.com/qualityhub/issueflow/internal/rules"
	"github.com/qualityhub/issueflow/internal/types"
)

// importFile is the YAML document read by iflow import.
//
//	users:
//	  - {uuid: u1, login: alice, name: Alice, email: alice@example.com, active: true}
//	components:
//	  - {uuid: prj-1, key: prj, name: Project, qualifier: TRK, project_uuid: prj-1}
//	  - {uuid: file-1, key: "prj:main.go", name: main.go, long_name: main.go, qualifier: FIL, project_uuid: prj-1}
//	issues:
//	  - {key: I1, project: prj-1, component: file-1, rule: "go:S1144", message: Remove this, line: 10}
type importFile struct {
	Users      []*types.User      `yaml:"users"`
	Components []*types.Component `yaml:"components"`
	Issues     []importIssue      `yaml:"issues"`
}

// importIssue is one finding of an analysis. Severity and type default to
// the rule's. Closed marks a finding that disappeared.
type importIssue struct {
	Key       string            `yaml:"key"`
	Project   string            `yaml:"project"`
	Component string            `yaml:"component"`
	Rule      string            `yaml:"rule"`
	Severity  types.Severity    `yaml:"severity"`
	Type      types.IssueType   `yaml:"type"`
	Message   string            `yaml:"message"`
	Line      int               `yaml:"line"`
	Effort    int64             `yaml:"effort"`
	Tags      []string          `yaml:"tags"`
	Attrs     map[string]string `yaml:"attributes"`
	CreatedAt time.Time         `yaml:"created_at"`
	Closed    bool              `yaml:"closed"`
}

type importStats struct {
	Users      int `json:"users"`
	Components int `json:"components"`
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Closed     int `json:"closed"`
	Unchanged  int `json:"unchanged"`
}

var importCmd = &cobra.Command{
	Use:   "import FILE.yaml",
	Short: "Import users, components and analysis findings",
	Long: `Import a YAML analysis report.

New findings are created as OPEN issues. Known findings are updated as
analysis changes: moved lines, new messages, rule severity changes.
Findings marked closed are closed automatically, and a closed finding
seen again is restored to its previous status.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0]) // #nosec G304 - user-provided import file
		if err != nil {
			return err
		}
		var f importFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("%w: parse %s: %v", types.ErrInvalidArgument, args[0], err)
		}

		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		stats, err := a.importReport(cmd.Context(), &f)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), stats)
		}
		debug.PrintNormal("Imported %d users, %d components; issues: %d created, %d updated, %d closed, %d unchanged\n",
			stats.Users, stats.Components, stats.Created, stats.Updated, stats.Closed, stats.Unchanged)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func (a *app) importReport(ctx context.Context, f *importFile) (*importStats, error) {
	stats := &importStats{Users: len(f.Users), Components: len(f.Components)}
	if err := a.importReferences(ctx, f); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(f.Issues))
	for _, in := range f.Issues {
		if in.Key == "" {
			return nil, fmt.Errorf("%w: issue without key", types.ErrInvalidArgument)
		}
		keys = append(keys, in.Key)
	}
	loaded, err := a.store.Load(ctx, keys)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]*types.Issue, len(loaded))
	for _, issue := range loaded {
		existing[issue.Key] = issue
	}

	now := a.now()
	scan := types.ScanChange(now)
	finder := rules.Finder{Catalog: a.catalog}
	var toSave []*types.Issue
	for _, in := range f.Issues {
		ruleKey, err := types.ParseRuleKey(in.Rule)
		if err != nil {
			return nil, fmt.Errorf("issue %s: %w", in.Key, err)
		}
		rule, err := finder.FindRule(ctx, a.db, ruleKey)
		if err != nil {
			return nil, fmt.Errorf("issue %s: %w", in.Key, err)
		}

		issue, ok := existing[in.Key]
		if !ok {
			if in.Closed {
				stats.Unchanged++
				continue
			}
			issue, err = newImportedIssue(in, rule, now)
			if err != nil {
				return nil, err
			}
			toSave = append(toSave, issue)
			stats.Created++
			continue
		}

		wasClosed := issue.Status == types.StatusClosed
		a.applyScan(issue, in, rule, scan)
		issue.BeingClosed = in.Closed
		if _, err := a.machine.DoAutomaticTransition(issue, scan); err != nil {
			return nil, fmt.Errorf("issue %s: %w", in.Key, err)
		}
		switch {
		case !issue.IsChanged():
			stats.Unchanged++
			continue
		case !wasClosed && issue.Status == types.StatusClosed:
			stats.Closed++
		default:
			stats.Updated++
		}
		toSave = append(toSave, issue)
	}

	if len(toSave) == 0 {
		return stats, nil
	}
	if _, err := a.saver.Save(ctx, toSave); err != nil {
		return nil, err
	}
	return stats, nil
}

func (a *app) importReferences(ctx context.Context, f *importFile) error {
	if len(f.Users) == 0 && len(f.Components) == 0 {
		return nil
	}
	sess, err := a.db.OpenSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	if len(f.Users) > 0 {
		if err := sess.UpsertUsers(ctx, f.Users); err != nil {
			return fmt.Errorf("import users: %w", err)
		}
	}
	if len(f.Components) > 0 {
		if err := sess.UpsertComponents(ctx, f.Components); err != nil {
			return fmt.Errorf("import components: %w", err)
		}
	}
	return sess.Commit(ctx)
}

func newImportedIssue(in importIssue, rule *types.Rule, now time.Time) (*types.Issue, error) {
	tags, err := fields.ValidateTags(in.Tags)
	if err != nil {
		return nil, fmt.Errorf("issue %s: %w", in.Key, err)
	}
	issue := &types.Issue{
		Key:           in.Key,
		ProjectUUID:   in.Project,
		ComponentUUID: in.Component,
		RuleKey:       rule.Key,
		Status:        types.StatusOpen,
		Severity:      in.Severity,
		Type:          in.Type,
		Tags:          tags,
		Attributes:    in.Attrs,
		Message:       in.Message,
		Line:          in.Line,
		EffortMinutes: in.Effort,
		CreatedAt:     in.CreatedAt,
		UpdatedAt:     in.CreatedAt,
		IsNew:         true,
	}
	if issue.Severity == "" {
		issue.Severity = rule.Severity
	}
	if issue.Type == "" {
		issue.Type = rule.Type
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt, issue.UpdatedAt = now, now
	}
	if err := issue.Validate(); err != nil {
		return nil, err
	}
	return issue, nil
}

// applyScan records what analysis changed on a known issue. Manual
// severities survive rule severity changes.
func (a *app) applyScan(issue *types.Issue, in importIssue, rule *types.Rule, scan types.ChangeContext) {
	severity := in.Severity
	if severity == "" {
		severity = rule.Severity
	}
	a.setter.SetSeverity(issue, severity, scan)
	a.setter.SetMessage(issue, in.Message, scan)
	a.setter.SetLine(issue, in.Line, scan)
	a.setter.SetEffort(issue, in.Effort, scan)
}
