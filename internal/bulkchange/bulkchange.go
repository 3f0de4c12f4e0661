// Package bulkchange applies a set of actions to many issues at once.
//
// The orchestration is: verify every requested action once, apply the
// non-comment actions issue by issue, add the comment to the issues another
// action changed, save those issues, then refresh measures and notify.
// A failure on one issue is logged and counted; it never aborts the batch.
package bulkchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/qualityhub/issueflow/internal/action"
	"github.com/qualityhub/issueflow/internal/eventbus"
	"github.com/qualityhub/issueflow/internal/issuestore"
	"github.com/qualityhub/issueflow/internal/permission"
	"github.com/qualityhub/issueflow/internal/types"
)

// MaxIssues is the largest number of issue keys a bulk change accepts.
const MaxIssues = 500

// Loader reads issues by key, skipping unknown keys. *issuestore.Store
// implements it.
type Loader interface {
	Load(ctx context.Context, keys []string) ([]*types.Issue, error)
}

// MeasureRefresher recomputes measures depending on the issues of the given
// projects.
type MeasureRefresher interface {
	RefreshMeasures(ctx context.Context, projectUUIDs []string) error
}

// Request is one bulk change.
type Request struct {
	IssueKeys []string
	// Actions holds the parameters of each requested action by key. The
	// comment action is requested through Comment.
	Actions           map[string]action.Properties
	Comment           string
	SendNotifications bool
}

// Result counts issues. An issue is a success when an action changed it
// and it was saved, a failure when an action failed on it or its save
// conflicted, and ignored otherwise.
type Result struct {
	Total    int
	Success  int
	Failures int
	// Changed lists the keys of the saved issues.
	Changed []string
}

// Ignored is the number of issues no action applied to.
func (r *Result) Ignored() int {
	return r.Total - r.Success - r.Failures
}

// Service runs bulk changes.
type Service struct {
	loader    Loader
	saver     issuestore.Saver
	actions   *action.Registry
	refresher MeasureRefresher
	bus       *eventbus.Bus
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMeasureRefresher sets the component measures are refreshed with.
func WithMeasureRefresher(r MeasureRefresher) Option {
	return func(s *Service) { s.refresher = r }
}

// WithEventBus sets the bus notifications are dispatched on.
func WithEventBus(b *eventbus.Bus) Option {
	return func(s *Service) { s.bus = b }
}

// WithClock overrides the time source of change contexts.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger per-issue failures are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New returns a Service loading issues with loader and saving them with saver.
func New(loader Loader, saver issuestore.Saver, actions *action.Registry, opts ...Option) *Service {
	s := &Service{
		loader:  loader,
		saver:   saver,
		actions: actions,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type requested struct {
	action action.Action
	props  action.Properties
}

// Execute runs req on behalf of caller.
func (s *Service) Execute(ctx context.Context, req Request, caller permission.Session) (*Result, error) {
	if !caller.IsLoggedIn() {
		return nil, fmt.Errorf("%w: authentication is required", types.ErrUnauthorized)
	}
	if len(req.IssueKeys) > MaxIssues {
		return nil, fmt.Errorf("%w: number of issues is limited to %d", types.ErrInvalidArgument, MaxIssues)
	}
	acts, comment, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	loaded, err := s.loader.Load(ctx, req.IssueKeys)
	if err != nil {
		return nil, err
	}
	issues := loaded[:0:0]
	for _, issue := range loaded {
		if caller.HasProjectPermission(permission.Browse, issue.ProjectUUID) {
			issues = append(issues, issue)
		}
	}
	result := &Result{Total: len(issues)}

	for _, r := range acts {
		if _, err := r.action.Verify(ctx, r.props, issues, caller); err != nil {
			return nil, fmt.Errorf("verify %s: %w", r.action.Key(), err)
		}
	}
	if comment != nil {
		if _, err := comment.action.Verify(ctx, comment.props, issues, caller); err != nil {
			return nil, fmt.Errorf("verify %s: %w", comment.action.Key(), err)
		}
	}

	change := types.UserChange(s.now(), caller.UserUUID())
	var changed []*types.Issue
	failed := make(map[string]bool)
	refresh := false
	for _, issue := range issues {
		actx := &action.Context{Issue: issue, Change: change, Caller: caller}
		ok := false
		for _, r := range acts {
			applied, err := s.apply(r, actx)
			if err != nil {
				failed[issue.Key] = true
				continue
			}
			if applied {
				ok = true
				refresh = refresh || r.action.ShouldRefreshMeasures()
			}
		}
		if !ok {
			continue
		}
		if comment != nil {
			if _, err := s.apply(*comment, actx); err != nil {
				failed[issue.Key] = true
			}
		}
		issue.SendNotifications = req.SendNotifications
		changed = append(changed, issue)
	}

	events := s.events(changed, caller, change.Date)
	saved, err := s.save(ctx, changed)
	if err != nil {
		return nil, err
	}
	for _, issue := range changed {
		if saved[issue.Key] {
			result.Changed = append(result.Changed, issue.Key)
		} else {
			failed[issue.Key] = true
		}
	}
	// An issue counted as a success is not also a failure.
	for _, key := range result.Changed {
		delete(failed, key)
	}
	result.Success = len(result.Changed)
	result.Failures = len(failed)

	if refresh && s.refresher != nil && result.Success > 0 {
		if err := s.refresher.RefreshMeasures(ctx, projectsOf(changed, saved)); err != nil {
			return result, fmt.Errorf("refresh measures: %w", err)
		}
	}
	s.notify(ctx, events, saved, result, caller)
	return result, nil
}

// resolve looks up the requested actions in registry order, splitting the
// comment out.
func (s *Service) resolve(req Request) ([]requested, *requested, error) {
	for key := range req.Actions {
		if _, ok := s.actions.Get(key); !ok || key == action.CommentKey {
			return nil, nil, fmt.Errorf("%w: unknown action %q", types.ErrInvalidArgument, key)
		}
	}
	var acts []requested
	for _, a := range s.actions.All() {
		props, ok := req.Actions[a.Key()]
		if !ok {
			continue
		}
		if props == nil {
			props = action.Properties{}
		}
		acts = append(acts, requested{action: a, props: props})
	}
	if len(acts) == 0 {
		return nil, nil, fmt.Errorf("%w: at least one action other than comment must be provided", types.ErrInvalidArgument)
	}
	if req.Comment == "" {
		return acts, nil, nil
	}
	a, ok := s.actions.Get(action.CommentKey)
	if !ok {
		return nil, nil, fmt.Errorf("%w: comments are not supported", types.ErrIllegalState)
	}
	return acts, &requested{action: a, props: action.Properties{action.CommentParam: req.Comment}}, nil
}

func (s *Service) apply(r requested, actx *action.Context) (bool, error) {
	if !r.action.Supports(actx.Issue, actx.Caller) {
		return false, nil
	}
	changed, err := r.action.Execute(r.props, actx)
	if err != nil {
		s.logger.Warn("bulk change action failed", "action", r.action.Key(), "issue", actx.Issue.Key, "err", err)
		return false, err
	}
	return changed, nil
}

// save persists issues and returns the keys that were written. Conflicting
// issues are reported by omission.
func (s *Service) save(ctx context.Context, issues []*types.Issue) (map[string]bool, error) {
	saved := make(map[string]bool, len(issues))
	if len(issues) == 0 {
		return saved, nil
	}
	_, err := s.saver.Save(ctx, issues)
	var conflict *issuestore.ConflictError
	if err != nil && !errors.As(err, &conflict) {
		return nil, fmt.Errorf("save issues: %w", err)
	}
	for _, issue := range issues {
		saved[issue.Key] = true
	}
	if conflict != nil {
		for _, key := range conflict.Keys {
			delete(saved, key)
		}
	}
	return saved, nil
}

// events captures the notifications before saving clears pending changes.
func (s *Service) events(issues []*types.Issue, caller permission.Session, at time.Time) []*eventbus.Event {
	if s.bus == nil {
		return nil
	}
	var out []*eventbus.Event
	for _, issue := range issues {
		if issue.SendNotifications {
			out = append(out, eventbus.NewIssueChanged(issue, caller.Login(), at))
		}
	}
	return out
}

func (s *Service) notify(ctx context.Context, events []*eventbus.Event, saved map[string]bool, result *Result, caller permission.Session) {
	if s.bus == nil {
		return
	}
	for _, e := range events {
		if !saved[e.IssueKey] {
			continue
		}
		if _, err := s.bus.Dispatch(ctx, e); err != nil {
			s.logger.Warn("issue notification not dispatched", "issue", e.IssueKey, "err", err)
		}
	}
	payload, err := json.Marshal(eventbus.BulkChangePayload{
		Actor:    caller.Login(),
		Total:    result.Total,
		Success:  result.Success,
		Failures: result.Failures,
		Ignored:  result.Ignored(),
	})
	if err != nil {
		return
	}
	done := &eventbus.Event{Type: eventbus.EventBulkChangeCompleted, Actor: caller.Login(), At: s.now(), Raw: payload}
	if _, err := s.bus.Dispatch(ctx, done); err != nil {
		s.logger.Warn("bulk change notification not dispatched", "err", err)
	}
}

func projectsOf(issues []*types.Issue, saved map[string]bool) []string {
	var out []string
	for _, issue := range issues {
		if saved[issue.Key] && !slices.Contains(out, issue.ProjectUUID) {
			out = append(out, issue.ProjectUUID)
		}
	}
	return out
}
