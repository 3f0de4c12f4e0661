package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qualityhub/issueflow/internal/action"
	"github.com/qualityhub/issueflow/internal/bulkchange"
	"github.com/qualityhub/issueflow/internal/changelog"
	"github.com/qualityhub/issueflow/internal/config"
	"github.com/qualityhub/issueflow/internal/eventbus"
	"github.com/qualityhub/issueflow/internal/fields"
	"github.com/qualityhub/issueflow/internal/index"
	"github.com/qualityhub/issueflow/internal/issuestore"
	"github.com/qualityhub/issueflow/internal/permission"
	"github.com/qualityhub/issueflow/internal/rules"
	"github.com/qualityhub/issueflow/internal/storage"
	"github.com/qualityhub/issueflow/internal/storage/sqlstore"
	"github.com/qualityhub/issueflow/internal/telemetry"
	"github.com/qualityhub/issueflow/internal/transition"
	"github.com/qualityhub/issueflow/internal/types"
	"github.com/qualityhub/issueflow/internal/workflow"
)

// app is the set of services one command runs against.
type app struct {
	db          *sqlstore.Store
	store       *issuestore.Store
	saver       issuestore.Saver
	index       *index.Index
	catalog     *rules.Catalog
	setter      *fields.Setter
	machine     *workflow.StateMachine
	transitions *transition.Service
	actions     *action.Registry
	bulk        *bulkchange.Service
	bus         *eventbus.Bus
	perms       *permission.File
	changelog   *changelog.Support
	logger      *slog.Logger
	now         func() time.Time
}

var current *app

// openApp opens the database and wires the services. With fullIndex the
// search index is rebuilt from the database; otherwise it only holds what
// the command writes.
func openApp(ctx context.Context, fullIndex bool) (*app, error) {
	if current != nil {
		return current, nil
	}
	batchSize := config.GetInt("storage.batch-size")
	db, err := sqlstore.Open(ctx, sqlstore.Config{
		Backend:       sqlstore.Backend(config.GetString("db.backend")),
		Path:          config.ResolvePath(dbPath),
		DSN:           config.GetString("db.dsn"),
		Database:      config.GetString("db.database"),
		BatchSize:     batchSize,
		LockTimeout:   config.GetDuration("lock-timeout"),
		CommitterName: actor,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{db: db, logger: logger, now: time.Now}
	current = a

	a.catalog, err = rules.Open(config.ResolvePath(config.GetString("rules-file")), logger)
	if err != nil {
		return nil, err
	}
	if len(a.catalog.All()) > 0 {
		if err := a.syncRules(ctx); err != nil {
			return nil, err
		}
	}

	a.index = index.New(db, index.WithLogger(logger), index.WithBatchSize(batchSize))
	if n, err := a.index.Recover(ctx); err != nil {
		logger.Warn("index recovery failed", "err", err)
	} else if n > 0 {
		logger.Info("recovered index queue", "items", n)
	}
	if fullIndex {
		if _, err := a.index.Rebuild(ctx); err != nil {
			return nil, err
		}
	}

	a.store = issuestore.New(db,
		issuestore.WithBatchSize(batchSize),
		issuestore.WithRuleFinder(rules.Finder{Catalog: a.catalog}),
		issuestore.WithIndexer(a.index),
		issuestore.WithLogger(logger),
	)
	a.saver = telemetry.WrapSaver(a.store)

	a.setter = fields.NewSetter()
	a.machine, err = workflow.NewIssueWorkflow(a.setter)
	if err != nil {
		return nil, err
	}
	a.transitions = transition.NewService(a.machine)
	a.actions, err = action.DefaultRegistry(a.setter, db, a.transitions)
	if err != nil {
		return nil, err
	}

	a.bus, err = newEventBus(logger)
	if err != nil {
		return nil, err
	}
	a.bulk = bulkchange.New(a.store, a.saver, a.actions,
		bulkchange.WithMeasureRefresher(a.index),
		bulkchange.WithEventBus(a.bus),
		bulkchange.WithLogger(logger),
	)

	a.perms, err = permission.LoadFile(config.ResolvePath(config.GetString("permissions-file")))
	if err != nil {
		return nil, err
	}
	a.changelog = changelog.New(db, changelog.WithLogger(logger))
	return a, nil
}

func closeApp() {
	if current == nil {
		return
	}
	if err := current.db.Close(); err != nil {
		logger.Warn("close database", "err", err)
	}
	current = nil
}

// newEventBus registers the log handler and the hooks of notifications.hooks.
func newEventBus(l *slog.Logger) (*eventbus.Bus, error) {
	bus := eventbus.New(eventbus.WithLogger(l))
	bus.Register(&eventbus.LogHandler{Logger: l})
	var hooks []eventbus.ExternalHandlerConfig
	if err := config.UnmarshalKey("notifications.hooks", &hooks); err != nil {
		return nil, fmt.Errorf("%w: notifications.hooks: %v", types.ErrInvalidArgument, err)
	}
	for _, h := range hooks {
		if h.ID == "" || h.Command == "" {
			return nil, fmt.Errorf("%w: notification hooks need an id and a command", types.ErrInvalidArgument)
		}
		bus.Register(eventbus.NewExternalHandler(h))
	}
	return bus, nil
}

func (a *app) syncRules(ctx context.Context) error {
	sess, err := a.db.OpenSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := a.catalog.Sync(ctx, sess); err != nil {
		return fmt.Errorf("sync rules: %w", err)
	}
	return sess.Commit(ctx)
}

// caller returns the session of the configured actor. No actor means an
// anonymous caller; an unknown one is refused.
func (a *app) caller(ctx context.Context) (permission.Session, error) {
	if actor == "" {
		return permission.Anonymous(), nil
	}
	u, err := a.db.SelectUserByLogin(ctx, actor)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown actor %q", types.ErrUnauthorized, actor)
	}
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, fmt.Errorf("%w: actor %q is deactivated", types.ErrUnauthorized, actor)
	}
	return a.perms.SessionFor(u), nil
}

// loggedIn is caller failing for anonymous sessions.
func (a *app) loggedIn(ctx context.Context) (permission.Session, error) {
	c, err := a.caller(ctx)
	if err != nil {
		return nil, err
	}
	if !c.IsLoggedIn() {
		return nil, fmt.Errorf("%w: set an actor with --actor or 'iflow config set actor LOGIN'", types.ErrUnauthorized)
	}
	return c, nil
}

// loadVisible loads an issue the caller may browse.
func (a *app) loadVisible(ctx context.Context, key string, caller permission.Session) (*types.Issue, error) {
	issue, err := a.store.LoadOne(ctx, key)
	if err != nil {
		return nil, err
	}
	if !caller.HasProjectPermission(permission.Browse, issue.ProjectUUID) {
		return nil, fmt.Errorf("issue %s: %w", key, storage.ErrNotFound)
	}
	return issue, nil
}

// userLogins maps user UUIDs to logins for display.
func (a *app) userLogins(ctx context.Context, uuids ...string) map[string]string {
	out := make(map[string]string)
	var want []string
	for _, u := range uuids {
		if u != "" {
			want = append(want, u)
		}
	}
	if len(want) == 0 {
		return out
	}
	users, err := a.db.SelectUsersByUUIDs(ctx, want)
	if err != nil {
		a.logger.Warn("resolve users", "err", err)
		return out
	}
	for _, u := range users {
		out[u.UUID] = u.Login
	}
	return out
}
