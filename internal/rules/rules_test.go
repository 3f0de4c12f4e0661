package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qualityhub/issueflow/internal/testutil/teststore"
	"github.com/qualityhub/issueflow/internal/types"
)

const catalog = `
[[rules]]
key = "go:S1144"
name = "Unused private functions should be removed"
type = "CODE_SMELL"
severity = "MAJOR"
clean_code_attribute = "CLEAR"
[rules.impacts]
MAINTAINABILITY = "MEDIUM"

[[rules]]
uuid = "rule-nil"
key = "go:S2259"
name = "Null pointers should not be dereferenced"
type = "BUG"
severity = "CRITICAL"
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestParse(t *testing.T) {
	rules, err := Parse([]byte(catalog))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules", len(rules))
	}
	unused := rules[0]
	if unused.Key != (types.RuleKey{Repository: "go", Rule: "S1144"}) || unused.CleanCodeAttribute != types.AttributeClear {
		t.Errorf("unexpected rule %+v", unused)
	}
	if unused.DefaultImpacts[types.QualityMaintainability] != types.ImpactMedium {
		t.Errorf("impacts = %v", unused.DefaultImpacts)
	}
	if unused.UUID == "" {
		t.Error("rules without uuid get a derived one")
	}
	again, _ := Parse([]byte(catalog))
	if again[0].UUID != unused.UUID {
		t.Error("derived uuids must be stable")
	}
	if rules[1].UUID != "rule-nil" {
		t.Errorf("explicit uuid overridden: %s", rules[1].UUID)
	}
}

func TestParseRejectsBadRules(t *testing.T) {
	tests := map[string]string{
		"malformed key": "[[rules]]\nkey = \"S1144\"\ntype = \"BUG\"",
		"bad type":      "[[rules]]\nkey = \"go:S1\"\ntype = \"STYLE\"",
		"bad impact":    "[[rules]]\nkey = \"go:S1\"\ntype = \"BUG\"\n[rules.impacts]\nSPEED = \"HIGH\"",
		"duplicate":     "[[rules]]\nkey = \"go:S1\"\ntype = \"BUG\"\n[[rules]]\nkey = \"go:S1\"\ntype = \"BUG\"",
		"not toml":      "rules = [",
		"missing key":   "[[rules]]\ntype = \"BUG\"",
		"bad attribute": "[[rules]]\nkey = \"go:S1\"\ntype = \"BUG\"\nclean_code_attribute = \"SHINY\"",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(data)); !errors.Is(err, types.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestCatalogReloadKeepsRulesOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.toml")
	c, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open missing file: %v", err)
	}
	if len(c.All()) != 0 {
		t.Fatal("missing file should give an empty catalog")
	}

	writeFile(t, path, catalog)
	if err := c.Reload(); err != nil {
		t.Fatal(err)
	}
	if len(c.All()) != 2 {
		t.Fatalf("got %d rules", len(c.All()))
	}

	writeFile(t, path, "rules = [")
	if err := c.Reload(); err == nil {
		t.Fatal("expected a parse error")
	}
	if _, ok := c.Get(types.RuleKey{Repository: "go", Rule: "S2259"}); !ok {
		t.Error("a failed reload must keep the previous rules")
	}
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.toml")
	c, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan error, 8)
	watching := make(chan error, 1)
	go func() { watching <- c.Watch(ctx, func(err error) { reloaded <- err }) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, catalog)

	select {
	case err := <-reloaded:
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded")
	}
	if len(c.All()) != 2 {
		t.Errorf("got %d rules after reload", len(c.All()))
	}

	cancel()
	if err := <-watching; err != nil {
		t.Errorf("Watch: %v", err)
	}
}

func TestFinderPrefersCatalog(t *testing.T) {
	env := teststore.NewEnv(t)
	path := filepath.Join(t.TempDir(), "rules.toml")
	writeFile(t, path, catalog)
	c, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	f := Finder{Catalog: c}

	// The seeded database rule shares its key with the first catalog rule.
	r, err := f.FindRule(env.Ctx, env.Store, teststore.RuleKey)
	if err != nil {
		t.Fatal(err)
	}
	if r.UUID == teststore.RuleUUID {
		t.Error("catalog rule should win over the database")
	}

	empty, _ := Open(filepath.Join(t.TempDir(), "none.toml"), nil)
	r, err = Finder{Catalog: empty}.FindRule(env.Ctx, env.Store, teststore.RuleKey)
	if err != nil || r.UUID != teststore.RuleUUID {
		t.Errorf("database fallback = %+v, %v", r, err)
	}
	if _, err := f.FindRule(env.Ctx, env.Store, types.RuleKey{Repository: "go", Rule: "S9"}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSync(t *testing.T) {
	env := teststore.NewEnv(t)
	path := filepath.Join(t.TempDir(), "rules.toml")
	writeFile(t, path, catalog)
	c, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := env.Store.OpenSession(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()
	if err := c.Sync(env.Ctx, sess); err != nil {
		t.Fatal(err)
	}
	if err := sess.Commit(env.Ctx); err != nil {
		t.Fatal(err)
	}
	r, err := env.Store.SelectRuleByKey(env.Ctx, types.RuleKey{Repository: "go", Rule: "S2259"})
	if err != nil || r.UUID != "rule-nil" || r.Type != types.TypeBug {
		t.Errorf("synced rule = %+v, %v", r, err)
	}
}
