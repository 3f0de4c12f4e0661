// Package permission answers which operations the current caller may perform.
package permission

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/qualityhub/issueflow/internal/types"
)

// Project permissions
const (
	// Browse allows seeing a project's issues and running ungated operations on them.
	Browse = "user"
	// IssueAdmin allows resolving as false-positive/won't fix and re-rating issues.
	IssueAdmin = "issueadmin"
)

// AnyProject is the grant key applying a permission to every project.
const AnyProject = "*"

// Session describes the caller of an operation.
type Session interface {
	IsLoggedIn() bool
	// UserUUID returns the caller's UUID, empty for anonymous callers.
	UserUUID() string
	Login() string
	HasProjectPermission(permission, projectUUID string) bool
}

type anonymous struct{}

// Anonymous returns the session of a caller that is not logged in. It holds
// no permission.
func Anonymous() Session { return anonymous{} }

func (anonymous) IsLoggedIn() bool                         { return false }
func (anonymous) UserUUID() string                         { return "" }
func (anonymous) Login() string                            { return "" }
func (anonymous) HasProjectPermission(string, string) bool { return false }

// StaticSession is a logged-in caller with a fixed set of grants.
type StaticSession struct {
	user   *types.User
	grants map[string][]string
}

// NewStaticSession returns the session of user holding grants, keyed by
// project UUID (or AnyProject).
func NewStaticSession(user *types.User, grants map[string][]string) *StaticSession {
	return &StaticSession{user: user, grants: grants}
}

// IsLoggedIn reports whether the session has an active user.
func (s *StaticSession) IsLoggedIn() bool {
	return s.user != nil && s.user.Active
}

// UserUUID returns the user's UUID.
func (s *StaticSession) UserUUID() string {
	if !s.IsLoggedIn() {
		return ""
	}
	return s.user.UUID
}

// Login returns the user's login.
func (s *StaticSession) Login() string {
	if !s.IsLoggedIn() {
		return ""
	}
	return s.user.Login
}

// User returns the session's user.
func (s *StaticSession) User() *types.User {
	return s.user
}

// HasProjectPermission reports whether permission was granted on the project
// or on every project.
func (s *StaticSession) HasProjectPermission(permission, projectUUID string) bool {
	if !s.IsLoggedIn() {
		return false
	}
	return slices.Contains(s.grants[projectUUID], permission) ||
		slices.Contains(s.grants[AnyProject], permission)
}

// File is the permissions file: grants per user login, then per project.
//
//	grants:
//	  alice:
//	    "*": [user]
//	    9f1c...: [issueadmin]
type File struct {
	Grants map[string]map[string][]string `yaml:"grants"`
}

// LoadFile reads a permissions file. A missing file yields no grants.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from configuration
	if os.IsNotExist(err) {
		return &File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read permissions file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse permissions file %s: %w", path, err)
	}
	return &f, nil
}

// SessionFor returns the session of user with the grants the file holds for
// its login. A nil user yields an anonymous session.
func (f *File) SessionFor(user *types.User) Session {
	if user == nil {
		return Anonymous()
	}
	return NewStaticSession(user, f.Grants[user.Login])
}
