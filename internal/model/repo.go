package model

import (
	"regexp"
	"strings"

	perrors "github.com/jmgilman/go/errors"
)

var (
	githubURLPattern = regexp.MustCompile(`^https?://github\.com/([a-zA-Z0-9_-]+)/([a-zA-Z0-9_.-]+)/?$`)
	shortRefPattern  = regexp.MustCompile(`^([a-zA-Z0-9_-]+)/([a-zA-Z0-9_.-]+)$`)
)

// RepoRef names a GitHub repository.
type RepoRef struct {
	Owner string `json:"username"`
	Repo  string `json:"repo"`
}

func (r RepoRef) String() string {
	return r.Owner + "/" + r.Repo
}

// ParseRepoRef accepts "owner/repo" or a https://github.com/owner/repo URL.
func ParseRepoRef(s string) (RepoRef, error) {
	s = strings.TrimSpace(s)
	m := githubURLPattern.FindStringSubmatch(s)
	if m == nil {
		m = shortRefPattern.FindStringSubmatch(s)
	}
	if m == nil {
		return RepoRef{}, perrors.Newf(CodeInvalidInput, "not a valid GitHub repository URL: %q", s)
	}
	return RepoRef{Owner: m[1], Repo: m[2]}, nil
}
