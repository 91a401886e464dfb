package hub

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// RepoType selects which family of hub repositories an id refers to.
type RepoType string

const (
	RepoModel   RepoType = "model"
	RepoDataset RepoType = "dataset"
	RepoSpace   RepoType = "space"
)

const maxRepoNameLen = 96

var repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ErrInvalidRepoName is returned for names the hub would reject.
var ErrInvalidRepoName = errors.New("invalid repository name")

// RepoID names a repository as namespace/name plus its type.
type RepoID struct {
	Type      RepoType
	Namespace string
	Name      string
}

func (r RepoID) String() string {
	return r.Namespace + "/" + r.Name
}

// apiPath is the collection path used by the REST API, e.g. "datasets/alice/x".
func (r RepoID) apiPath() string {
	return r.Type.plural() + "/" + r.String()
}

// gitPath is the path of the repository's git remote relative to the endpoint.
func (r RepoID) gitPath() string {
	if r.Type == RepoModel || r.Type == "" {
		return r.String()
	}
	return r.Type.plural() + "/" + r.String()
}

// URL returns the browsable URL of the repository on the given endpoint.
func (r RepoID) URL(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + "/" + r.gitPath()
}

func (t RepoType) plural() string {
	switch t {
	case RepoDataset:
		return "datasets"
	case RepoSpace:
		return "spaces"
	default:
		return "models"
	}
}

// NewRepoID validates both path segments and builds the id.
func NewRepoID(t RepoType, namespace, name string) (RepoID, error) {
	if err := ValidateRepoName(namespace); err != nil {
		return RepoID{}, fmt.Errorf("namespace: %w", err)
	}
	if err := ValidateRepoName(name); err != nil {
		return RepoID{}, err
	}
	return RepoID{Type: t, Namespace: namespace, Name: name}, nil
}

// ParseRepoID parses "namespace/name".
func ParseRepoID(t RepoType, id string) (RepoID, error) {
	ns, name, ok := strings.Cut(id, "/")
	if !ok || strings.Contains(name, "/") {
		return RepoID{}, fmt.Errorf("%w: %q is not namespace/name", ErrInvalidRepoName, id)
	}
	return NewRepoID(t, ns, name)
}

// ValidateRepoName checks a single path segment against the hub naming rules.
func ValidateRepoName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidRepoName)
	case len(name) > maxRepoNameLen:
		return fmt.Errorf("%w: %q longer than %d characters", ErrInvalidRepoName, name, maxRepoNameLen)
	case !repoNamePattern.MatchString(name):
		return fmt.Errorf("%w: %q may only contain letters, digits, '.', '_' and '-'", ErrInvalidRepoName, name)
	case strings.Contains(name, "--"), strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q contains '--' or '..'", ErrInvalidRepoName, name)
	case strings.HasSuffix(name, ".") || strings.HasSuffix(name, "-"), strings.HasSuffix(name, ".git"):
		return fmt.Errorf("%w: %q has an invalid suffix", ErrInvalidRepoName, name)
	}
	return nil
}
