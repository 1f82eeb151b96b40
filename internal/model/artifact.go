package model

import (
	"strings"

	perrors "github.com/jmgilman/go/errors"
)

// Artifact namespaces in the persistence layer.
const (
	NamespaceDiagram     = "diagram"
	NamespaceExplanation = "explanation"
	NamespaceAudio       = "audio"
	NamespaceSubtitle    = "subtitle"
)

// KeySeparator joins the repo name and the variant in the storage key.
// GitHub repository names cannot contain it.
const KeySeparator = "|"

// ArtifactKey identifies the cached artifacts of one repository.
// Variant distinguishes audio length tiers; it is empty for diagrams.
type ArtifactKey struct {
	Owner   string `json:"owner"`
	Repo    string `json:"repo"`
	Variant string `json:"variant,omitempty"`
}

// NewArtifactKey builds a validated key.
func NewArtifactKey(owner, repo, variant string) (ArtifactKey, error) {
	k := ArtifactKey{Owner: owner, Repo: repo, Variant: variant}
	if err := k.Validate(); err != nil {
		return ArtifactKey{}, err
	}
	return k, nil
}

// Validate checks that the key can be stored without colliding with another key.
func (k ArtifactKey) Validate() error {
	if strings.TrimSpace(k.Owner) == "" {
		return perrors.New(CodeInvalidKey, "owner is required")
	}
	if strings.TrimSpace(k.Repo) == "" {
		return perrors.New(CodeInvalidKey, "repo is required")
	}
	if strings.Contains(k.Repo, KeySeparator) {
		return perrors.Newf(CodeInvalidKey, "repo %q contains reserved separator %q", k.Repo, KeySeparator)
	}
	if strings.Contains(k.Variant, KeySeparator) {
		return perrors.Newf(CodeInvalidKey, "variant %q contains reserved separator %q", k.Variant, KeySeparator)
	}
	return nil
}

// StorageRepo returns the repo slot of the two-part storage key, with the
// variant folded in as "repo|variant".
func (k ArtifactKey) StorageRepo() string {
	if k.Variant == "" {
		return k.Repo
	}
	return k.Repo + KeySeparator + k.Variant
}

func (k ArtifactKey) String() string {
	return k.Owner + "/" + k.StorageRepo()
}

// DiagramArtifact is the diagram and explanation generated for a repository.
// The two halves are always cached together.
type DiagramArtifact struct {
	Diagram     string `json:"diagram"`
	Explanation string `json:"explanation"`
}

// AudioArtifact is the narrated audio and its WebVTT subtitle track.
type AudioArtifact struct {
	Audio     []byte `json:"-"`
	Subtitles string `json:"vtt"`
}

// CostEstimate is the backend's estimate for a generation. Never cached.
type CostEstimate struct {
	Cost string `json:"cost"`
}
