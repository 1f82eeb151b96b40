package model

import (
	perrors "github.com/jmgilman/go/errors"
)

// AudioLength selects the narration length tier.
type AudioLength string

const (
	AudioShort AudioLength = "short"
	AudioLong  AudioLength = "long"
)

// ParseAudioLength validates an audio length value. An empty string is rejected;
// callers substitute their configured default first.
func ParseAudioLength(s string) (AudioLength, error) {
	switch AudioLength(s) {
	case AudioShort, AudioLong:
		return AudioLength(s), nil
	default:
		return "", perrors.Newf(CodeInvalidInput, "audio length must be %q or %q, got %q", AudioShort, AudioLong, s)
	}
}

// GenerationRequest carries everything one orchestration call needs.
// It is built by the top-level handler and passed down explicitly.
type GenerationRequest struct {
	Owner        string
	Repo         string
	Instructions string
	APIKey       string
	WantsAudio   bool
	AudioLength  AudioLength
}

// DiagramKey returns the cache key for the diagram and explanation.
func (r GenerationRequest) DiagramKey() (ArtifactKey, error) {
	return NewArtifactKey(r.Owner, r.Repo, "")
}

// AudioKey returns the cache key for the audio tier requested.
func (r GenerationRequest) AudioKey() (ArtifactKey, error) {
	return NewArtifactKey(r.Owner, r.Repo, string(r.AudioLength))
}
