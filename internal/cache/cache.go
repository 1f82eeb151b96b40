// Package cache provides typed access to the four cached artifact kinds
// (diagram, explanation, audio, subtitle) on top of a string key-value store.
package cache

import (
	"context"

	perrors "github.com/jmgilman/go/errors"

	"github.com/yangwenmai/gitpodcast/internal/codec"
	"github.com/yangwenmai/gitpodcast/internal/model"
	"github.com/yangwenmai/gitpodcast/internal/store"
)

// Client reads and writes artifacts for validated keys.
type Client struct {
	kv store.KV
}

// New creates a cache client over kv.
func New(kv store.KV) *Client {
	return &Client{kv: kv}
}

func entryKey(namespace string, k model.ArtifactKey) store.EntryKey {
	return store.EntryKey{Namespace: namespace, Owner: k.Owner, Repo: k.StorageRepo()}
}

func (c *Client) get(ctx context.Context, namespace string, k model.ArtifactKey) (string, bool, error) {
	if err := k.Validate(); err != nil {
		return "", false, err
	}
	v, ok, err := c.kv.Get(ctx, entryKey(namespace, k))
	if err != nil {
		return "", false, perrors.WithContext(
			perrors.Wrapf(err, model.CodeCache, "read %s", namespace), "key", k.String())
	}
	return v, ok, nil
}

// Diagram returns the cached diagram text.
func (c *Client) Diagram(ctx context.Context, k model.ArtifactKey) (string, bool, error) {
	return c.get(ctx, model.NamespaceDiagram, k)
}

// Explanation returns the cached explanation text.
func (c *Client) Explanation(ctx context.Context, k model.ArtifactKey) (string, bool, error) {
	return c.get(ctx, model.NamespaceExplanation, k)
}

// AudioBase64 returns the cached audio in its persisted text form.
func (c *Client) AudioBase64(ctx context.Context, k model.ArtifactKey) (string, bool, error) {
	return c.get(ctx, model.NamespaceAudio, k)
}

// Subtitles returns the cached WebVTT track.
func (c *Client) Subtitles(ctx context.Context, k model.ArtifactKey) (string, bool, error) {
	return c.get(ctx, model.NamespaceSubtitle, k)
}

// DiagramPair returns the diagram and explanation. A key with either half
// absent or empty is reported as a miss.
func (c *Client) DiagramPair(ctx context.Context, k model.ArtifactKey) (model.DiagramArtifact, bool, error) {
	diagram, ok, err := c.Diagram(ctx, k)
	if err != nil || !ok || diagram == "" {
		return model.DiagramArtifact{}, false, err
	}
	explanation, ok, err := c.Explanation(ctx, k)
	if err != nil || !ok || explanation == "" {
		return model.DiagramArtifact{}, false, err
	}
	return model.DiagramArtifact{Diagram: diagram, Explanation: explanation}, true, nil
}

// AudioPair returns the decoded audio and its subtitle track. Either half
// absent or empty is a miss, so audio cached without subtitles is
// regenerated. A corrupt audio value yields a DECODE_FAILED error.
func (c *Client) AudioPair(ctx context.Context, k model.ArtifactKey) (model.AudioArtifact, bool, error) {
	encoded, ok, err := c.AudioBase64(ctx, k)
	if err != nil || !ok || encoded == "" {
		return model.AudioArtifact{}, false, err
	}
	vtt, ok, err := c.Subtitles(ctx, k)
	if err != nil || !ok || vtt == "" {
		return model.AudioArtifact{}, false, err
	}
	audio, err := codec.DecodeText(encoded)
	if err != nil {
		return model.AudioArtifact{}, false, perrors.WithContext(err, "key", k.String())
	}
	return model.AudioArtifact{Audio: audio, Subtitles: vtt}, true, nil
}

// PutDiagramPair stores diagram and explanation together.
func (c *Client) PutDiagramPair(ctx context.Context, k model.ArtifactKey, a model.DiagramArtifact) error {
	return c.putAll(ctx, k, []store.Entry{
		{EntryKey: entryKey(model.NamespaceDiagram, k), Value: a.Diagram},
		{EntryKey: entryKey(model.NamespaceExplanation, k), Value: a.Explanation},
	})
}

// PutAudioPair stores the base64-encoded audio and the subtitle track together.
func (c *Client) PutAudioPair(ctx context.Context, k model.ArtifactKey, a model.AudioArtifact) error {
	return c.putAll(ctx, k, []store.Entry{
		{EntryKey: entryKey(model.NamespaceAudio, k), Value: codec.EncodeToText(a.Audio)},
		{EntryKey: entryKey(model.NamespaceSubtitle, k), Value: a.Subtitles},
	})
}

func (c *Client) putAll(ctx context.Context, k model.ArtifactKey, entries []store.Entry) error {
	if err := k.Validate(); err != nil {
		return err
	}
	if err := c.kv.PutAll(ctx, entries); err != nil {
		return perrors.WithContext(perrors.Wrap(err, model.CodeCache, "write cache"), "key", k.String())
	}
	return nil
}
