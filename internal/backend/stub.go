package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/yangwenmai/gitpodcast/internal/model"
)

var _ Generator = (*Stub)(nil)

// Stub returns canned responses without a network (for development/testing).
type Stub struct{}

func (s *Stub) Generate(_ context.Context, req model.GenerationRequest) (*GenerateResult, error) {
	return &GenerateResult{
		Diagram:     stubDiagram(req.Owner, req.Repo),
		Explanation: fmt.Sprintf("%s/%s is organised as a client, a service layer and a store.", req.Owner, req.Repo),
		TokenCount:  1024,
	}, nil
}

func (s *Stub) Modify(_ context.Context, req model.GenerationRequest, current model.DiagramArtifact) (*ModifyResult, error) {
	note := strings.ReplaceAll(strings.TrimSpace(req.Instructions), "\n", " ")
	return &ModifyResult{Diagram: current.Diagram + "\n    %% " + note}, nil
}

func (s *Stub) EstimateCost(_ context.Context, req model.GenerationRequest) (*model.CostEstimate, error) {
	return &model.CostEstimate{Cost: "$0.02 USD"}, nil
}

func (s *Stub) GenerateAudio(_ context.Context, req model.GenerationRequest) (*model.AudioArtifact, error) {
	length := req.AudioLength
	if length == "" {
		length = model.AudioShort
	}
	return &model.AudioArtifact{
		// ID3 tag header followed by a silent frame marker.
		Audio: []byte("ID3\x04\x00\x00\x00\x00\x00\x00\xff\xfb"),
		Subtitles: fmt.Sprintf("WEBVTT\n\n00:00:00.000 --> 00:00:04.000\nA %s tour of %s/%s.\n",
			length, req.Owner, req.Repo),
	}, nil
}

func stubDiagram(owner, repo string) string {
	return fmt.Sprintf("flowchart TD\n    client[%s/%s client] --> service[service]\n    service --> store[(store)]", owner, repo)
}
