package backend

import (
	"context"

	"github.com/yangwenmai/gitpodcast/internal/model"
)

// Generator abstracts the remote generation service. Implementations make a
// single attempt per call and never retry.
type Generator interface {
	Generate(ctx context.Context, req model.GenerationRequest) (*GenerateResult, error)
	Modify(ctx context.Context, req model.GenerationRequest, current model.DiagramArtifact) (*ModifyResult, error)
	EstimateCost(ctx context.Context, req model.GenerationRequest) (*model.CostEstimate, error)
	GenerateAudio(ctx context.Context, req model.GenerationRequest) (*model.AudioArtifact, error)
}

// GenerateResult is the backend's answer to a diagram generation.
type GenerateResult struct {
	Diagram     string `json:"diagram"`
	Explanation string `json:"explanation"`
	TokenCount  int    `json:"token_count"`
}

// ModifyResult holds the rewritten diagram.
type ModifyResult struct {
	Diagram string `json:"diagram"`
}
