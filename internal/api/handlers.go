package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yangwenmai/gitpodcast/internal/codec"
	"github.com/yangwenmai/gitpodcast/internal/model"
)

// podcastRequest is the body shared by the generation endpoints. The
// repository is named either by username+repo or by a GitHub URL.
type podcastRequest struct {
	Username     string `json:"username"`
	Repo         string `json:"repo"`
	URL          string `json:"url"`
	Instructions string `json:"instructions"`
	APIKey       string `json:"api_key"`
	AudioLength  string `json:"audio_length"`
}

// decodeRequest parses the body into a GenerationRequest. It writes the 400
// response itself and returns ok=false on bad input.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (model.GenerationRequest, bool) {
	var body podcastRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return model.GenerationRequest{}, false
	}

	req := model.GenerationRequest{
		Owner:        strings.TrimSpace(body.Username),
		Repo:         strings.TrimSpace(body.Repo),
		Instructions: body.Instructions,
		APIKey:       body.APIKey,
		AudioLength:  s.audioLength,
	}
	if body.URL != "" {
		ref, err := model.ParseRepoRef(body.URL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "url must be a GitHub repository URL or owner/repo")
			return model.GenerationRequest{}, false
		}
		req.Owner, req.Repo = ref.Owner, ref.Repo
	}
	if req.Owner == "" || req.Repo == "" {
		writeError(w, http.StatusBadRequest, "username and repo (or url) are required")
		return model.GenerationRequest{}, false
	}
	if body.AudioLength != "" {
		l, err := model.ParseAudioLength(body.AudioLength)
		if err != nil {
			writeError(w, http.StatusBadRequest, "audio_length must be short or long")
			return model.GenerationRequest{}, false
		}
		req.AudioLength = l
	}
	return req, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------------------------------------------------------------------
// POST /api/generate
// ---------------------------------------------------------------------------

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	res := s.podcaster.FetchDiagram(r.Context(), req)
	if !res.OK() {
		writeFailure(w, res.Failure)
		return
	}
	writeJSON(w, http.StatusOK, res.Value)
}

// ---------------------------------------------------------------------------
// POST /api/modify
// ---------------------------------------------------------------------------

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Instructions) == "" {
		writeError(w, http.StatusBadRequest, "instructions are required")
		return
	}
	res := s.podcaster.ModifyDiagram(r.Context(), req)
	if !res.OK() {
		writeFailure(w, res.Failure)
		return
	}
	writeJSON(w, http.StatusOK, res.Value)
}

// ---------------------------------------------------------------------------
// POST /api/cost
// ---------------------------------------------------------------------------

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	res := s.podcaster.EstimateCost(r.Context(), req)
	if !res.OK() {
		writeFailure(w, res.Failure)
		return
	}
	writeJSON(w, http.StatusOK, res.Value)
}

// ---------------------------------------------------------------------------
// POST /api/audio
// ---------------------------------------------------------------------------

type audioResponse struct {
	Audio string `json:"audio"`
	VTT   string `json:"vtt"`
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	res := s.podcaster.FetchAudio(r.Context(), req)
	if !res.OK() {
		writeFailure(w, res.Failure)
		return
	}
	writeJSON(w, http.StatusOK, audioResponse{
		Audio: codec.EncodeToText(res.Value.Audio),
		VTT:   res.Value.Subtitles,
	})
}

// ---------------------------------------------------------------------------
// GET /api/diagrams/{owner}/{repo}
// ---------------------------------------------------------------------------

func (s *Server) handleCachedDiagram(w http.ResponseWriter, r *http.Request) {
	res := s.podcaster.CachedDiagram(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"))
	if !res.OK() {
		writeFailure(w, res.Failure)
		return
	}
	writeJSON(w, http.StatusOK, res.Value)
}
