package api

import (
	"net/http"

	"github.com/relayooor/ibcpulse/internal/resolver"
)

type resolveRequest struct {
	ChainID   string `json:"chainId"`
	ChannelID string `json:"channelId"`
	PortID    string `json:"portId"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})

		return
	}

	if req.ChainID == "" || req.ChannelID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "chainId and channelId are required",
		})

		return
	}

	resolution, err := s.resolver.Resolve(r.Context(), req.ChainID, req.ChannelID, req.PortID)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, resolution)
}

type resolveBatchRequest struct {
	Channels []resolveRequest `json:"channels"`
}

type resolveBatchEntry struct {
	ChainID    string               `json:"chainId"`
	ChannelID  string               `json:"channelId"`
	PortID     string               `json:"portId"`
	Resolution *resolver.Resolution `json:"resolution,omitempty"`
	Error      string               `json:"error,omitempty"`
}

func (s *Server) handleResolveBatch(w http.ResponseWriter, r *http.Request) {
	var req resolveBatchRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})

		return
	}

	if len(req.Channels) == 0 {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "channels is required"})

		return
	}

	keys := make([]resolver.Key, 0, len(req.Channels))
	for _, entry := range req.Channels {
		keys = append(keys, resolver.Key{
			ChainID:   entry.ChainID,
			ChannelID: entry.ChannelID,
			PortID:    entry.PortID,
		})
	}

	results := s.resolver.ResolveBatch(r.Context(), keys)

	out := make([]resolveBatchEntry, 0, len(results))

	for _, result := range results {
		entry := resolveBatchEntry{
			ChainID:    result.Key.ChainID,
			ChannelID:  result.Key.ChannelID,
			PortID:     result.Key.PortID,
			Resolution: result.Resolution,
		}
		if result.Err != nil {
			entry.Error = result.Err.Error()
		}

		out = append(out, entry)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	s.resolver.Clear()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
