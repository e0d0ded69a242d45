package api

import (
	"net/http"
	"strconv"
)

type walletSessionRequest struct {
	WalletAddress string `json:"walletAddress"`
	ChainID       string `json:"chainId"`
	Signature     string `json:"signature"`
}

type walletSessionResponse struct {
	SessionToken string `json:"sessionToken"`
}

// handleWalletSession exchanges a wallet ownership proof for a session
// token. Signature verification happens at the auth gateway in front
// of this service; here the proof only has to be present.
func (s *Server) handleWalletSession(w http.ResponseWriter, r *http.Request) {
	var req walletSessionRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})

		return
	}

	if req.WalletAddress == "" || req.ChainID == "" || req.Signature == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "walletAddress, chainId and signature are required",
		})

		return
	}

	token, err := s.sessions.Issue(req.WalletAddress, req.ChainID)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, walletSessionResponse{SessionToken: token})
}

func (s *Server) handleUserStatistics(w http.ResponseWriter, r *http.Request) {
	claims, err := s.session(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	if s.stats == nil {
		s.writeJSON(w, http.StatusNotImplemented, errorBody{
			Error: "operation history is disabled",
		})

		return
	}

	stats, err := s.stats.UserStatistics(r.Context(), claims.WalletAddress)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUserOperations(w http.ResponseWriter, r *http.Request) {
	claims, err := s.session(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	if s.stats == nil {
		s.writeJSON(w, http.StatusNotImplemented, errorBody{
			Error: "operation history is disabled",
		})

		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	operations, err := s.stats.RecentOperations(r.Context(), claims.WalletAddress, limit)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"operations": operations})
}

func (s *Server) handlePlatformStatistics(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeJSON(w, http.StatusNotImplemented, errorBody{
			Error: "operation history is disabled",
		})

		return
	}

	stats, err := s.stats.PlatformStatistics(r.Context())
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, stats)
}
