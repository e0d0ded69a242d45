package api

import (
	"net/http"

	"github.com/relayooor/ibcpulse/internal/clearing"
)

func (s *Server) handleRequestToken(w http.ResponseWriter, r *http.Request) {
	var req clearing.Request
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})

		return
	}

	// A valid wallet session must match the requesting wallet.
	claims, err := s.session(r)
	if err != nil {
		s.writeError(w, err)

		return
	}

	if claims.WalletAddress != req.WalletAddress {
		s.writeJSON(w, http.StatusForbidden, errorBody{
			Error: "session wallet does not match request wallet",
		})

		return
	}

	resp, err := s.engine.RequestToken(r.Context(), req)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

type verifyPaymentRequest struct {
	Token  string `json:"token"`
	TxHash string `json:"txHash"`
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})

		return
	}

	if req.Token == "" || req.TxHash == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "token and txHash are required",
		})

		return
	}

	verification, err := s.engine.VerifyPayment(r.Context(), req.Token, req.TxHash)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, verification)
}

func (s *Server) handleClearingStatus(w http.ResponseWriter, r *http.Request) {
	tokenID := r.PathValue("token")

	status, err := s.engine.GetStatus(tokenID)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, status)
}
