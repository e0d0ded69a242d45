package api

import (
	"net/http"
)

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.snapshots.Snapshot())
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.snapshots.Snapshot()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"channels":    snapshot.Channels,
		"generatedAt": snapshot.GeneratedAt,
	})
}

func (s *Server) handleRelayers(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.snapshots.Snapshot()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"relayers":    snapshot.Relayers,
		"generatedAt": snapshot.GeneratedAt,
	})
}

func (s *Server) handleStuckPackets(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.snapshots.Snapshot()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"stuckPackets": snapshot.StuckPackets,
		"generatedAt":  snapshot.GeneratedAt,
	})
}
