package services

import "net/http"

// health reports liveness, backend load states, pipeline counters, gallery
// size and alert channels.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	backends := make(map[string]string, len(s.Backends))
	for name, b := range s.Backends {
		backends[name] = b.State().String()
	}

	resp := map[string]any{
		"status":   "ok",
		"backends": backends,
	}
	if s.Pipeline != nil {
		resp["pipeline"] = s.Pipeline.Stats()
	}
	if s.Gallery != nil {
		if g, err := s.Gallery.Snapshot(r.Context()); err == nil {
			resp["gallery_size"] = g.Len()
		}
	}
	if s.Dispatcher != nil {
		resp["channels"] = s.Dispatcher.Channels()
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}
