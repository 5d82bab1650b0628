package services

import (
	"net/http"
	"strconv"

	"facewatch/internal/database"
	"facewatch/internal/notify"
)

type manualAlertRequest struct {
	Recipient string `json:"recipient"`
	Title     string `json:"title" validate:"required,max=256"`
	Message   string `json:"message" validate:"required"`
}

// sendAlert pushes an operator-written alert through one channel, bypassing the gate.
func (s *Server) sendAlert(w http.ResponseWriter, r *http.Request) {
	channel := s.mux.Vars(r)["channel"]
	var req manualAlertRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, badRequest("invalid JSON body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.fail(w, r, err)
		return
	}

	switch channel {
	case notify.ChannelSMS:
		if _, ok := notify.NormalizePhone(req.Recipient); !ok {
			s.fail(w, r, badRequest("a valid phone number is required"))
			return
		}
	case notify.ChannelEmail:
		if err := s.validate.Var(req.Recipient, "required,email"); err != nil {
			s.fail(w, r, badRequest("a valid email address is required"))
			return
		}
	}

	ok, err := s.Dispatcher.Send(r.Context(), channel, notify.Alert{
		Title:     req.Title,
		Body:      req.Message,
		Recipient: req.Recipient,
	})
	if err != nil {
		s.fail(w, r, badRequest(err.Error()))
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"success": ok, "channel": channel})
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	alerts, err := s.History.ListAlerts(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []*database.AlertRecord{}
	}
	s.writeJSON(w, r, http.StatusOK, alerts)
}
