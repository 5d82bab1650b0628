package services

import (
	"net/http"

	"facewatch/internal/auth"
)

type loginRequest struct {
	Username string `validate:"required"`
	Password string `validate:"required"`
}

// login authenticates form credentials and returns a bearer token.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	req := loginRequest{Username: r.FormValue("username"), Password: r.FormValue("password")}
	if err := s.validate.Struct(req); err != nil {
		s.fail(w, r, badRequest("username and password are required"))
		return
	}

	session, err := s.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, session)
}

// register creates an account from form fields.
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	reg := auth.Registration{
		Username: r.FormValue("username"),
		Password: r.FormValue("password"),
		Name:     r.FormValue("name"),
		Email:    r.FormValue("email"),
		Phone:    r.FormValue("phone"),
	}
	if err := s.validate.Struct(reg); err != nil {
		s.fail(w, r, err)
		return
	}

	profile, err := s.Auth.Register(r.Context(), reg)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, map[string]any{"message": "User registered successfully", "user": profile})
}
