package services

import (
	"io"
	"net/http"

	"facewatch/internal/gallery"
	"facewatch/internal/scan"
)

type uploadRequest struct {
	Name   string `validate:"required,max=100"`
	Age    string `validate:"omitempty,numeric,max=3"`
	Gender string `validate:"omitempty,max=32"`
	Crime  string `validate:"omitempty,max=256"`
}

type deleteRequest struct {
	Name string `json:"name" validate:"required"`
}

func (s *Server) listCriminals(w http.ResponseWriter, r *http.Request) {
	list, err := s.Gallery.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, list)
}

// uploadCriminal registers an identity from a multipart upload. The webcam
// route shares it; only the client differs.
func (s *Server) uploadCriminal(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(w, r, maxImageUpload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req := uploadRequest{
		Name:   r.FormValue("name"),
		Age:    r.FormValue("age"),
		Gender: r.FormValue("gender"),
		Crime:  r.FormValue("crime"),
	}
	if err := s.validate.Struct(req); err != nil {
		s.fail(w, r, err)
		return
	}

	img, err := scan.DecodeImage(data)
	if err != nil {
		s.fail(w, r, badRequest(err.Error()))
		return
	}
	id, err := s.Gallery.Register(r.Context(), req.Name, gallery.Attributes{Age: req.Age, Gender: req.Gender, Crime: req.Crime}, img)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"message": "Criminal added successfully", "criminal": id})
}

func (s *Server) deleteCriminal(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, badRequest("invalid JSON body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Gallery.Delete(r.Context(), req.Name); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"message": "Criminal deleted successfully"})
}

func (s *Server) serveImage(w http.ResponseWriter, r *http.Request) {
	path, err := s.Gallery.ImagePath(s.mux.Vars(r)["file"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.ServeFile(w, r, path)
}

// readUpload returns the multipart "file" field.
func readUpload(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, badRequest("invalid multipart form: " + err.Error())
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, badRequest("file is required")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, badRequest("failed to read upload: " + err.Error())
	}
	if len(data) == 0 {
		return nil, badRequest("file is empty")
	}
	return data, nil
}
