package ingestion

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rpattn/mora/internal/apperror"
	"github.com/rpattn/mora/internal/auth"
	"github.com/rpattn/mora/internal/domain"

	"github.com/sirupsen/logrus"
)

const maxUploadSize = 32 << 20

// Handler exposes ingestion as an HTTP endpoint.
type Handler struct {
	service *Service
	logger  *logrus.Entry
}

// NewHTTPHandler wraps the service with a POST /import/{kind} endpoint.
func NewHTTPHandler(service *Service, logger *logrus.Entry) http.Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, apperror.InvalidInput("method %s not allowed", r.Method), http.StatusMethodNotAllowed)
		return
	}

	actor, err := auth.RequireActor(r.Context())
	if err != nil {
		h.writeError(w, err, 0)
		return
	}
	kind, err := domain.ParseKind(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, apperror.InvalidInput("%s", err.Error()), 0)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		h.writeError(w, apperror.InvalidInput("invalid form data: %v", err), 0)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, apperror.InvalidInput("file required: %v", err), 0)
		return
	}
	defer file.Close()

	var note *string
	if n := strings.TrimSpace(r.FormValue("note")); n != "" {
		note = &n
	}

	summary, err := h.service.Ingest(r.Context(), Request{
		Kind:     kind,
		FileName: header.Filename,
		Actor:    actor,
		Note:     note,
		Data:     file,
	})
	if err != nil {
		h.writeError(w, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// writeError renders err with its code. A zero status derives it from the code.
func (h *Handler) writeError(w http.ResponseWriter, err error, status int) {
	code := apperror.CodeOf(err)
	if status == 0 {
		status = apperror.HTTPStatus(code)
	}
	message := err.Error()
	if !apperror.IsCaller(err) {
		h.logger.WithError(err).Error("snapshot import failed")
		message = "Internal server error"
	}
	writeJSON(w, status, map[string]string{"code": string(code), "message": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
