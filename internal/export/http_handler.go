package export

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rpattn/mora/internal/apperror"
	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/middleware"
	"github.com/rpattn/mora/internal/validity"

	"github.com/sirupsen/logrus"
)

// Handler serves GET /export/{kind}?format=&from_date=&to_date=.
type Handler struct {
	service *Service
	logger  *logrus.Entry
}

// NewHTTPHandler wraps the service with an HTTP endpoint.
func NewHTTPHandler(service *Service, logger *logrus.Entry) http.Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		h.writeError(w, apperror.InvalidInput("method %s not allowed", r.Method), http.StatusMethodNotAllowed)
		return
	}

	kind, err := domain.ParseKind(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, apperror.InvalidInput("%s", err.Error()), 0)
		return
	}
	query := r.URL.Query()
	format, err := ParseFormat(query.Get("format"))
	if err != nil {
		h.writeError(w, err, 0)
		return
	}
	from, err := parseBound(query, "from_date")
	if err != nil {
		h.writeError(w, err, 0)
		return
	}
	to, err := parseBound(query, "to_date")
	if err != nil {
		h.writeError(w, err, 0)
		return
	}

	now := middleware.RequestTime(r.Context())
	window, err := validity.Resolve(now, from, to)
	if err != nil {
		h.writeError(w, err, 0)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-%s.%s"`, kind, now.UTC().Format("20060102T150405Z"), format))

	// Headers are sent with the first row, so later failures can only be logged.
	if _, err := h.service.Export(r.Context(), w, Request{
		Kind:             kind,
		Format:           format,
		Window:           window,
		RegistrationTime: now,
	}); err != nil {
		h.logger.WithError(err).WithField("kind", kind).Error("export failed")
	}
}

// parseBound reads an optional date parameter; the literal "null" is an explicit open bound.
func parseBound(query map[string][]string, name string) (validity.Bound, error) {
	values, ok := query[name]
	if !ok || len(values) == 0 {
		return validity.Unset, nil
	}
	raw := values[0]
	if raw == "null" {
		return validity.Null, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return validity.At(t.UTC()), nil
		}
	}
	return validity.Unset, apperror.InvalidInput("invalid %s %q", name, raw)
}

func (h *Handler) writeError(w http.ResponseWriter, err error, status int) {
	code := apperror.CodeOf(err)
	if status == 0 {
		status = apperror.HTTPStatus(code)
	}
	message := err.Error()
	if !apperror.IsCaller(err) {
		h.logger.WithError(err).Error("export failed")
		message = "Internal server error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": string(code), "message": message})
}
