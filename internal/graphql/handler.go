package graphql

import (
	"encoding/json"
	"net/http"

	"github.com/rpattn/mora/internal/apperror"

	graphqlgo "github.com/graph-gophers/graphql-go"
	gqlerrors "github.com/graph-gophers/graphql-go/errors"
	"github.com/sirupsen/logrus"
)

// Handler serves GraphQL over HTTP. Every error in the response carries
// extensions.code; errors that are not the caller's fault are reduced to a
// generic message.
type Handler struct {
	schema *graphqlgo.Schema
	logger *logrus.Entry
}

// NewHandler creates a handler executing against schema.
func NewHandler(schema *graphqlgo.Schema, logger *logrus.Entry) *Handler {
	return &Handler{schema: schema, logger: logger}
}

type request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, http.StatusMethodNotAllowed, apperror.InvalidInput("method %s not allowed", r.Method))
		return
	}
	var params request
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.writeError(w, http.StatusBadRequest, apperror.InvalidInput("invalid request body"))
		return
	}
	if params.Query == "" {
		h.writeError(w, http.StatusBadRequest, apperror.InvalidInput("query must be non-empty"))
		return
	}

	response := h.schema.Exec(r.Context(), params.Query, params.OperationName, params.Variables)
	for _, qErr := range response.Errors {
		mask(qErr)
	}
	h.write(w, http.StatusOK, response)
}

// mask sets the error code and hides the message of internal failures.
// Errors raised outside resolvers come from parsing and validation.
func mask(qErr *gqlerrors.QueryError) {
	code := apperror.CodeInvalidInput
	if qErr.ResolverError != nil {
		code = apperror.CodeOf(qErr.ResolverError)
	}
	if code == apperror.CodeInternal {
		qErr.Message = apperror.Internal(nil).Message
	}
	if qErr.Extensions == nil {
		qErr.Extensions = map[string]interface{}{}
	}
	qErr.Extensions["code"] = string(code)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err *apperror.Error) {
	h.write(w, status, &graphqlgo.Response{
		Errors: []*gqlerrors.QueryError{{Message: err.Message, Extensions: err.Extensions()}},
	})
}

func (h *Handler) write(w http.ResponseWriter, status int, response *graphqlgo.Response) {
	body, err := json.Marshal(response)
	if err != nil {
		h.logger.WithError(err).Error("failed to encode graphql response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.logger.WithError(err).Debug("failed to write graphql response")
	}
}
