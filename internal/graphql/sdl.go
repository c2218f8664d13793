package graphql

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
)

// FormatSDL validates the schema independently of the executor and renders it
// in canonical form.
func FormatSDL() ([]byte, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "schema.graphqls", Input: schemaSDL})
	if err != nil {
		return nil, fmt.Errorf("failed to load graphql schema: %w", err)
	}
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchema(schema)
	return buf.Bytes(), nil
}

// SDLHandler serves the formatted schema for client code generators.
func SDLHandler(logger *logrus.Entry) (http.Handler, error) {
	body, err := FormatSDL()
	if err != nil {
		return nil, err
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if _, err := w.Write(body); err != nil {
			logger.WithError(err).Debug("failed to write schema")
		}
	}), nil
}
