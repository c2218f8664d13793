package graphql

import (
	_ "embed"
	"fmt"

	graphqlgo "github.com/graph-gophers/graphql-go"
)

//go:embed schema.graphqls
var schemaSDL string

// SchemaSDL returns the schema definition served by the API.
func SchemaSDL() string {
	return schemaSDL
}

// NewSchema binds resolver to the schema. Options such as tracers and limits
// are passed through to graphql-go.
func NewSchema(resolver *Resolver, opts ...graphqlgo.SchemaOpt) (*graphqlgo.Schema, error) {
	opts = append([]graphqlgo.SchemaOpt{graphqlgo.UseStringDescriptions()}, opts...)
	schema, err := graphqlgo.ParseSchema(schemaSDL, resolver, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse graphql schema: %w", err)
	}
	return schema, nil
}
