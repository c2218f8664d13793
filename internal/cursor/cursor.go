// Package cursor implements the opaque pagination cursor.
package cursor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rpattn/mora/internal/apperror"
)

const version = 1

// Cursor carries pagination progress. ReferenceTime pins the time axis of the
// pagination sequence once the first page has been served.
type Cursor struct {
	Offset        int
	ReferenceTime *time.Time
}

type payload struct {
	Version       int        `json:"v"`
	Offset        int        `json:"o"`
	ReferenceTime *time.Time `json:"r,omitempty"`
}

// Encode returns the transport form of c: unpadded base64url over a versioned JSON payload.
func Encode(c Cursor) string {
	p := payload{Version: version, Offset: c.Offset}
	if c.ReferenceTime != nil {
		t := c.ReferenceTime.UTC()
		p.ReferenceTime = &t
	}
	data, _ := json.Marshal(p)
	return base64.RawURLEncoding.EncodeToString(data)
}

// Decode parses a cursor produced by Encode. Any malformed input is the caller's fault.
func Decode(s string) (Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, invalid(err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var p payload
	if err := dec.Decode(&p); err != nil {
		return Cursor{}, invalid(err)
	}
	if dec.More() {
		return Cursor{}, invalid(fmt.Errorf("trailing data"))
	}
	if p.Version != version {
		return Cursor{}, invalid(fmt.Errorf("unsupported version %d", p.Version))
	}
	if p.Offset < 0 {
		return Cursor{}, invalid(fmt.Errorf("negative offset %d", p.Offset))
	}
	return Cursor{Offset: p.Offset, ReferenceTime: p.ReferenceTime}, nil
}

func invalid(err error) error {
	return apperror.New(apperror.CodeInvalidInput, "Invalid cursor").WithInternal(err)
}

// Scalar binds a Cursor to the GraphQL Cursor scalar.
type Scalar struct {
	Cursor
}

// ImplementsGraphQLType maps Scalar to "scalar Cursor".
func (Scalar) ImplementsGraphQLType(name string) bool {
	return name == "Cursor"
}

// UnmarshalGraphQL decodes a cursor argument.
func (s *Scalar) UnmarshalGraphQL(input interface{}) error {
	str, ok := input.(string)
	if !ok {
		return apperror.InvalidInput("Invalid cursor")
	}
	c, err := Decode(str)
	if err != nil {
		return err
	}
	s.Cursor = c
	return nil
}

// MarshalJSON renders the encoded cursor as a JSON string.
func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(Encode(s.Cursor))
}
