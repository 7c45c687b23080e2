package api

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const geoDefinition = `{
	"type": "object",
	"required": ["lon", "lat"],
	"properties": {
		"lon": {"type": "number", "minimum": -180, "maximum": 180},
		"lat": {"type": "number", "minimum": -90, "maximum": 90},
		"height": {"type": "number"}
	},
	"additionalProperties": false
}`

var profileSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["origin", "target"],
	"properties": {
		"origin": {"$ref": "#/definitions/geo"},
		"target": {"$ref": "#/definitions/geo"}
	},
	"additionalProperties": false,
	"definitions": {"geo": ` + geoDefinition + `}
}`

var scanSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["center", "fov_deg", "radius_m", "rays"],
	"properties": {
		"center": {"$ref": "#/definitions/geo"},
		"reference": {"$ref": "#/definitions/geo"},
		"azimuth_deg": {"type": "number"},
		"fov_deg": {"type": "number", "exclusiveMinimum": 0, "maximum": 360},
		"radius_m": {"type": "number", "exclusiveMinimum": 0, "maximum": 500000},
		"rays": {"type": "integer", "minimum": 1, "maximum": 3600},
		"mode": {"type": "string", "enum": ["terrain", "object"]},
		"fan": {"type": "string", "enum": ["local", "projected"]},
		"exclude": {"type": "array", "items": {"type": "string", "minLength": 1}}
	},
	"additionalProperties": false,
	"definitions": {"geo": ` + geoDefinition + `}
}`

// validator checks request bodies against a compiled JSON schema.
type validator struct {
	schema *gojsonschema.Schema
}

func newValidator(src string) (*validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &validator{schema: s}, nil
}

// Validate returns a single error listing every violation.
func (v *validator) Validate(body []byte) error {
	res, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, desc := range res.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%w: %s", errBadRequest, strings.Join(msgs, "; "))
}
