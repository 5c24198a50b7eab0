package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/raphaelgruber/shadowops/internal/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const paramSchemaURL = "https://shadowops.local/schemas/parameters.schema.json"

// ParameterError reports run parameters that do not fit the agent's schema.
type ParameterError struct {
	Message string
}

func (e *ParameterError) Error() string {
	return e.Message
}

// ValidateParameters coerces string values to the types declared in the
// spec's parameter schema and validates the result. Required parameters are
// only enforced when requireAll is set. The returned map is a copy holding
// the caller's values, so "125.50" is typed into a form as given.
func ValidateParameters(spec models.ActAgentSpec, params map[string]any, requireAll bool) (map[string]any, error) {
	props, _ := spec.ParameterSchema["properties"].(map[string]any)

	coerced := make(map[string]any, len(params))
	out := make(map[string]any, len(params))
	for name, v := range params {
		coerced[name] = coerce(v, propType(props, name))
		out[name] = v
	}

	schema, err := compileParameterSchema(props, requiredNames(spec.ParameterSchema), requireAll)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(toValidatable(coerced)); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return nil, &ParameterError{Message: parameterMessage(verr)}
		}
		return nil, &ParameterError{Message: err.Error()}
	}
	return out, nil
}

func compileParameterSchema(props map[string]any, required []string, requireAll bool) (*jsonschema.Schema, error) {
	clean := make(map[string]any, len(props))
	for name := range props {
		// Older specs may carry workflow types such as "date" verbatim.
		clean[name] = map[string]any{"type": schemaType(propType(props, name))}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": clean,
	}
	if requireAll && len(required) > 0 {
		doc["required"] = required
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal parameter schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(paramSchemaURL, strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("load parameter schema: %w", err)
	}
	schema, err := c.Compile(paramSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile parameter schema: %w", err)
	}
	return schema, nil
}

func propType(props map[string]any, name string) string {
	prop, _ := props[name].(map[string]any)
	t, _ := prop["type"].(string)
	return t
}

func requiredNames(schema map[string]any) []string {
	var names []string
	switch req := schema["required"].(type) {
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				names = append(names, s)
			}
		}
	case []string:
		names = append(names, req...)
	}
	sort.Strings(names)
	return names
}

// coerce converts strings such as "125.50" or "true" to the declared type.
// Values that do not convert are left for the schema to reject.
func coerce(v any, typ string) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	switch schemaType(typ) {
	case "number":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case "integer":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case "boolean":
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return v
}

// toValidatable converts integer values to float64, the numeric form the
// validator shares with decoded JSON.
func toValidatable(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		switch n := v.(type) {
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		default:
			out[k] = v
		}
	}
	return out
}

func parameterMessage(verr *jsonschema.ValidationError) string {
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if loc == "" {
		return "invalid parameters: " + leaf.Message
	}
	return fmt.Sprintf("invalid parameter %q: %s", loc, leaf.Message)
}
