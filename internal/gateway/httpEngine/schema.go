package httpEngine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// boxSchema accepts either [x1,y1,x2,y2] or a polygon of [x,y] points.
var boxSchema = map[string]any{
	"oneOf": []any{
		map[string]any{"type": "array", "minItems": 4, "maxItems": 4, "items": map[string]any{"type": "number"}},
		map[string]any{"type": "array", "minItems": 3, "items": map[string]any{
			"type": "array", "minItems": 2, "maxItems": 2, "items": map[string]any{"type": "number"},
		}},
	},
}

// optionalBoxSchema is boxSchema or null; engines send "bbox": null when they found no region.
var optionalBoxSchema = map[string]any{
	"oneOf": append([]any{map[string]any{"type": "null"}}, boxSchema["oneOf"].([]any)...),
}

func answerSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"status"},
		"properties": map[string]any{
			"status":       map[string]any{"enum": []string{"success", "error"}},
			"answer":       map[string]any{"type": []string{"string", "null"}},
			"score":        map[string]any{"type": []string{"number", "null"}, "minimum": 0, "maximum": 1},
			"bbox":         optionalBoxSchema,
			"error":        map[string]any{"type": []string{"string", "null"}},
			"image_width":  map[string]any{"type": []string{"number", "null"}, "minimum": 0},
			"image_height": map[string]any{"type": []string{"number", "null"}, "minimum": 0},
		},
	}
}

func detectSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"status"},
		"properties": map[string]any{
			"status": map[string]any{"enum": []string{"success", "error"}},
			"text_boxes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"bbox"},
					"properties": map[string]any{
						"id":         map[string]any{"type": []string{"string", "number"}},
						"text":       map[string]any{"type": "string"},
						"bbox":       boxSchema,
						"confidence": map[string]any{"type": "number"},
					},
				},
			},
			"image_width":  map[string]any{"type": "number", "minimum": 0},
			"image_height": map[string]any{"type": "number", "minimum": 0},
		},
	}
}

var (
	compileOnce    sync.Once
	compiledAnswer *jsonschema.Schema
	compiledDetect *jsonschema.Schema
	compileErr     error
)

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func schemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledAnswer, compileErr = compileSchema("answer.json", answerSchema())
		if compileErr != nil {
			return
		}
		compiledDetect, compileErr = compileSchema("detect.json", detectSchema())
	})
	return compiledAnswer, compiledDetect, compileErr
}

func validate(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("response does not match schema: %w", err)
	}
	return nil
}
