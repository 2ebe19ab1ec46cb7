package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

var testSchema = Schema{
	Name: "test",
	Definition: `{
		"type": "object",
		"required": ["name", "score"],
		"properties": {
			"name": {"type": "string"},
			"score": {"type": "number", "minimum": 0, "maximum": 1}
		}
	}`,
}

func TestDecodeValidDocument(t *testing.T) {
	var out struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}
	err := Decode(testSchema, json.RawMessage(`{"name": "a", "score": 0.5}`), &out)
	require.NoError(t, err)
	require.Equal(t, "a", out.Name)
	require.Equal(t, 0.5, out.Score)
}

func TestDecodeMissingRequiredField(t *testing.T) {
	var out map[string]any
	err := Decode(testSchema, json.RawMessage(`{"name": "a"}`), &out)
	require.Error(t, err)
	var schemaErr *SchemaValidationError
	require.ErrorAs(t, err, &schemaErr)
	require.Equal(t, "test", schemaErr.Schema)
	require.NotEmpty(t, schemaErr.Problems)
}

func TestDecodeOutOfRangeValue(t *testing.T) {
	var out map[string]any
	err := Decode(testSchema, json.RawMessage(`{"name": "a", "score": 3}`), &out)
	require.Error(t, err)
	var schemaErr *SchemaValidationError
	require.ErrorAs(t, err, &schemaErr)
}

func TestDecodeMalformedJSON(t *testing.T) {
	var out map[string]any
	err := Decode(testSchema, json.RawMessage(`{not json`), &out)
	require.Error(t, err)
}
