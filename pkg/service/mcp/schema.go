package mcp

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/recall/pkg/model"
)

func ptr[T any](v T) *T { return &v }

// embeddingSchema describes a vector of exactly dimension numbers
func embeddingSchema(dimension int, description string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "array",
		Description: description,
		Items:       &jsonschema.Schema{Type: "number"},
		MinItems:    ptr(dimension),
		MaxItems:    ptr(dimension),
	}
}

func limitSchema(description string, max int) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "integer",
		Description: description,
		Minimum:     ptr(1.0),
		Maximum:     ptr(float64(max)),
	}
}

func storeMemorySchema(dimension int) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"content": {
				Type:        "string",
				Description: "Text of the memory",
				MinLength:   ptr(1),
				MaxLength:   ptr(model.MaxContentLength),
			},
			"embedding": embeddingSchema(dimension, "Embedding of the content. Derived from content when omitted"),
			"metadata": {
				Type:        "object",
				Description: "Arbitrary JSON metadata stored with the memory",
			},
		},
		Required: []string{"content"},
	}
}

func listMemoriesSchema(max int) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"limit": limitSchema("Maximum number of memories to return, newest first", max),
		},
	}
}

func searchMemoriesSchema(dimension, max int) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"query": {
				Type:        "string",
				Description: "Natural language query, embedded by the server when no embedding is given",
				MaxLength:   ptr(model.MaxContentLength),
			},
			"embedding": embeddingSchema(dimension, "Query embedding"),
			"limit":     limitSchema("Maximum number of results", max),
			"threshold": {
				Type:        "number",
				Description: "Minimum cosine similarity of returned memories",
				Minimum:     ptr(-1.0),
				Maximum:     ptr(1.0),
			},
		},
	}
}
