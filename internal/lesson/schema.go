package lesson

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/jsonc"
)

const schemaURL = "leo://lesson.schema.json"

// lessonSchema describes the on-disk lesson: a JSON array of blocks.
const lessonSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["type", "text"],
    "properties": {
      "type": {"enum": ["comment", "code"]},
      "text": {"type": "string"}
    }
  }
}`

var (
	compiledSchema *jsonschema.Schema
	schemaErr      error
	schemaOnce     sync.Once
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(lessonSchema)); err != nil {
			schemaErr = fmt.Errorf("add lesson schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// Decode parses lesson file content. Comments and trailing commas are
// accepted, the structure is checked against the lesson schema.
func Decode(data []byte) ([]Block, error) {
	clean := jsonc.ToJSON(data)

	var instance any
	if err := json.Unmarshal(clean, &instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	s, err := schema()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var blocks []Block
	if err := json.Unmarshal(clean, &blocks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return blocks, nil
}

// Encode renders blocks the way lesson files are written: an indented array.
func Encode(blocks []Block) ([]byte, error) {
	if blocks == nil {
		blocks = []Block{}
	}
	data, err := json.MarshalIndent(blocks, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode lesson: %w", err)
	}
	return append(data, '\n'), nil
}
