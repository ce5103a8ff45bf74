package dispatch

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaCache compiles tool input schemas on first use. Tool definitions
// are immutable once registered, so the cache is keyed by schema content
// and survives unregister/re-register cycles safely.
type schemaCache struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{compiled: make(map[string]*jsonschema.Schema)}
}

// validate checks arguments against a raw JSON Schema. A nil or empty
// schema accepts anything.
func (c *schemaCache) validate(schemaBytes json.RawMessage, args map[string]any) error {
	if len(schemaBytes) == 0 {
		return nil
	}

	sch, err := c.compile(schemaBytes)
	if err != nil {
		return fmt.Errorf("compile input schema: %w", err)
	}

	// The validator wants plain decoded JSON; arguments arrive that way
	// from the frame codec already.
	doc := make(map[string]any, len(args))
	for k, v := range args {
		doc[k] = v
	}
	return sch.Validate(any(doc))
}

func (c *schemaCache) compile(schemaBytes json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	c.mu.RLock()
	sch, ok := c.compiled[key]
	c.mu.RUnlock()
	if ok {
		return sch, nil
	}

	var doc any
	if err := json.Unmarshal(schemaBytes, &doc); err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.schema.json", doc); err != nil {
		return nil, err
	}
	sch, err := compiler.Compile("tool.schema.json")
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.compiled[key] = sch
	c.mu.Unlock()
	return sch, nil
}
