package splitter

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/czbiohub/imagingdb/internal/logger"
	"github.com/czbiohub/imagingdb/pkg/catalog"
)

// loadSchema compiles the user-supplied JSON schema restricting variable
// metadata. A malformed schema file is a schema violation, not an IO error.
func loadSchema(path string) (*jsonschema.Schema, error) {
	if path == "" {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	sch, err := compiler.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", catalog.ErrSchemaViolation, path, err)
	}
	return sch, nil
}

// filterMetadata drops the metadata keys the schema rejects. Keys the schema
// does not mention pass through; keys with a property subschema are kept only
// if their value validates against it. A nil schema keeps everything.
func filterMetadata(meta map[string]any, sch *jsonschema.Schema) map[string]any {
	if sch == nil || len(meta) == 0 {
		return meta
	}

	filtered := make(map[string]any, len(meta))
	for key, value := range meta {
		prop, ok := sch.Properties[key]
		if !ok {
			filtered[key] = value
			continue
		}
		if err := prop.Validate(value); err != nil {
			logger.Debug("dropping metadata key rejected by schema", "key", key)
			continue
		}
		filtered[key] = value
	}
	return filtered
}
