package specpipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// vendorSpecSchemaJSON is a minimal schema for the vendor spec document:
// it only pins down the fields whose shape a malformed caller is most
// likely to get wrong (version, user, mandatory presence), leaving the
// deeper per-field validation to the processors themselves.
const vendorSpecSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "args", "user", "memLimit"],
  "properties": {
    "version": {"type": "string", "enum": ["1.0", "1.1"]},
    "args": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "user": {
      "type": "object",
      "required": ["uid", "gid"],
      "properties": {
        "uid": {"type": "integer"},
        "gid": {"type": "integer"}
      }
    },
    "memLimit": {"type": "integer"}
  }
}`

var vendorSpecSchema = mustCompileSchema("dobby://vendor-spec.json", vendorSpecSchemaJSON)

func mustCompileSchema(url, doc string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader([]byte(doc))); err != nil {
		panic(fmt.Sprintf("specpipeline: invalid embedded schema %s: %v", url, err))
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("specpipeline: failed to compile embedded schema %s: %v", url, err))
	}
	return schema
}

// ValidateVendorSpec runs the vendor spec document through the embedded
// JSON schema before the processor dispatch table ever sees it, so shape
// errors get a schema-level message instead of a panic deep in a
// processor's field access.
func ValidateVendorSpec(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid spec json: %w", err)
	}
	if err := vendorSpecSchema.Validate(v); err != nil {
		return fmt.Errorf("spec failed schema validation: %w", err)
	}
	return nil
}

// ValidateOCIConfig re-parses a written config.json through the OCI spec
// struct as a normalization/compliance check, mirroring the "re-parse the
// written JSON through a schema validator into the in-memory
// ResolvedConfig" step.
func ValidateOCIConfig(data []byte) (*specs.Spec, error) {
	var spec specs.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("config.json is not valid OCI spec json: %w", err)
	}
	if spec.Process == nil || len(spec.Process.Args) == 0 {
		return nil, fmt.Errorf("config.json process.args must not be empty")
	}
	if spec.Root == nil || spec.Root.Path == "" {
		return nil, fmt.Errorf("config.json root.path must not be empty")
	}
	return &spec, nil
}
