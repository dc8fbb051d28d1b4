package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

// Schema is a compiled CUE definition used to validate YAML documents
// strictly: unknown keys, wrong types and missing required fields are all
// errors. The bot config, plugin manifests and plugin configs share this.
type Schema struct {
	ctx *cue.Context
	def cue.Value
}

// CompileSchema compiles CUE source and looks up the definition at path,
// e.g. "#Config". The definition is closed, so documents unified with it
// may not contain keys it does not declare.
func CompileSchema(src, path string) (*Schema, error) {
	ctx := cuecontext.New()

	val := ctx.CompileString(src, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}

	def := val.LookupPath(cue.ParsePath(path))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("looking up %s: %w", path, err)
	}
	if !def.Exists() {
		return nil, fmt.Errorf("schema has no definition %s", path)
	}

	return &Schema{ctx: ctx, def: def}, nil
}

// DecodeYAML validates data against the schema and decodes it into out.
// label names the document in error messages and positions, typically the
// file path. out is left untouched when validation fails.
func (s *Schema) DecodeYAML(label string, data []byte, out interface{}) error {
	file, err := cueyaml.Extract(label, data)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", label, err)
	}

	doc := s.ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return schemaError(label, err)
	}

	unified := s.def.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return schemaError(label, err)
	}

	if err := unified.Decode(out); err != nil {
		return schemaError(label, err)
	}

	return nil
}

// schemaError flattens a CUE error into one message per finding, keeping
// file positions where CUE provides them.
func schemaError(label string, err error) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s does not match schema:", label)

	for _, e := range cueerrors.Errors(err) {
		fmt.Fprintf(&b, "\n  ")
		if pos := e.Position(); pos.IsValid() {
			fmt.Fprintf(&b, "%s:%d:%d: ", pos.Filename(), pos.Line(), pos.Column())
		}
		fmt.Fprintf(&b, "%s", e.Error())
	}

	return fmt.Errorf("%s", b.String())
}
