package loader

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/tidefall/reflex/internal/rule"
)

//go:embed schema.cue
var schemaCUE string

var (
	schemaOnce sync.Once
	schemaVal  cue.Value
	schemaErr  error
)

func ruleSchema() (cue.Value, error) {
	schemaOnce.Do(func() {
		ctx := cuecontext.New()
		compiled := ctx.CompileString(schemaCUE)
		if err := compiled.Err(); err != nil {
			schemaErr = fmt.Errorf("compile rule schema: %w", err)
			return
		}
		schemaVal = compiled.LookupPath(cue.ParsePath("#Rule"))
		if err := schemaVal.Err(); err != nil {
			schemaErr = fmt.Errorf("lookup #Rule: %w", err)
		}
	})
	return schemaVal, schemaErr
}

// ValidateSchema unifies a rule document with the embedded CUE schema.
// Shape violations (wrong discriminator, non-string id, bad operator)
// surface here with the offending path in the message.
func ValidateSchema(raw json.RawMessage) error {
	schema, err := ruleSchema()
	if err != nil {
		return err
	}
	// JSON is a subset of CUE, so the document compiles directly.
	data := schema.Context().CompileBytes(raw)
	if err := data.Err(); err != nil {
		return &rule.ValidationError{Message: fmt.Sprintf("invalid document: %v", err)}
	}
	unified := schema.Unify(data)
	if err := unified.Validate(); err != nil {
		return &rule.ValidationError{Message: fmt.Sprintf("schema: %v", err)}
	}
	return nil
}
