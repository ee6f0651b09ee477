package report

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Koiiichi/symphony-lite/internal/models"
)

const schemaURL = "https://symphony.schemas.local/verification-report.schema.json"

// compiledSchema compiles the report schema once. The compiled schema is
// read-only and safe to share between runs.
var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(models.VerificationReportSchema())); err != nil {
		return nil, fmt.Errorf("report schema load failed: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("report schema compile failed: %w", err)
	}
	return schema, nil
})
