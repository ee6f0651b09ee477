// Package capability defines the generation and verification capabilities a
// run drives, plus the adapters shipped with symphony.
package capability

import (
	"context"
	"errors"
)

// Capability errors. Both are absorbed by the coordinator as a failed pass.
var (
	ErrGeneration   = errors.New("generation failed")
	ErrVerification = errors.New("verification failed")
)

// GenerateRequest is one generation call. Handles are per run: the project
// root and run id are always explicit.
type GenerateRequest struct {
	ProjectRoot string
	RunID       string
	Instruction string
	StepBudget  int
}

// GenerateResult reports whether the generator changed the project
type GenerateResult struct {
	Applied bool
	Summary string
}

// Generator applies an instruction to the project
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// VerifyRequest is one verification call against running servers
type VerifyRequest struct {
	BaseURL     string
	RunID       string
	ArtifactDir string // pass directory; screenshots may be written here
	PassIndex   int
}

// Verifier inspects the running application and returns the raw report
// payload. Parsing belongs to the report contract.
type Verifier interface {
	Verify(ctx context.Context, req VerifyRequest) ([]byte, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

// Generate calls f(ctx, req)
func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	return f(ctx, req)
}

// VerifierFunc adapts a function to Verifier
type VerifierFunc func(ctx context.Context, req VerifyRequest) ([]byte, error)

// Verify calls f(ctx, req)
func (f VerifierFunc) Verify(ctx context.Context, req VerifyRequest) ([]byte, error) {
	return f(ctx, req)
}
