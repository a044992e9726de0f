package core

import "context"

// Generator produces model completions for a prompt. Implementations wrap a
// hosted LLM (llm/anthropic) or a scripted stub in tests.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SourceStatus reports a knowledge source's availability.
type SourceStatus string

const (
	SourceAvailable   SourceStatus = "available"
	SourceDegraded    SourceStatus = "degraded"
	SourceUnavailable SourceStatus = "unavailable"
)

// KnowledgeRequest is a query against an external knowledge capability.
type KnowledgeRequest struct {
	// Query is the free-text question.
	Query string

	// Focus optionally narrows the query, e.g. "hydrogen bonding",
	// "solubility parameters".
	Focus []string

	// Filters constrain results by metadata, interpretation is
	// source-specific.
	Filters map[string]string

	// TopK bounds how many items the source should return. Zero means
	// source default.
	TopK int
}

// KnowledgeResult is what a source returned for one request.
type KnowledgeResult struct {
	// Source names the capability that produced this result.
	Source string

	// Content is the formatted knowledge text, ready for prompt injection.
	Content string

	// References lists citations backing the content, when the source
	// provides them.
	References []string

	// Metadata carries source-specific extras.
	Metadata map[string]string
}

// KnowledgeSource is an external knowledge capability (theory engine,
// literature search). Query returns (nil, nil) when the source is healthy
// but has nothing relevant; that is an explicit empty answer, not an error.
type KnowledgeSource interface {
	Query(ctx context.Context, req *KnowledgeRequest) (*KnowledgeResult, error)
	Status(ctx context.Context) SourceStatus
}
