// Package memory provides the agent's experience bank: a bounded,
// similarity-searchable store of distilled formulation lessons.
//
// Records capture what worked, what failed, and what the lab has since
// confirmed. Each record embeds its "Title. Description" text so retrieval
// can rank by cosine similarity against a natural-language task query.
//
// Architecture:
//   - Record: one distilled lesson (title, description, content, origin)
//   - Store: bounded FIFO bank with cosine retrieval and JSON persistence
//   - Extractor: distills trajectories and lab results into records via an LLM
//   - Embedder: text-to-vector conversion (mock for tests, ONNX for offline
//     semantic search, cached decorator for either)
//
// The store is safe for concurrent use. Writes are serialized; reads return
// copies, so retrieved records can be mutated freely by callers.
package memory
