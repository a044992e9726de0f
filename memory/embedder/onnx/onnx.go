//go:build onnx

// Package onnx embeds text locally with all-MiniLM-L6-v2 via ONNX Runtime.
// Build with -tags onnx and point Config at the model, tokenizer.json, and
// the onnxruntime shared library.
package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

const (
	defaultDimensions = 384
	maxSequenceLen    = 128

	clsTokenID = 101
	sepTokenID = 102
	unkTokenID = 100
)

// Config locates the model artifacts.
type Config struct {
	// ModelPath is the ONNX model file.
	ModelPath string

	// TokenizerPath is the HuggingFace tokenizer.json holding the vocab.
	TokenizerPath string

	// LibraryPath is the onnxruntime shared library. Empty uses the
	// ONNXRUNTIME_LIB environment variable.
	LibraryPath string

	// Dimensions is the output vector size, 384 for all-MiniLM-L6-v2.
	Dimensions int
}

// Embedder runs sentence-transformer inference through onnxruntime.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	vocab      map[string]int
	dimensions int
	logger     *zap.Logger
}

// New initializes the runtime and loads the model and vocabulary.
func New(cfg Config, logger *zap.Logger) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("ModelPath is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = defaultDimensions
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	libPath := cfg.LibraryPath
	if libPath == "" {
		libPath = os.Getenv("ONNXRUNTIME_LIB")
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initializing onnxruntime: %w", err)
	}

	vocab, err := loadVocab(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer vocab: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("creating onnx session: %w", err)
	}

	logger.Info("loaded embedding model",
		zap.String("model", cfg.ModelPath),
		zap.Int("vocab_size", len(vocab)))

	return &Embedder{
		session:    session,
		vocab:      vocab,
		dimensions: cfg.Dimensions,
		logger:     logger,
	}, nil
}

// Embed tokenizes, runs inference, mean-pools attended positions, and
// normalizes to a unit vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	tokens := e.tokenize(text)
	if len(tokens) > maxSequenceLen-2 {
		tokens = tokens[:maxSequenceLen-2]
	}

	inputIDs := make([]int64, maxSequenceLen)
	attentionMask := make([]int64, maxSequenceLen)
	tokenTypeIDs := make([]int64, maxSequenceLen)

	inputIDs[0] = clsTokenID
	attentionMask[0] = 1
	for i, tok := range tokens {
		inputIDs[i+1] = tok
		attentionMask[i+1] = 1
	}
	inputIDs[len(tokens)+1] = sepTokenID
	attentionMask[len(tokens)+1] = 1

	shape := ort.NewShape(1, maxSequenceLen)
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("creating input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("creating attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typesTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("creating token_type_ids tensor: %w", err)
	}
	defer typesTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idsTensor, maskTensor, typesTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	return e.pool(tensor, attentionMask)
}

// pool mean-pools [1, seq, hidden] over attended positions. A pre-pooled
// [1, hidden] output passes through unchanged.
func (e *Embedder) pool(tensor *ort.Tensor[float32], mask []int64) ([]float32, error) {
	data := tensor.GetData()
	shape := tensor.GetShape()

	switch len(shape) {
	case 2:
		if len(data) < e.dimensions {
			return nil, fmt.Errorf("output dimension mismatch: got %d, want %d", len(data), e.dimensions)
		}
		vec := make([]float32, e.dimensions)
		copy(vec, data[:e.dimensions])
		return normalize(vec), nil

	case 3:
		seqLen, hidden := int(shape[1]), int(shape[2])
		if hidden != e.dimensions {
			return nil, fmt.Errorf("hidden size mismatch: got %d, want %d", hidden, e.dimensions)
		}
		vec := make([]float32, e.dimensions)
		var attended float32
		for i := 0; i < seqLen; i++ {
			if mask[i] == 0 {
				continue
			}
			attended++
			for j := 0; j < hidden; j++ {
				vec[j] += data[i*hidden+j]
			}
		}
		if attended == 0 {
			return nil, fmt.Errorf("no attended tokens")
		}
		for j := range vec {
			vec[j] /= attended
		}
		return normalize(vec), nil

	default:
		return nil, fmt.Errorf("unexpected output shape: %v", shape)
	}
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases the inference session.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

func loadVocab(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return file.Model.Vocab, nil
}

// tokenize lowercases, strips punctuation, and applies greedy WordPiece
// with "##" continuation pieces.
func (e *Embedder) tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if word == "" {
			continue
		}
		if id, ok := e.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		tokens = append(tokens, e.wordPiece(word)...)
	}
	return tokens
}

func (e *Embedder) wordPiece(word string) []int64 {
	var pieces []int64
	start := 0
	for start < len(word) {
		end := len(word)
		matched := false
		for end > start {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := e.vocab[piece]; ok {
				pieces = append(pieces, int64(id))
				start = end
				matched = true
				break
			}
			end--
		}
		if !matched {
			pieces = append(pieces, unkTokenID)
			start++
		}
	}
	return pieces
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
