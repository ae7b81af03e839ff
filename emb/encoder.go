// Package emb wraps an ONNX sentence-transformer export behind a small
// text-to-vector API.
package emb

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	defaultMaxSeqLen  = 256
	defaultOutputName = "last_hidden_state"
)

// Config describes where the runtime, model and tokenizer live.
type Config struct {
	OrtDLL        string
	ModelPath     string
	TokenizerPath string
	MaxSeqLen     int
	// UseGPU asks for the CUDA execution provider. The encoder falls back
	// to CPU when the provider is missing.
	UseGPU     bool
	OutputName string
}

// Encoder turns text into mean-pooled, L2-normalized sentence vectors.
type Encoder struct {
	mu      sync.Mutex
	cfg     Config
	tk      *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
	gpu     bool
}

var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment(dll string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if dll != "" {
			ort.SetSharedLibraryPath(dll)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("emb: initialize onnxruntime: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		return
	}
	envRefs--
	if envRefs == 0 {
		_ = ort.DestroyEnvironment()
	}
}

// Init loads the tokenizer and creates the inference session.
func (e *Encoder) Init(cfg Config) error {
	if cfg.ModelPath == "" {
		return errors.New("emb: model path is required")
	}
	if cfg.TokenizerPath == "" {
		return errors.New("emb: tokenizer path is required")
	}
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = defaultMaxSeqLen
	}
	if cfg.OutputName == "" {
		cfg.OutputName = defaultOutputName
	}
	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return fmt.Errorf("emb: load tokenizer: %w", err)
	}
	if err := acquireEnvironment(cfg.OrtDLL); err != nil {
		return err
	}
	session, gpu, err := newSession(cfg)
	if err != nil {
		releaseEnvironment()
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.tk = tk
	e.session = session
	e.gpu = gpu
	e.mu.Unlock()
	return nil
}

func newSession(cfg Config) (*ort.DynamicAdvancedSession, bool, error) {
	inputs := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputs := []string{cfg.OutputName}
	if cfg.UseGPU {
		if s, err := newGPUSession(cfg.ModelPath, inputs, outputs); err == nil {
			return s, true, nil
		}
	}
	s, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputs, outputs, nil)
	if err != nil {
		return nil, false, fmt.Errorf("emb: create session: %w", err)
	}
	return s, false, nil
}

func newGPUSession(model string, inputs, outputs []string) (*ort.DynamicAdvancedSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}
	defer cuda.Destroy()
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		return nil, err
	}
	return ort.NewDynamicAdvancedSession(model, inputs, outputs, opts)
}

// UsingGPU reports whether the session runs on the CUDA provider.
func (e *Encoder) UsingGPU() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gpu
}

// Close releases the session and the shared runtime environment.
func (e *Encoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return
	}
	_ = e.session.Destroy()
	e.session = nil
	e.tk = nil
	releaseEnvironment()
}

// Encode embeds one text. Empty text still yields a vector.
func (e *Encoder) Encode(text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.tk == nil {
		return nil, errors.New("emb: encoder is not initialized")
	}
	en, err := e.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("emb: tokenize: %w", err)
	}
	ids, mask, types := prepareInputs(en.Ids, en.AttentionMask, en.TypeIds, e.cfg.MaxSeqLen)
	shape := ort.NewShape(1, int64(len(ids)))

	idsT, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("emb: input_ids tensor: %w", err)
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("emb: attention_mask tensor: %w", err)
	}
	defer maskT.Destroy()
	typesT, err := ort.NewTensor(shape, types)
	if err != nil {
		return nil, fmt.Errorf("emb: token_type_ids tensor: %w", err)
	}
	defer typesT.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idsT, maskT, typesT}, outputs); err != nil {
		return nil, fmt.Errorf("emb: run session: %w", err)
	}
	defer outputs[0].Destroy()
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("emb: unexpected output type %T", outputs[0])
	}
	return meanPool(out.GetData(), []int64(out.GetShape()), mask)
}

// prepareInputs converts tokenizer output to int64 tensors, truncating to
// maxLen while keeping the final special token.
func prepareInputs(ids, mask, types []int, maxLen int) ([]int64, []int64, []int64) {
	n := len(ids)
	if n == 0 {
		return []int64{0}, []int64{1}, []int64{0}
	}
	keepLast := false
	if maxLen > 0 && n > maxLen {
		n = maxLen
		keepLast = maxLen > 1
	}
	outIDs := make([]int64, n)
	outMask := make([]int64, n)
	outTypes := make([]int64, n)
	for i := 0; i < n; i++ {
		outIDs[i] = int64(ids[i])
		outMask[i] = 1
		if i < len(mask) {
			outMask[i] = int64(mask[i])
		}
		if i < len(types) {
			outTypes[i] = int64(types[i])
		}
	}
	if keepLast {
		outIDs[n-1] = int64(ids[len(ids)-1])
	}
	return outIDs, outMask, outTypes
}

// meanPool averages token vectors weighted by the attention mask and
// L2-normalizes the result. A 2D output is treated as already pooled.
func meanPool(data []float32, shape []int64, mask []int64) ([]float32, error) {
	switch len(shape) {
	case 2:
		dim := int(shape[1])
		if len(data) < dim {
			return nil, fmt.Errorf("emb: output too small: %d < %d", len(data), dim)
		}
		out := make([]float32, dim)
		copy(out, data[:dim])
		return l2Normalize(out), nil
	case 3:
	default:
		return nil, fmt.Errorf("emb: unexpected output shape %v", shape)
	}
	seq, dim := int(shape[1]), int(shape[2])
	if len(data) < seq*dim {
		return nil, fmt.Errorf("emb: output too small: %d < %d", len(data), seq*dim)
	}
	out := make([]float32, dim)
	var weight float32
	for t := 0; t < seq; t++ {
		m := float32(1)
		if t < len(mask) {
			m = float32(mask[t])
		}
		if m == 0 {
			continue
		}
		weight += m
		row := data[t*dim : (t+1)*dim]
		for j, v := range row {
			out[j] += v * m
		}
	}
	if weight > 0 {
		for j := range out {
			out[j] /= weight
		}
	}
	return l2Normalize(out), nil
}

func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
