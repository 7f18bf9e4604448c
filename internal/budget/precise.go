package budget

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// PreciseEstimator wraps tiktoken-go to provide a tighter, model-aware token
// count for telemetry and logging. It is deliberately not used anywhere the
// kernel makes a budgeting or truncation decision — EstimateTokens' chars/4
// heuristic owns that — this exists only so operators can log "estimated
// vs. precise" drift.
type PreciseEstimator struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewPreciseEstimator builds an estimator for the given encoding name
// (e.g. "cl100k_base"). It is a pure function over its input text: no
// network or filesystem access occurs after construction.
func NewPreciseEstimator(encoding string) (*PreciseEstimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &PreciseEstimator{enc: enc}, nil
}

// Estimate returns the exact BPE token count for text under the wrapped
// encoding.
func (p *PreciseEstimator) Estimate(text string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.enc.Encode(text, nil, nil))
}
