// Package tokencount estimates token counts for prompts before a call is
// made, feeding the cost estimator and the anomaly safeguard.
//
// DESIGN: Uses the cl100k_base BPE when the encoding is available and falls
// back to the chars/4 heuristic when it is not (the encoding data may be
// absent in offline deployments). Estimates only ever gate spend upfront;
// recorded usage always comes from the provider's measured counts.
package tokencount

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// estimateRatio is the approximate number of characters per token, used
// when exact encoding is unavailable.
const estimateRatio = 4

const encodingName = "cl100k_base"

// Estimator counts tokens in text.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEstimator returns a lazy estimator; the encoding is loaded on first use.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Count estimates the number of tokens in text. Never fails.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			log.Debug().Err(err).Msg("token encoding unavailable, using chars/4 estimate")
			return
		}
		e.enc = enc
	})
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	n := len(text) / estimateRatio
	if n < 1 {
		n = 1
	}
	return n
}
