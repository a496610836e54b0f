package transcription

import (
	"context"
	"errors"
	"time"
)

// ErrSessionFailure marks a recognition session that failed or closed unexpectedly.
// Sessions are never retried.
var ErrSessionFailure = errors.New("recognition session failure")

// Result is the top alternative of the first result of one streaming response
type Result struct {
	Transcript   string        `json:"transcript"`
	IsFinal      bool          `json:"is_final"`
	Stability    float32       `json:"stability,omitempty"`
	Confidence   float32       `json:"confidence,omitempty"`
	EndTime      time.Duration `json:"end_time"`
	LanguageCode string        `json:"language_code,omitempty"`
}

// BatchSource supplies PCM sample batches; it returns io.EOF when audio has ended
type BatchSource interface {
	NextBatch(ctx context.Context) ([]int16, error)
}

// ResultHandler consumes one result. Returning stop=true ends the session normally.
type ResultHandler func(Result) (stop bool, err error)

// Recognizer runs one streaming recognition session over a batch source
type Recognizer interface {
	Recognize(ctx context.Context, src BatchSource, handle ResultHandler) error
}

// Observer receives client events, typically to feed metrics
type Observer interface {
	BatchSent(samples int)
	ResultReceived(final bool)
	SessionFailed(reason string)
}

type nopObserver struct{}

func (nopObserver) BatchSent(int)        {}
func (nopObserver) ResultReceived(bool)  {}
func (nopObserver) SessionFailed(string) {}
