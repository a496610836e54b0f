package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/amr1k/rtmptranscribe/internal/audio"
)

const (
	DefaultLanguageCode = "en-US"
	DefaultSampleRate   = 16000
)

// errStopRequested ends a session on behalf of the result handler
var errStopRequested = errors.New("stop requested by result handler")

// Config contains recognition client configuration
type Config struct {
	SampleRate               int
	LanguageCode             string // BCP-47 tag
	AlternativeLanguageCodes []string
	Model                    string
	InterimResults           bool
	AutomaticPunctuation     bool
	ProfanityFilter          bool

	// Credentials; when all are empty Application Default Credentials apply
	CredentialsFile string
	APIKey          string
	QuotaProject    string
	Endpoint        string // e.g. "eu-speech.googleapis.com:443"
}

// ClientOptions returns the Google API client options derived from the config
func (c Config) ClientOptions() []option.ClientOption {
	opts := make([]option.ClientOption, 0, 4)
	if c.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	}
	if c.APIKey != "" {
		opts = append(opts, option.WithAPIKey(c.APIKey))
	}
	if c.QuotaProject != "" {
		opts = append(opts, option.WithQuotaProject(c.QuotaProject))
	}
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	return opts
}

// recognizeStream is the part of speechpb.Speech_StreamingRecognizeClient the client uses
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

type streamOpener func(ctx context.Context) (recognizeStream, error)

// ClientStats represents client statistics
type ClientStats struct {
	Sessions       uint64 `json:"sessions"`
	BatchesSent    uint64 `json:"batches_sent"`
	SamplesSent    uint64 `json:"samples_sent"`
	InterimResults uint64 `json:"interim_results"`
	FinalResults   uint64 `json:"final_results"`
	Failures       uint64 `json:"failures"`
}

// Client streams PCM audio to Google Cloud Speech-to-Text
type Client struct {
	config   Config
	logger   *zap.Logger
	observer Observer
	open     streamOpener
	closeFn  func() error

	stats ClientStats
	mu    sync.RWMutex
}

// ClientOption customizes a Client
type ClientOption func(*Client)

// WithObserver registers an observer for client events
func WithObserver(o Observer) ClientOption {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// NewClient dials the Speech API. No stream is opened until Recognize.
func NewClient(ctx context.Context, config Config, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	config = config.withDefaults()

	sc, err := speech.NewClient(ctx, config.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create speech client: %w", ErrSessionFailure, err)
	}

	open := func(ctx context.Context) (recognizeStream, error) {
		stream, err := sc.StreamingRecognize(ctx)
		if err != nil {
			return nil, err
		}
		return stream, nil
	}

	return newClient(config, logger, open, sc.Close, opts...), nil
}

func newClient(config Config, logger *zap.Logger, open streamOpener, closeFn func() error, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		config:   config.withDefaults(),
		logger:   logger,
		observer: nopObserver{},
		open:     open,
		closeFn:  closeFn,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.LanguageCode == "" {
		c.LanguageCode = DefaultLanguageCode
	}
	return c
}

// StreamingConfig returns the configuration message sent first on every stream
func (c *Client) StreamingConfig() *speechpb.StreamingRecognitionConfig {
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(c.config.SampleRate),
			AudioChannelCount:          1,
			LanguageCode:               c.config.LanguageCode,
			AlternativeLanguageCodes:   c.config.AlternativeLanguageCodes,
			Model:                      c.config.Model,
			EnableAutomaticPunctuation: c.config.AutomaticPunctuation,
			ProfanityFilter:            c.config.ProfanityFilter,
		},
		InterimResults: c.config.InterimResults,
	}
}

// Recognize runs one streaming session: audio from src goes out on a sender
// goroutine while results are handed to handle in arrival order. It returns nil
// when the server finishes after the audio ended or when handle asks to stop.
func (c *Client) Recognize(ctx context.Context, src BatchSource, handle ResultHandler) error {
	c.mu.Lock()
	c.stats.Sessions++
	c.mu.Unlock()

	err := c.recognize(ctx, src, handle)
	if err != nil && errors.Is(err, ErrSessionFailure) {
		c.mu.Lock()
		c.stats.Failures++
		c.mu.Unlock()
		c.observer.SessionFailed(status.Code(err).String())
	}
	return err
}

func (c *Client) recognize(parent context.Context, src BatchSource, handle ResultHandler) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	stream, err := c.open(gctx)
	if err != nil {
		return fmt.Errorf("%w: failed to open recognition stream: %w", ErrSessionFailure, err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: c.StreamingConfig(),
		},
	}); err != nil {
		return c.failure(parent, "failed to send streaming config", sendError(stream, err))
	}

	c.logger.Debug("Recognition stream opened",
		zap.String("language_code", c.config.LanguageCode),
		zap.Int("sample_rate", c.config.SampleRate),
		zap.Bool("interim_results", c.config.InterimResults),
	)

	var audioDone atomic.Bool

	g.Go(func() error {
		for {
			batch, err := src.NextBatch(gctx)
			if errors.Is(err, io.EOF) {
				audioDone.Store(true)
				c.logger.Debug("Audio ended, closing request stream")
				if err := stream.CloseSend(); err != nil {
					return c.failure(parent, "failed to close request stream", err)
				}
				return nil
			}
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to read audio batch: %w", err)
			}

			if err := stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: audio.EncodePCM16LE(batch),
				},
			}); err != nil {
				if errors.Is(err, io.EOF) {
					// the receiver reports the stream status
					return nil
				}
				return c.failure(parent, "failed to send audio", err)
			}

			c.recordBatch(len(batch))
		}
	})

	g.Go(func() error {
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				if !audioDone.Load() {
					return fmt.Errorf("%w: server closed the stream before audio ended", ErrSessionFailure)
				}
				return nil
			}
			if err != nil {
				return c.failure(parent, "failed to receive results", err)
			}
			if st := resp.GetError(); st != nil && st.GetCode() != int32(codes.OK) {
				return c.failure(parent, "recognition error", status.ErrorProto(st))
			}

			result, ok := resultFromResponse(resp)
			if !ok {
				continue
			}
			c.recordResult(result.IsFinal)

			stop, err := handle(result)
			if err != nil {
				return err
			}
			if stop {
				return errStopRequested
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, errStopRequested) {
		c.logger.Debug("Recognition stopped by result handler")
		return nil
	}
	return err
}

// failure wraps a stream error; cancellation of the caller's context is
// reported as such rather than as a session failure
func (c *Client) failure(parent context.Context, msg string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("recognition cancelled: %w", parent.Err())
	}

	switch status.Code(err) {
	case codes.OutOfRange, codes.ResourceExhausted:
		c.logger.Warn("Recognition stream hit the service streaming limit", zap.Error(err))
	}
	return fmt.Errorf("%w: %s: %w", ErrSessionFailure, msg, err)
}

// sendError resolves the real stream status when Send reports io.EOF
func sendError(stream recognizeStream, err error) error {
	if !errors.Is(err, io.EOF) {
		return err
	}
	if _, recvErr := stream.Recv(); recvErr != nil && !errors.Is(recvErr, io.EOF) {
		return recvErr
	}
	return err
}

func resultFromResponse(resp *speechpb.StreamingRecognizeResponse) (Result, bool) {
	results := resp.GetResults()
	if len(results) == 0 {
		return Result{}, false
	}

	// results are consecutive; only the first one is still being decided
	first := results[0]
	alternatives := first.GetAlternatives()
	if len(alternatives) == 0 {
		return Result{}, false
	}

	return Result{
		Transcript:   alternatives[0].GetTranscript(),
		IsFinal:      first.GetIsFinal(),
		Stability:    first.GetStability(),
		Confidence:   alternatives[0].GetConfidence(),
		EndTime:      first.GetResultEndTime().AsDuration(),
		LanguageCode: first.GetLanguageCode(),
	}, true
}

func (c *Client) recordBatch(samples int) {
	c.mu.Lock()
	c.stats.BatchesSent++
	c.stats.SamplesSent += uint64(samples)
	c.mu.Unlock()
	c.observer.BatchSent(samples)
}

func (c *Client) recordResult(final bool) {
	c.mu.Lock()
	if final {
		c.stats.FinalResults++
	} else {
		c.stats.InterimResults++
	}
	c.mu.Unlock()
	c.observer.ResultReceived(final)
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Close releases the underlying gRPC connection
func (c *Client) Close() error {
	if c.closeFn == nil {
		return nil
	}
	return c.closeFn()
}
