// Package file stores payloads on consensus topics as HCS-1 chunked files
// and reads them back.
package file

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
	"golang.org/x/sync/errgroup"

	"github.com/relves/hcsdid/pkg/hcs"
	"github.com/relves/hcsdid/pkg/hcs/chunk"
	"github.com/relves/hcsdid/pkg/keys"
)

var (
	ErrInvalidFileTopic   = errors.New("HCS file topic is invalid")
	ErrInvalidFilePayload = errors.New("Resolved HCS file payload is invalid")
)

const (
	defaultConcurrency = 4
	defaultTimeout     = 30 * time.Second
)

// File is a payload together with the topic that holds it.
type File struct {
	TopicID string
	Memo    chunk.Memo
	Payload []byte
	// CID is a CIDv1 (raw, sha2-256) of Payload.
	CID cid.Cid
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithConcurrency bounds how many chunks are submitted at once.
func WithConcurrency(n int) Option {
	return func(s *Service) { s.concurrency = n }
}

// WithTimeout bounds a single Resolve.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithMimeType sets the media type recorded in the first chunk.
func WithMimeType(mimeType string) Option {
	return func(s *Service) { s.mimeType = mimeType }
}

// Service submits and resolves chunked files.
type Service struct {
	ledger      hcs.Ledger
	logger      *slog.Logger
	concurrency int
	timeout     time.Duration
	mimeType    string
}

// NewService returns a file service on ledger.
func NewService(ledger hcs.Ledger, opts ...Option) *Service {
	s := &Service{
		ledger:      ledger,
		logger:      slog.Default(),
		concurrency: defaultConcurrency,
		timeout:     defaultTimeout,
		mimeType:    chunk.DefaultMimeType,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	return s
}

// Submit writes payload to a new topic whose memo describes it. When
// submitKey is set the topic accepts messages only from that key.
func (s *Service) Submit(ctx context.Context, payload []byte, submitKey keys.PrivateKey) (*File, error) {
	chunks, memo, err := chunk.Encode(payload, chunk.EncodeOptions{MimeType: s.mimeType})
	if err != nil {
		return nil, fmt.Errorf("failed to encode file: %w", err)
	}

	topicOpts := hcs.TopicOptions{Memo: memo.String()}
	var signers []keys.PrivateKey
	if submitKey != nil {
		topicOpts.SubmitKey = submitKey.Public()
		signers = append(signers, submitKey)
	}
	topicID, err := s.ledger.CreateTopic(ctx, topicOpts, signers...)
	if err != nil {
		return nil, fmt.Errorf("failed to create file topic: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, c := range chunks {
		tx := hcs.NewTransaction(topicID, c, s.ledger, signers...)
		g.Go(func() error {
			_, err := tx.Execute(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to submit file chunks: %w", err)
	}

	s.logger.Info("submitted file",
		"topicID", topicID,
		"chunks", len(chunks),
		"size", len(payload))

	return newFile(topicID, memo, payload)
}

// Resolve reads the file held by topicID and checks it against the memo.
func (s *Service) Resolve(ctx context.Context, topicID string) (*File, error) {
	info, err := s.ledger.GetTopicInfo(ctx, topicID)
	if err != nil {
		return nil, err
	}
	memo, err := chunk.ParseMemo(info.Memo)
	if err != nil {
		return nil, fmt.Errorf("%w: topic '%s' must contain memo compliant with HCS-1 standard: %w",
			ErrInvalidFileTopic, topicID, err)
	}

	asm := chunk.NewAssembler(memo)
	var (
		payload  []byte
		complete bool
	)
	resolver := hcs.NewResolver(s.ledger, hcs.Config[*chunk.Message]{
		Decoder: chunk.DecodeMessage,
		Timeout: s.timeout,
		Logger:  s.logger,
		Accumulator: func(r hcs.Received[*chunk.Message]) (bool, error) {
			if err := asm.Add(r.Message); err != nil {
				return false, err
			}
			p, ok, err := asm.TryAssemble()
			if err != nil || !ok {
				return false, err
			}
			payload, complete = p, true
			return true, nil
		},
	})

	if _, err := resolver.Resolve(ctx, hcs.Query{TopicID: topicID}); err != nil {
		return nil, err
	}
	if !complete {
		if _, err := asm.Assemble(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFilePayload, err)
		}
		return nil, ErrInvalidFilePayload
	}

	return newFile(topicID, memo, payload)
}

func newFile(topicID string, memo chunk.Memo, payload []byte) (*File, error) {
	sum, err := mh.Sum(payload, mh.SHA2_256, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to hash payload: %w", err)
	}
	return &File{
		TopicID: topicID,
		Memo:    memo,
		Payload: payload,
		CID:     cid.NewCidV1(uint64(multicodec.Raw), sum),
	}, nil
}
