package did

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relves/hcsdid/pkg/did/document"
	"github.com/relves/hcsdid/pkg/did/identifier"
	"github.com/relves/hcsdid/pkg/hcs"
)

// Resolution error codes.
const (
	ErrorInvalidDID     = "invalidDid"
	ErrorUnknownNetwork = "unknownNetwork"
	ErrorNotFound       = "notFound"
	ErrorInternal       = "internalError"
)

const defaultBatchConcurrency = 8

// ResolutionResult is a DID resolution result as returned by universal
// resolver drivers.
type ResolutionResult struct {
	Document           *document.Document `json:"didDocument"`
	DocumentMetadata   DocumentMetadata   `json:"didDocumentMetadata"`
	ResolutionMetadata ResolutionMetadata `json:"didResolutionMetadata"`
}

type DocumentMetadata struct {
	Created     *time.Time `json:"created,omitempty"`
	Updated     *time.Time `json:"updated,omitempty"`
	VersionID   string     `json:"versionId,omitempty"`
	Deactivated bool       `json:"deactivated,omitempty"`
}

type ResolutionMetadata struct {
	ContentType string `json:"contentType,omitempty"`
	Error       string `json:"error,omitempty"`
	Message     string `json:"message,omitempty"`
}

// OK reports whether the result carries a document.
func (r *ResolutionResult) OK() bool {
	return r.ResolutionMetadata.Error == ""
}

// SubscriberFunc returns the topic reader for a network.
type SubscriberFunc func(network string) (hcs.Subscriber, error)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCache sets the result cache.
func WithCache(c Cache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

// WithResolverTimeout bounds each resolution.
func WithResolverTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.timeout = d }
}

// WithResolverIdentifierOptions passes identifier parsing options.
func WithResolverIdentifierOptions(opts ...identifier.Option) ResolverOption {
	return func(r *Resolver) { r.idOpts = append(r.idOpts, opts...) }
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithBatchConcurrency bounds ResolveMany.
func WithBatchConcurrency(n int) ResolverOption {
	return func(r *Resolver) { r.concurrency = n }
}

// Resolver resolves any Hedera DID to a resolution result.
type Resolver struct {
	subscribers SubscriberFunc
	cache       Cache
	timeout     time.Duration
	idOpts      []identifier.Option
	logger      *slog.Logger
	concurrency int
}

// NewResolver returns a resolver reading topics through subscribers.
func NewResolver(subscribers SubscriberFunc, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		subscribers: subscribers,
		timeout:     defaultResolveTimeout,
		logger:      slog.Default(),
		concurrency: defaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	return r
}

// Resolve never fails; problems are reported in the result's resolution
// metadata.
func (r *Resolver) Resolve(ctx context.Context, did string) *ResolutionResult {
	if r.cache != nil {
		if res, ok := r.cache.Get(did); ok {
			return res
		}
	}

	id, err := identifier.Parse(did, r.idOpts...)
	if err != nil {
		if errors.Is(err, identifier.ErrInvalidNetwork) {
			return errorResult(ErrorUnknownNetwork, err)
		}
		return errorResult(ErrorInvalidDID, err)
	}

	sub, err := r.subscribers(id.Network())
	if err != nil {
		r.logger.Warn("no topic reader for network", "network", id.Network(), "error", err)
		return errorResult(ErrorUnknownNetwork, err)
	}

	res, err := resolveTopic(ctx, sub, id, topicConfig{
		timeout: r.timeout,
		idOpts:  r.idOpts,
		logger:  r.logger,
	})
	switch {
	case errors.Is(err, hcs.ErrTopicNotFound):
		return errorResult(ErrorNotFound, ErrNotRegistered)
	case err != nil:
		r.logger.Error("failed to resolve DID", "did", did, "error", err)
		return errorResult(ErrorInternal, err)
	case res.Document == nil:
		return errorResult(ErrorNotFound, ErrNotRegistered)
	}

	result := &ResolutionResult{
		Document:           res.Document,
		ResolutionMetadata: ResolutionMetadata{ContentType: document.ContentType},
	}
	if res.Document.Deactivated {
		result.DocumentMetadata = DocumentMetadata{Deactivated: true}
	} else {
		result.DocumentMetadata = DocumentMetadata{
			Created:   res.Metadata.Created,
			Updated:   res.Metadata.Updated,
			VersionID: res.Metadata.VersionID,
		}
	}

	if r.cache != nil {
		r.cache.Set(did, result)
	}
	return result
}

// ResolveMany resolves dids concurrently. Results are in input order.
func (r *Resolver) ResolveMany(ctx context.Context, dids []string) []*ResolutionResult {
	results := make([]*ResolutionResult, len(dids))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, did := range dids {
		g.Go(func() error {
			results[i] = r.Resolve(ctx, did)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Invalidate drops a cached result.
func (r *Resolver) Invalidate(did string) {
	if r.cache != nil {
		r.cache.Delete(did)
	}
}

func errorResult(code string, err error) *ResolutionResult {
	return &ResolutionResult{
		ResolutionMetadata: ResolutionMetadata{Error: code, Message: err.Error()},
	}
}
