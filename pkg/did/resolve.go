package did

import (
	"context"
	"log/slog"
	"time"

	"github.com/relves/hcsdid/pkg/did/document"
	"github.com/relves/hcsdid/pkg/did/identifier"
	"github.com/relves/hcsdid/pkg/did/message"
	"github.com/relves/hcsdid/pkg/hcs"
)

type topicConfig struct {
	timeout time.Duration
	idOpts  []identifier.Option
	logger  *slog.Logger
}

// resolveTopic reads every envelope on the DID topic and folds them.
func resolveTopic(ctx context.Context, sub hcs.Subscriber, id *identifier.Identifier, cfg topicConfig) (*document.Resolution, error) {
	resolver := hcs.NewResolver(sub, hcs.Config[*message.Envelope]{
		Decoder: message.Decoder(cfg.idOpts...),
		Timeout: cfg.timeout,
		Logger:  cfg.logger,
	})
	result, err := resolver.Resolve(ctx, hcs.Query{TopicID: id.TopicID()})
	if err != nil {
		return nil, err
	}

	entries := make([]document.Entry, 0, len(result.Messages))
	for _, r := range result.Messages {
		entries = append(entries, document.Entry{
			Envelope:           r.Message,
			SequenceNumber:     r.SequenceNumber,
			ConsensusTimestamp: r.ConsensusTimestamp,
		})
	}
	return document.Fold(id.String(), entries, document.Options{
		Identifier: cfg.idOpts,
		Logger:     cfg.logger,
	})
}
