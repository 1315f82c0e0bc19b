package hcs

import (
	"log/slog"
	"time"

	"github.com/relves/hcsdid/pkg/types"
)

// Reasons passed to InvalidHandler.
const (
	ReasonFiltered      = "Message response was rejected by user-defined filter"
	ReasonExtractFailed = "Extracting message from the mirror response failed"
	ReasonInvalid       = "Extracted message is invalid"
)

// Config controls how raw messages become typed messages. Timeout and
// Accumulator apply to Resolver only; ErrorHandler to Listener only.
type Config[M Message] struct {
	Decoder Decoder[M]
	Filters []Filter

	// InvalidHandler is told about every raw message that was dropped.
	InvalidHandler func(raw types.TopicMessage, reason string)

	// ErrorHandler receives non-fatal transport errors.
	ErrorHandler func(error)

	// Timeout bounds a whole resolution. Zero means only the context
	// bounds it.
	Timeout time.Duration

	// Accumulator sees each accepted message. An error rejects that
	// message as invalid; done=true completes the resolution early.
	Accumulator func(Received[M]) (done bool, err error)

	Logger *slog.Logger
}

func (c *Config[M]) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Config[M]) reject(raw types.TopicMessage, reason string) {
	c.logger().Warn("dropping invalid topic message",
		"topicID", raw.TopicID,
		"sequenceNumber", raw.SequenceNumber,
		"reason", reason)
	if c.InvalidHandler != nil {
		c.InvalidHandler(raw, reason)
	}
}

// extract runs filters, decoding and validation on one raw message.
func (c *Config[M]) extract(topicID string, raw types.TopicMessage) (Received[M], bool) {
	for _, f := range c.Filters {
		if !f(raw) {
			c.reject(raw, ReasonFiltered)
			return Received[M]{}, false
		}
	}

	msg, err := c.Decoder(raw.Contents)
	if err != nil {
		c.reject(raw, ReasonExtractFailed)
		return Received[M]{}, false
	}
	if !msg.IsValid(topicID) {
		c.reject(raw, ReasonInvalid)
		return Received[M]{}, false
	}

	return Received[M]{
		Message:            msg,
		SequenceNumber:     raw.SequenceNumber,
		ConsensusTimestamp: raw.ConsensusTimestamp,
	}, true
}
