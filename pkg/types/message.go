package types

// TopicMessage is a raw message as delivered by a topic subscription.
type TopicMessage struct {
	TopicID            string    `json:"topic_id"`
	SequenceNumber     uint64    `json:"sequence_number"`
	ConsensusTimestamp Timestamp `json:"consensus_timestamp"`
	Contents           []byte    `json:"contents"`
	RunningHash        []byte    `json:"running_hash,omitempty"`
}
