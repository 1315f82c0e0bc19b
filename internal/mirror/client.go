// Package mirror reads consensus topics from a Hedera mirror node REST API.
package mirror

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/relves/hcsdid/pkg/hcs"
	"github.com/relves/hcsdid/pkg/keys"
	"github.com/relves/hcsdid/pkg/types"
)

// Public mirror nodes by network.
var NetworkURLs = map[string]string{
	"mainnet":    "https://mainnet-public.mirrornode.hedera.com",
	"testnet":    "https://testnet.mirrornode.hedera.com",
	"previewnet": "https://previewnet.mirrornode.hedera.com",
}

const (
	pageSize            = 100
	defaultMaxTries     = 5
	defaultMaxInterval  = 2 * time.Second
	defaultPollInterval = 2 * time.Second
)

var errNotFound = errors.New("mirror node returned 404")

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets how many attempts a request gets and the longest wait
// between attempts.
func WithRetry(maxTries uint, maxInterval time.Duration) Option {
	return func(c *Client) {
		c.maxTries = maxTries
		c.maxInterval = maxInterval
	}
}

// WithPollInterval sets how often follow subscriptions ask for new messages.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client is a read-only hcs.Ledger backed by a mirror node.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	maxTries     uint
	maxInterval  time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewClient creates a client for the mirror node at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxTries:     defaultMaxTries,
		maxInterval:  defaultMaxInterval,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ForNetwork creates a client for a public network's mirror node.
func ForNetwork(network string, opts ...Option) (*Client, error) {
	u, ok := NetworkURLs[network]
	if !ok {
		return nil, fmt.Errorf("no mirror node known for network %q", network)
	}
	return NewClient(u, opts...), nil
}

type topicMessageJSON struct {
	ConsensusTimestamp string `json:"consensus_timestamp"`
	TopicID            string `json:"topic_id"`
	Message            string `json:"message"`
	RunningHash        string `json:"running_hash"`
	SequenceNumber     uint64 `json:"sequence_number"`
}

type messagesPage struct {
	Messages []topicMessageJSON `json:"messages"`
	Links    struct {
		Next string `json:"next"`
	} `json:"links"`
}

type keyJSON struct {
	Type string `json:"_type"`
	Key  string `json:"key"`
}

type topicJSON struct {
	TopicID   string   `json:"topic_id"`
	Memo      string   `json:"memo"`
	AdminKey  *keyJSON `json:"admin_key"`
	SubmitKey *keyJSON `json:"submit_key"`
}

// GetTopicInfo fetches a topic's memo and keys. Mirror nodes do not report
// the sequence number or running hash here.
func (c *Client) GetTopicInfo(ctx context.Context, topicID string) (*hcs.TopicInfo, error) {
	var t topicJSON
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/topics/"+url.PathEscape(topicID), &t); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, fmt.Errorf("%w: %s", hcs.ErrTopicNotFound, topicID)
		}
		return nil, err
	}

	adminKey, err := parseKey(t.AdminKey)
	if err != nil {
		return nil, fmt.Errorf("invalid admin key: %w", err)
	}
	submitKey, err := parseKey(t.SubmitKey)
	if err != nil {
		return nil, fmt.Errorf("invalid submit key: %w", err)
	}
	return &hcs.TopicInfo{
		TopicID:   topicID,
		Memo:      t.Memo,
		AdminKey:  adminKey,
		SubmitKey: submitKey,
	}, nil
}

// Subscribe pages through topic messages in ascending order and, in follow
// mode, polls for new ones.
func (c *Client) Subscribe(ctx context.Context, q hcs.Query, onMessage func(types.TopicMessage) error, onError func(error)) error {
	var last, delivered uint64
	next := c.messagesURL(q, 0)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var page messagesPage
		err := c.getJSON(ctx, next, &page)
		switch {
		case errors.Is(err, errNotFound):
			return fmt.Errorf("%w: %s", hcs.ErrTopicNotFound, q.TopicID)
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil && !q.Follow:
			return err
		case err != nil:
			if onError != nil {
				onError(err)
			}
			page = messagesPage{}
		}

		for _, raw := range page.Messages {
			if raw.SequenceNumber <= last {
				continue
			}
			m, err := decodeMessage(q.TopicID, raw)
			if err != nil {
				c.logger.Warn("skipping undecodable mirror message",
					"topicID", q.TopicID,
					"sequenceNumber", raw.SequenceNumber,
					"error", err)
				continue
			}
			last = m.SequenceNumber
			if err := onMessage(m); err != nil {
				if errors.Is(err, hcs.ErrStop) {
					return nil
				}
				return err
			}
			delivered++
			if q.Limit > 0 && delivered >= q.Limit {
				return nil
			}
		}

		if page.Links.Next != "" {
			next = c.baseURL + page.Links.Next
			continue
		}
		if !q.Follow {
			return nil
		}
		if !q.EndTime.IsZero() && !types.FromTime(time.Now()).Before(q.EndTime) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
		next = c.messagesURL(q, last)
	}
}

// CreateTopic is not supported by a mirror node.
func (c *Client) CreateTopic(context.Context, hcs.TopicOptions, ...keys.PrivateKey) (string, error) {
	return "", fmt.Errorf("%w: cannot create topic", hcs.ErrReadOnly)
}

// UpdateTopic is not supported by a mirror node.
func (c *Client) UpdateTopic(context.Context, string, hcs.TopicOptions, ...keys.PrivateKey) error {
	return fmt.Errorf("%w: cannot update topic", hcs.ErrReadOnly)
}

// Submit is not supported by a mirror node.
func (c *Client) Submit(context.Context, string, []byte, ...keys.PrivateKey) (*hcs.Receipt, error) {
	return nil, fmt.Errorf("%w: cannot submit message", hcs.ErrReadOnly)
}

func (c *Client) messagesURL(q hcs.Query, after uint64) string {
	v := url.Values{}
	v.Set("order", "asc")
	v.Set("limit", strconv.Itoa(pageSize))
	if !q.StartTime.IsZero() {
		v.Add("timestamp", "gte:"+q.StartTime.String())
	}
	if !q.EndTime.IsZero() {
		v.Add("timestamp", "lt:"+q.EndTime.String())
	}
	if after > 0 {
		v.Set("sequencenumber", "gt:"+strconv.FormatUint(after, 10))
	}
	return c.baseURL + "/api/v1/topics/" + url.PathEscape(q.TopicID) + "/messages?" + v.Encode()
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = c.maxInterval
	b.InitialInterval = min(b.InitialInterval, c.maxInterval)

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		return c.get(ctx, u)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("retrying mirror request", "url", u, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode mirror response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mirror request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return data, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(errNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("mirror node returned status %d", resp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("mirror node returned status %d", resp.StatusCode))
	}
}

func decodeMessage(topicID string, raw topicMessageJSON) (types.TopicMessage, error) {
	ts, err := types.ParseTimestamp(raw.ConsensusTimestamp)
	if err != nil {
		return types.TopicMessage{}, err
	}
	contents, err := base64.StdEncoding.DecodeString(raw.Message)
	if err != nil {
		return types.TopicMessage{}, fmt.Errorf("invalid message encoding: %w", err)
	}
	var runningHash []byte
	if raw.RunningHash != "" {
		if runningHash, err = base64.StdEncoding.DecodeString(raw.RunningHash); err != nil {
			return types.TopicMessage{}, fmt.Errorf("invalid running hash encoding: %w", err)
		}
	}
	if raw.TopicID != "" {
		topicID = raw.TopicID
	}
	return types.TopicMessage{
		TopicID:            topicID,
		SequenceNumber:     raw.SequenceNumber,
		ConsensusTimestamp: ts,
		Contents:           contents,
		RunningHash:        runningHash,
	}, nil
}

func parseKey(k *keyJSON) (keys.PublicKey, error) {
	if k == nil || k.Key == "" {
		return nil, nil
	}
	var t keys.KeyType
	switch k.Type {
	case "ED25519":
		t = keys.Ed25519VerificationKey2018
	case "ECDSA_SECP256K1":
		t = keys.EcdsaSecp256k1VerificationKey2019
	default:
		return nil, fmt.Errorf("%w: %s", keys.ErrUnsupportedKeyType, k.Type)
	}
	// mirror nodes return either raw or DER-encoded hex
	if pk, err := keys.ParsePublicKey(k.Key); err == nil {
		return pk, nil
	}
	raw, err := hex.DecodeString(k.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", keys.ErrInvalidKey, err)
	}
	return keys.PublicKeyFromBytes(t, raw)
}

// Ensure Client implements hcs.Ledger.
var _ hcs.Ledger = (*Client)(nil)
