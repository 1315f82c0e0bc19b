package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/rfc6962"
	_ "modernc.org/sqlite"

	"github.com/relves/hcsdid/pkg/hcs"
	"github.com/relves/hcsdid/pkg/keys"
	"github.com/relves/hcsdid/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

const (
	topicIDPrefix = "0.0."
	// FirstTopicNum is the number given to the first topic of a new ledger.
	FirstTopicNum = 1001

	pageSize            = 100
	defaultPollInterval = 250 * time.Millisecond
)

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the source of consensus time.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithPollInterval sets how often follow subscriptions look for new messages.
func WithPollInterval(d time.Duration) Option {
	return func(l *Ledger) { l.pollInterval = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// Ledger is a single-node consensus ledger stored in SQLite. Sequence
// numbers are gap-free per topic, consensus timestamps strictly increase
// per topic, and each message carries the RFC 6962 root over the topic's
// messages so far as its running hash.
type Ledger struct {
	db      *sql.DB
	network string
	dbPath  string

	now          func() time.Time
	pollInterval time.Duration
	logger       *slog.Logger
	rf           *compact.RangeFactory

	// serialises writers; every write is read-modify-write
	writeMu sync.Mutex
}

// OpenLedger opens or creates the ledger for network under basePath.
func OpenLedger(basePath, network string, opts ...Option) (*Ledger, error) {
	dir := filepath.Join(basePath, "ledgers", network)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	dbPath := filepath.Join(dir, "ledger.db")
	db, err := sql.Open("sqlite", dbPath+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=foreign_keys(ON)"+
		"&_pragma=busy_timeout(5000)"+
		"&_pragma=synchronous(NORMAL)"+
		"&_pragma=wal_autocheckpoint(1000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connection pool - SQLite handles concurrent writes poorly
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	l := &Ledger{
		db:           db,
		network:      network,
		dbPath:       dbPath,
		now:          time.Now,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
		rf:           &compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Network() string {
	return l.network
}

func (l *Ledger) DBPath() string {
	return l.dbPath
}

// CreateTopic creates a topic. When an admin key is set it must sign.
func (l *Ledger) CreateTopic(ctx context.Context, opts hcs.TopicOptions, signers ...keys.PrivateKey) (string, error) {
	if !signedBy(opts.AdminKey, signers) {
		return "", fmt.Errorf("%w: admin key must sign topic creation", hcs.ErrUnauthorized)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var num int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(num), ?) + 1 FROM topics`,
		FirstTopicNum-1).Scan(&num); err != nil {
		return "", fmt.Errorf("allocate topic number: %w", err)
	}

	now := l.now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO topics (num, memo, submit_key, admin_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		num, opts.Memo, encodeKey(opts.SubmitKey), encodeKey(opts.AdminKey), now, now); err != nil {
		return "", fmt.Errorf("insert topic: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	topicID := formatTopicID(num)
	l.logger.Debug("created topic", "network", l.network, "topicID", topicID)
	return topicID, nil
}

// UpdateTopic changes the non-zero fields of opts. The current admin key
// must sign, and so must a new admin key.
func (l *Ledger) UpdateTopic(ctx context.Context, topicID string, opts hcs.TopicOptions, signers ...keys.PrivateKey) error {
	num, err := parseTopicID(topicID)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	rec, err := l.getTopic(ctx, num)
	if err != nil {
		return err
	}
	if rec.adminKey == nil {
		return fmt.Errorf("%w: topic %s has no admin key", hcs.ErrUnauthorized, topicID)
	}
	if !signedBy(rec.adminKey, signers) || !signedBy(opts.AdminKey, signers) {
		return fmt.Errorf("%w: admin keys must sign topic update", hcs.ErrUnauthorized)
	}

	memo, submitKey, adminKey := rec.memo, rec.submitKey, rec.adminKey
	if opts.Memo != "" {
		memo = opts.Memo
	}
	if opts.SubmitKey != nil {
		submitKey = opts.SubmitKey
	}
	if opts.AdminKey != nil {
		adminKey = opts.AdminKey
	}

	_, err = l.db.ExecContext(ctx,
		`UPDATE topics SET memo = ?, submit_key = ?, admin_key = ?, updated_at = ? WHERE num = ?`,
		memo, encodeKey(submitKey), encodeKey(adminKey), l.now().UTC().Format(time.RFC3339Nano), num)
	return err
}

// GetTopicInfo returns a topic's memo, keys and running hash.
func (l *Ledger) GetTopicInfo(ctx context.Context, topicID string) (*hcs.TopicInfo, error) {
	num, err := parseTopicID(topicID)
	if err != nil {
		return nil, err
	}
	rec, err := l.getTopic(ctx, num)
	if err != nil {
		return nil, err
	}
	size, root, err := l.treeState(ctx, num)
	if err != nil {
		return nil, err
	}
	return &hcs.TopicInfo{
		TopicID:        topicID,
		Memo:           rec.memo,
		SequenceNumber: size,
		RunningHash:    root,
		SubmitKey:      rec.submitKey,
		AdminKey:       rec.adminKey,
	}, nil
}

// Submit appends contents to a topic. When the topic has a submit key it
// must sign.
func (l *Ledger) Submit(ctx context.Context, topicID string, contents []byte, signers ...keys.PrivateKey) (*hcs.Receipt, error) {
	num, err := parseTopicID(topicID)
	if err != nil {
		return nil, err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	rec, err := l.getTopic(ctx, num)
	if err != nil {
		return nil, err
	}
	if !signedBy(rec.submitKey, signers) {
		return nil, fmt.Errorf("%w: submit key must sign messages to %s", hcs.ErrUnauthorized, topicID)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		size   uint64
		root   []byte
		packed []byte
	)
	err = tx.QueryRowContext(ctx,
		`SELECT size, root, hashes FROM tree_state WHERE topic_num = ?`,
		num).Scan(&size, &root, &packed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read tree state: %w", err)
	}

	rng, err := l.restoreRange(size, packed)
	if err != nil {
		return nil, err
	}
	if err := rng.Append(rfc6962.DefaultHasher.HashLeaf(contents), nil); err != nil {
		return nil, fmt.Errorf("append leaf: %w", err)
	}
	root, err = rng.GetRootHash(nil)
	if err != nil {
		return nil, fmt.Errorf("compute root: %w", err)
	}

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(consensus_ns) FROM messages WHERE topic_num = ?`,
		num).Scan(&last); err != nil {
		return nil, fmt.Errorf("read last consensus time: %w", err)
	}
	ns := l.now().UnixNano()
	if last.Valid && ns <= last.Int64 {
		ns = last.Int64 + 1
	}

	seq := size + 1
	if contents == nil {
		contents = []byte{}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (topic_num, sequence_number, consensus_ns, contents, running_hash)
		 VALUES (?, ?, ?, ?, ?)`,
		num, seq, ns, contents, root); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tree_state (topic_num, size, root, hashes) VALUES (?, ?, ?, ?)
		 ON CONFLICT(topic_num) DO UPDATE SET size = excluded.size, root = excluded.root, hashes = excluded.hashes`,
		num, seq, root, packHashes(rng.Hashes())); err != nil {
		return nil, fmt.Errorf("update tree state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &hcs.Receipt{
		TopicID:            topicID,
		SequenceNumber:     seq,
		ConsensusTimestamp: fromNanos(ns),
		RunningHash:        root,
	}, nil
}

// Subscribe delivers messages in sequence order, polling for new ones in
// follow mode.
func (l *Ledger) Subscribe(ctx context.Context, q hcs.Query, onMessage func(types.TopicMessage) error, onError func(error)) error {
	num, err := parseTopicID(q.TopicID)
	if err != nil {
		return err
	}
	if _, err := l.getTopic(ctx, num); err != nil {
		return err
	}

	var after, delivered uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := l.readMessages(ctx, num, q, after)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !q.Follow {
				return err
			}
			l.logger.Warn("failed to read topic messages", "topicID", q.TopicID, "error", err)
			if onError != nil {
				onError(err)
			}
			batch = nil
		}

		for _, m := range batch {
			after = m.SequenceNumber
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

		if len(batch) == pageSize {
			continue
		}
		if !q.Follow {
			return nil
		}
		if !q.EndTime.IsZero() && !types.FromTime(l.now()).Before(q.EndTime) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

func (l *Ledger) readMessages(ctx context.Context, num int64, q hcs.Query, after uint64) ([]types.TopicMessage, error) {
	query := `SELECT sequence_number, consensus_ns, contents, running_hash
		 FROM messages WHERE topic_num = ? AND sequence_number > ?`
	args := []any{num, after}
	if !q.StartTime.IsZero() {
		query += ` AND consensus_ns >= ?`
		args = append(args, toNanos(q.StartTime))
	}
	if !q.EndTime.IsZero() {
		query += ` AND consensus_ns < ?`
		args = append(args, toNanos(q.EndTime))
	}
	query += ` ORDER BY sequence_number LIMIT ?`
	args = append(args, pageSize)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.TopicMessage
	for rows.Next() {
		var (
			m  types.TopicMessage
			ns int64
		)
		if err := rows.Scan(&m.SequenceNumber, &ns, &m.Contents, &m.RunningHash); err != nil {
			return nil, err
		}
		m.TopicID = q.TopicID
		m.ConsensusTimestamp = fromNanos(ns)
		out = append(out, m)
	}
	return out, rows.Err()
}

type topicRecord struct {
	memo      string
	submitKey keys.PublicKey
	adminKey  keys.PublicKey
}

func (l *Ledger) getTopic(ctx context.Context, num int64) (*topicRecord, error) {
	var memo, submitDER, adminDER string
	err := l.db.QueryRowContext(ctx,
		`SELECT memo, submit_key, admin_key FROM topics WHERE num = ?`,
		num).Scan(&memo, &submitDER, &adminDER)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", hcs.ErrTopicNotFound, formatTopicID(num))
	}
	if err != nil {
		return nil, err
	}

	rec := &topicRecord{memo: memo}
	if rec.submitKey, err = decodeKey(submitDER); err != nil {
		return nil, fmt.Errorf("decode submit key: %w", err)
	}
	if rec.adminKey, err = decodeKey(adminDER); err != nil {
		return nil, fmt.Errorf("decode admin key: %w", err)
	}
	return rec, nil
}

func (l *Ledger) treeState(ctx context.Context, num int64) (size uint64, root []byte, err error) {
	err = l.db.QueryRowContext(ctx,
		`SELECT size, root FROM tree_state WHERE topic_num = ?`,
		num).Scan(&size, &root)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	return size, root, nil
}

func (l *Ledger) restoreRange(size uint64, packed []byte) (*compact.Range, error) {
	if size == 0 {
		return l.rf.NewEmptyRange(0), nil
	}
	if len(packed)%rfc6962.DefaultHasher.Size() != 0 {
		return nil, fmt.Errorf("corrupt tree state: %d bytes of hashes", len(packed))
	}
	n := rfc6962.DefaultHasher.Size()
	hashes := make([][]byte, 0, len(packed)/n)
	for i := 0; i < len(packed); i += n {
		hashes = append(hashes, packed[i:i+n])
	}
	return l.rf.NewRange(0, size, hashes)
}

func packHashes(hashes [][]byte) []byte {
	var out []byte
	for _, h := range hashes {
		out = append(out, h...)
	}
	return out
}

func parseTopicID(topicID string) (int64, error) {
	rest, ok := strings.CutPrefix(topicID, topicIDPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q", hcs.ErrInvalidTopicID, topicID)
	}
	num, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || num <= 0 {
		return 0, fmt.Errorf("%w: %q", hcs.ErrInvalidTopicID, topicID)
	}
	return num, nil
}

func formatTopicID(num int64) string {
	return topicIDPrefix + strconv.FormatInt(num, 10)
}

func encodeKey(k keys.PublicKey) string {
	if k == nil {
		return ""
	}
	return k.DER()
}

func decodeKey(der string) (keys.PublicKey, error) {
	if der == "" {
		return nil, nil
	}
	return keys.ParsePublicKey(der)
}

// signedBy reports whether one of signers holds key. A nil key needs no
// signature.
func signedBy(key keys.PublicKey, signers []keys.PrivateKey) bool {
	if key == nil {
		return true
	}
	for _, s := range signers {
		if s != nil && keys.Equal(key, s.Public()) {
			return true
		}
	}
	return false
}

func fromNanos(ns int64) types.Timestamp {
	return types.Timestamp{Seconds: ns / int64(time.Second), Nanos: int32(ns % int64(time.Second))}
}

func toNanos(t types.Timestamp) int64 {
	return t.Seconds*int64(time.Second) + int64(t.Nanos)
}
