// Package postgres provides pgx-backed persistence for events, suggestions,
// dedup claims, deliveries, and the outbox.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ArnavS-22/gumborebuild/internal/domain"
	"github.com/ArnavS-22/gumborebuild/internal/events"
	"github.com/ArnavS-22/gumborebuild/internal/observability"
)

// Repository implements domain.EventRepository and domain.SuggestionRepository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateEvent persists the activity event and records an outbox event inside
// a single transaction. Nothing downstream of the insert (generation,
// validation) runs inside the transaction.
func (r *Repository) CreateEvent(ctx context.Context, event domain.ActivityEvent) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const stmt = `INSERT INTO activity_events (event_id, content, source, observed_at, created_at)
        VALUES ($1,$2,$3,$4,$5)`
	if _, err = tx.Exec(ctx, stmt, event.ID, event.Content, event.Source, event.ObservedAt, event.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			err = domain.ErrEventExists
		}
		return err
	}

	if err = insertOutbox(ctx, tx, "activity.received", event.ID, event.ID, events.ActivityReceived{
		EventID:    event.ID,
		Source:     event.Source,
		ObservedAt: event.ObservedAt,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetEvent retrieves an activity event by id.
func (r *Repository) GetEvent(ctx context.Context, id string) (*domain.ActivityEvent, error) {
	const query = `SELECT event_id, content, source, observed_at, created_at
        FROM activity_events WHERE event_id=$1`

	row := r.pool.QueryRow(ctx, query, id)
	var ev domain.ActivityEvent
	if err := row.Scan(&ev.ID, &ev.Content, &ev.Source, &ev.ObservedAt, &ev.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, err
	}
	return &ev, nil
}

// SaveAccepted persists an accepted suggestion. The dedup claim is a
// compare-and-set on the suggestion_dedup table: the insert only wins when
// the key is new or its previous claim has expired, so concurrent writers
// racing on the same key produce exactly one stored row per window.
func (r *Repository) SaveAccepted(ctx context.Context, s domain.Suggestion, dedupWindow time.Duration) (domain.StoreResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const claim = `INSERT INTO suggestion_dedup (dedup_key, suggestion_id, expires_at)
        VALUES ($1,$2,$3)
        ON CONFLICT (dedup_key) DO UPDATE
            SET suggestion_id = EXCLUDED.suggestion_id, expires_at = EXCLUDED.expires_at
            WHERE suggestion_dedup.expires_at <= NOW()
        RETURNING suggestion_id`

	var claimed string
	expiry := s.CreatedAt.Add(dedupWindow)
	if scanErr := tx.QueryRow(ctx, claim, s.DedupKey, s.ID, expiry).Scan(&claimed); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			// Key already claimed inside the window.
			tx.Rollback(ctx)
			return domain.StoreResultDuplicate, nil
		}
		err = scanErr
		return "", err
	}

	refs, err := json.Marshal(s.EvidenceRefs)
	if err != nil {
		return "", err
	}

	const insert = `INSERT INTO suggestions
        (suggestion_id, event_id, lane, title, body, evidence_refs, coherence_score, state, rejection_reason, dedup_key, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULL,$9,$10)`
	if _, err = tx.Exec(ctx, insert,
		s.ID, s.EventID, s.Lane, s.Title, s.Body, refs, s.CoherenceScore,
		domain.SuggestionStateAccepted, s.DedupKey, s.CreatedAt,
	); err != nil {
		return "", err
	}

	if err = insertOutbox(ctx, tx, "suggestion.accepted", s.ID, s.ID, events.SuggestionAccepted{
		SuggestionID:   s.ID,
		EventID:        s.EventID,
		Lane:           string(s.Lane),
		Title:          s.Title,
		CoherenceScore: s.CoherenceScore,
		CreatedAt:      s.CreatedAt,
	}); err != nil {
		return "", err
	}

	if err = tx.Commit(ctx); err != nil {
		return "", err
	}
	observability.RecordSuggestionPersisted(s.CreatedAt)
	return domain.StoreResultStored, nil
}

// SaveRejected records a rejected candidate with its reason, kept for
// validator tuning. Rejected rows never claim a dedup key.
func (r *Repository) SaveRejected(ctx context.Context, s domain.Suggestion) error {
	refs, err := json.Marshal(s.EvidenceRefs)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO suggestions
        (suggestion_id, event_id, lane, title, body, evidence_refs, coherence_score, state, rejection_reason, dedup_key, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = r.pool.Exec(ctx, stmt,
		s.ID, s.EventID, s.Lane, s.Title, s.Body, refs, s.CoherenceScore,
		domain.SuggestionStateRejected, string(s.RejectionReason), s.DedupKey, s.CreatedAt,
	)
	return err
}

const suggestionColumns = `suggestion_id, event_id, lane, title, body, evidence_refs, coherence_score, state, rejection_reason, dedup_key, created_at`

// Get retrieves a suggestion by id.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Suggestion, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE suggestion_id=$1`, id)
	s, err := scanSuggestion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSuggestionNotFound
		}
		return nil, err
	}
	return s, nil
}

// Query returns suggestions newest first with stable pagination (ties broken
// by id ascending).
func (r *Repository) Query(ctx context.Context, filter domain.QueryFilter, limit, offset int) ([]domain.Suggestion, error) {
	query := `SELECT ` + suggestionColumns + ` FROM suggestions WHERE 1=1`
	args := []interface{}{}

	state := filter.State
	if state == "" {
		state = domain.SuggestionStateAccepted
	}
	args = append(args, state)
	query += fmt.Sprintf(` AND state=$%d`, len(args))

	if filter.Lane != "" {
		args = append(args, filter.Lane)
		query += fmt.Sprintf(` AND lane=$%d`, len(args))
	}
	if filter.MinScore > 0 {
		args = append(args, filter.MinScore)
		query += fmt.Sprintf(` AND coherence_score >= $%d`, len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}

	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, suggestion_id ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSuggestions(rows, limit)
}

// Head returns the position of the newest accepted suggestion, or nil when
// the store holds none.
func (r *Repository) Head(ctx context.Context) (*domain.Head, error) {
	const query = `SELECT suggestion_id, created_at FROM suggestions
        WHERE state=$1 ORDER BY created_at DESC, suggestion_id ASC LIMIT 1`

	var head domain.Head
	err := r.pool.QueryRow(ctx, query, domain.SuggestionStateAccepted).Scan(&head.ID, &head.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &head, nil
}

// AcceptedAfter lists accepted suggestions strictly after the (timestamp,
// id) position, oldest first, for the poll path.
func (r *Repository) AcceptedAfter(ctx context.Context, after time.Time, afterID string, limit int) ([]domain.Suggestion, error) {
	query := `SELECT ` + suggestionColumns + ` FROM suggestions WHERE state=$1`
	args := []interface{}{domain.SuggestionStateAccepted}

	if afterID != "" {
		args = append(args, after, afterID)
		query += fmt.Sprintf(` AND (created_at, suggestion_id) > ($%d, $%d::uuid)`, len(args)-1, len(args))
	} else if !after.IsZero() {
		args = append(args, after)
		query += fmt.Sprintf(` AND created_at > $%d`, len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at ASC, suggestion_id ASC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSuggestions(rows, limit)
}

// MarkDelivered records the per-client delivery. Idempotent: repeating the
// call is a no-op, enforced by the table's primary key.
func (r *Repository) MarkDelivered(ctx context.Context, suggestionID, clientID string) error {
	const stmt = `INSERT INTO suggestion_deliveries (suggestion_id, client_id, delivered_at)
        VALUES ($1,$2,NOW()) ON CONFLICT (suggestion_id, client_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, stmt, suggestionID, clientID)
	return err
}

// ClearSuggestions removes every suggestion (and, via cascade, deliveries)
// plus all dedup claims. Returns the number of suggestions deleted.
func (r *Repository) ClearSuggestions(ctx context.Context) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `DELETE FROM suggestions`)
	if err != nil {
		return 0, err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM suggestion_dedup`); err != nil {
		return 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ResetStore wipes everything, returning per-table counts.
func (r *Repository) ResetStore(ctx context.Context) (domain.ResetCounts, error) {
	var counts domain.ResetCounts

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return counts, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `DELETE FROM suggestion_deliveries`)
	if err != nil {
		return counts, err
	}
	counts.Deliveries = tag.RowsAffected()

	if tag, err = tx.Exec(ctx, `DELETE FROM suggestions`); err != nil {
		return counts, err
	}
	counts.Suggestions = tag.RowsAffected()

	if _, err = tx.Exec(ctx, `DELETE FROM suggestion_dedup`); err != nil {
		return counts, err
	}

	if tag, err = tx.Exec(ctx, `DELETE FROM outbox`); err != nil {
		return counts, err
	}
	counts.Outbox = tag.RowsAffected()

	if tag, err = tx.Exec(ctx, `DELETE FROM activity_events`); err != nil {
		return counts, err
	}
	counts.Events = tag.RowsAffected()

	err = tx.Commit(ctx)
	return counts, err
}

func insertOutbox(ctx context.Context, tx pgx.Tx, eventType, aggregateID, partitionSeed string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s", aggregateID, eventType)

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err = tx.Exec(ctx, stmt,
		meta.AggregateType,
		aggregateID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		partitionSeed,
		body,
		dedupeKey,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSuggestion(row rowScanner) (*domain.Suggestion, error) {
	var (
		s      domain.Suggestion
		refs   []byte
		reason *string
	)
	if err := row.Scan(&s.ID, &s.EventID, &s.Lane, &s.Title, &s.Body, &refs, &s.CoherenceScore, &s.State, &reason, &s.DedupKey, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(refs, &s.EvidenceRefs); err != nil {
		return nil, err
	}
	if reason != nil {
		s.RejectionReason = domain.RejectionReason(*reason)
	}
	return &s, nil
}

func collectSuggestions(rows pgx.Rows, capacity int) ([]domain.Suggestion, error) {
	out := make([]domain.Suggestion, 0, capacity)
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	AggregateType string
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"activity.received": {
		AggregateType: "activity_event",
		Topic:         "activity_events",
		SchemaSubject: "activity_events-value",
	},
	"suggestion.accepted": {
		AggregateType: "suggestion",
		Topic:         "suggestion_events",
		SchemaSubject: "suggestion_events-value",
	},
}
