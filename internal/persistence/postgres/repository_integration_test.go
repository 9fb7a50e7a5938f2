//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ArnavS-22/gumborebuild/internal/domain"
)

func setupRepository(t *testing.T, ctx context.Context) *Repository {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("suggestions"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return NewRepository(pool)
}

func testEvent() domain.ActivityEvent {
	now := time.Now().UTC()
	return domain.ActivityEvent{
		ID:         uuid.NewString(),
		Content:    "Editing report.pdf, total on line 45 after calculate_total()",
		Source:     "integration-test",
		ObservedAt: now,
		CreatedAt:  now,
	}
}

func testSuggestion(eventID string) domain.Suggestion {
	candidate := domain.Candidate{
		Lane:  domain.LaneImmediate,
		Title: "Check the total on line 45",
		Body:  "The total on line 45 may be stale.",
	}
	return domain.Suggestion{
		ID:             uuid.NewString(),
		EventID:        eventID,
		Lane:           domain.LaneImmediate,
		Title:          candidate.Title,
		Body:           candidate.Body,
		EvidenceRefs:   []string{"line 45"},
		CoherenceScore: 0.8,
		State:          domain.SuggestionStateAccepted,
		DedupKey:       candidate.DedupKey(),
		CreatedAt:      time.Now().UTC(),
	}
}

func TestEventRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t, ctx)

	event := testEvent()
	require.NoError(t, repo.CreateEvent(ctx, event))

	stored, err := repo.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, event.Content, stored.Content)
	require.Equal(t, event.Source, stored.Source)

	// Same id again maps the unique violation to the sentinel.
	err = repo.CreateEvent(ctx, event)
	require.ErrorIs(t, err, domain.ErrEventExists)

	_, err = repo.GetEvent(ctx, uuid.NewString())
	require.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestSuggestionRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t, ctx)

	event := testEvent()
	require.NoError(t, repo.CreateEvent(ctx, event))

	suggestion := testSuggestion(event.ID)
	result, err := repo.SaveAccepted(ctx, suggestion, time.Hour)
	require.NoError(t, err)
	require.Equal(t, domain.StoreResultStored, result)

	stored, err := repo.Get(ctx, suggestion.ID)
	require.NoError(t, err)
	require.Equal(t, suggestion.Title, stored.Title)
	require.Equal(t, domain.SuggestionStateAccepted, stored.State)
	require.Equal(t, suggestion.EvidenceRefs, stored.EvidenceRefs)
}

func TestDedupWindowCollapsesConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t, ctx)

	event := testEvent()
	require.NoError(t, repo.CreateEvent(ctx, event))

	base := testSuggestion(event.ID)

	const writers = 8
	results := make([]domain.StoreResult, writers)
	errs := make([]error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := base
			s.ID = uuid.NewString()
			results[i], errs[i] = repo.SaveAccepted(ctx, s, time.Hour)
		}(i)
	}
	wg.Wait()

	stored := 0
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		if results[i] == domain.StoreResultStored {
			stored++
		}
	}
	require.Equal(t, 1, stored, "exactly one writer should win the dedup claim")
}

func TestDedupWindowExpires(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t, ctx)

	event := testEvent()
	require.NoError(t, repo.CreateEvent(ctx, event))

	first := testSuggestion(event.ID)
	result, err := repo.SaveAccepted(ctx, first, 500*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, domain.StoreResultStored, result)

	duplicate := first
	duplicate.ID = uuid.NewString()
	result, err = repo.SaveAccepted(ctx, duplicate, 500*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, domain.StoreResultDuplicate, result)

	time.Sleep(time.Second)

	reborn := first
	reborn.ID = uuid.NewString()
	result, err = repo.SaveAccepted(ctx, reborn, 500*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, domain.StoreResultStored, result)
}

func TestAcceptedAfterPaginatesStably(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t, ctx)

	event := testEvent()
	require.NoError(t, repo.CreateEvent(ctx, event))

	ids := make(map[string]bool)
	for i := 0; i < 5; i++ {
		s := testSuggestion(event.ID)
		s.Title = uuid.NewString()
		s.Body = uuid.NewString()
		s.DedupKey = domain.Candidate{Lane: s.Lane, Title: s.Title, Body: s.Body}.DedupKey()
		_, err := repo.SaveAccepted(ctx, s, time.Hour)
		require.NoError(t, err)
		ids[s.ID] = true
	}

	var after time.Time
	var afterID string
	seen := make(map[string]bool)
	for {
		batch, err := repo.AcceptedAfter(ctx, after, afterID, 2)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		for _, s := range batch {
			require.False(t, seen[s.ID], "suggestion delivered twice")
			seen[s.ID] = true
		}
		last := batch[len(batch)-1]
		after, afterID = last.CreatedAt, last.ID
	}

	require.Equal(t, len(ids), len(seen))
}

func TestMarkDeliveredIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t, ctx)

	event := testEvent()
	require.NoError(t, repo.CreateEvent(ctx, event))

	s := testSuggestion(event.ID)
	_, err := repo.SaveAccepted(ctx, s, time.Hour)
	require.NoError(t, err)

	require.NoError(t, repo.MarkDelivered(ctx, s.ID, "client-1"))
	require.NoError(t, repo.MarkDelivered(ctx, s.ID, "client-1"))
	require.NoError(t, repo.MarkDelivered(ctx, s.ID, "client-2"))
}

func TestResetStoreClearsEverything(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t, ctx)

	event := testEvent()
	require.NoError(t, repo.CreateEvent(ctx, event))
	s := testSuggestion(event.ID)
	_, err := repo.SaveAccepted(ctx, s, time.Hour)
	require.NoError(t, err)
	require.NoError(t, repo.MarkDelivered(ctx, s.ID, "client-1"))

	counts, err := repo.ResetStore(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts.Events)
	require.Equal(t, int64(1), counts.Suggestions)
	require.Equal(t, int64(1), counts.Deliveries)

	_, err = repo.GetEvent(ctx, event.ID)
	require.ErrorIs(t, err, domain.ErrEventNotFound)

	head, err := repo.Head(ctx)
	require.NoError(t, err)
	require.Nil(t, head)
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../migrations/001_init.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
