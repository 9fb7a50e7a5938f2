package delivery

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ArnavS-22/gumborebuild/internal/domain"
)

// memRepo is an in-memory SuggestionRepository good enough for poll tests.
type memRepo struct {
	suggestions []domain.Suggestion
	delivered   map[string]int
}

func newMemRepo() *memRepo {
	return &memRepo{delivered: make(map[string]int)}
}

func (m *memRepo) add(createdAt time.Time) domain.Suggestion {
	s := domain.Suggestion{
		ID:             uuid.NewString(),
		EventID:        uuid.NewString(),
		Lane:           domain.LaneImmediate,
		Title:          "t",
		Body:           "b",
		EvidenceRefs:   []string{"x"},
		CoherenceScore: 0.9,
		State:          domain.SuggestionStateAccepted,
		CreatedAt:      createdAt,
	}
	m.suggestions = append(m.suggestions, s)
	return s
}

func (m *memRepo) SaveAccepted(context.Context, domain.Suggestion, time.Duration) (domain.StoreResult, error) {
	return domain.StoreResultStored, nil
}
func (m *memRepo) SaveRejected(context.Context, domain.Suggestion) error { return nil }
func (m *memRepo) Get(context.Context, string) (*domain.Suggestion, error) {
	return nil, domain.ErrSuggestionNotFound
}
func (m *memRepo) Query(context.Context, domain.QueryFilter, int, int) ([]domain.Suggestion, error) {
	return nil, nil
}

func (m *memRepo) Head(context.Context) (*domain.Head, error) {
	if len(m.suggestions) == 0 {
		return nil, nil
	}
	newest := m.suggestions[0]
	for _, s := range m.suggestions[1:] {
		if s.CreatedAt.After(newest.CreatedAt) {
			newest = s
		}
	}
	return &domain.Head{CreatedAt: newest.CreatedAt, ID: newest.ID}, nil
}

func (m *memRepo) AcceptedAfter(_ context.Context, after time.Time, afterID string, limit int) ([]domain.Suggestion, error) {
	var out []domain.Suggestion
	for _, s := range m.suggestions {
		if s.CreatedAt.After(after) || (s.CreatedAt.Equal(after) && afterID != "" && s.ID > afterID) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) MarkDelivered(_ context.Context, suggestionID, clientID string) error {
	m.delivered[suggestionID+"|"+clientID]++
	return nil
}
func (m *memRepo) ClearSuggestions(context.Context) (int64, error) { return 0, nil }
func (m *memRepo) ResetStore(context.Context) (domain.ResetCounts, error) {
	return domain.ResetCounts{}, nil
}

func TestPollEmptyStoreIsNotModified(t *testing.T) {
	svc := NewService(newMemRepo(), 0)
	res, err := svc.Poll(context.Background(), "client-1", "", nil)
	require.NoError(t, err)
	require.True(t, res.NotModified)
}

func TestPollDeliversThenConverges(t *testing.T) {
	repo := newMemRepo()
	base := time.Date(2026, time.May, 4, 10, 0, 0, 0, time.UTC)
	first := repo.add(base)
	svc := NewService(repo, 0)

	res, err := svc.Poll(context.Background(), "client-1", "", nil)
	require.NoError(t, err)
	require.False(t, res.NotModified)
	require.Len(t, res.Suggestions, 1)
	require.Equal(t, first.ID, res.Suggestions[0].ID)
	require.NotEmpty(t, res.Cursor)

	// Same cursor again: the cheap path.
	again, err := svc.Poll(context.Background(), "client-1", res.Cursor, nil)
	require.NoError(t, err)
	require.True(t, again.NotModified)

	// A new accepted suggestion invalidates the cursor.
	second := repo.add(base.Add(time.Minute))
	res2, err := svc.Poll(context.Background(), "client-1", res.Cursor, nil)
	require.NoError(t, err)
	require.False(t, res2.NotModified)
	require.Len(t, res2.Suggestions, 1)
	require.Equal(t, second.ID, res2.Suggestions[0].ID)
}

func TestPollMarksDeliveredPerClient(t *testing.T) {
	repo := newMemRepo()
	s := repo.add(time.Date(2026, time.May, 4, 10, 0, 0, 0, time.UTC))
	svc := NewService(repo, 0)

	_, err := svc.Poll(context.Background(), "client-a", "", nil)
	require.NoError(t, err)
	_, err = svc.Poll(context.Background(), "client-b", "", nil)
	require.NoError(t, err)

	require.Equal(t, 1, repo.delivered[s.ID+"|client-a"])
	require.Equal(t, 1, repo.delivered[s.ID+"|client-b"])
}

func TestPollHonoursIfModifiedSince(t *testing.T) {
	repo := newMemRepo()
	created := time.Date(2026, time.May, 4, 10, 0, 0, 0, time.UTC)
	repo.add(created)
	svc := NewService(repo, 0)

	ims := created.Add(time.Minute)
	res, err := svc.Poll(context.Background(), "client-1", "", &ims)
	require.NoError(t, err)
	require.True(t, res.NotModified)

	earlier := created.Add(-time.Minute)
	res2, err := svc.Poll(context.Background(), "client-1", "", &earlier)
	require.NoError(t, err)
	require.False(t, res2.NotModified)
	require.Len(t, res2.Suggestions, 1)
}

func TestPollRespectsBatchLimit(t *testing.T) {
	repo := newMemRepo()
	base := time.Date(2026, time.May, 4, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		repo.add(base.Add(time.Duration(i) * time.Second))
	}
	svc := NewService(repo, 2)

	res, err := svc.Poll(context.Background(), "client-1", "", nil)
	require.NoError(t, err)
	require.Len(t, res.Suggestions, 2)

	res2, err := svc.Poll(context.Background(), "client-1", res.Cursor, nil)
	require.NoError(t, err)
	require.Len(t, res2.Suggestions, 2)

	res3, err := svc.Poll(context.Background(), "client-1", res2.Cursor, nil)
	require.NoError(t, err)
	require.Len(t, res3.Suggestions, 1)

	res4, err := svc.Poll(context.Background(), "client-1", res3.Cursor, nil)
	require.NoError(t, err)
	require.True(t, res4.NotModified)
}

func TestPollRejectsGarbageCursor(t *testing.T) {
	svc := NewService(newMemRepo(), 0)
	_, err := svc.Poll(context.Background(), "client-1", "%%%", nil)
	require.ErrorIs(t, err, ErrBadCursor)
}
