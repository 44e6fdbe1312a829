package optimistic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/console/internal/domain/catalog"
	"github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockMutator is a mock implementation of Mutator
type MockMutator struct {
	mock.Mock
}

func (m *MockMutator) Mutate(ctx context.Context, collection, id string, patch map[string]any) (listing.Record, error) {
	args := m.Called(ctx, collection, id, patch)
	return args.Get(0).(listing.Record), args.Error(1)
}

type fakeCells struct {
	mu    sync.Mutex
	cfg   catalog.EntityConfig
	cells map[string]map[string]any
}

func newFakeCells() *fakeCells {
	return &fakeCells{
		cfg: catalog.Products(),
		cells: map[string]map[string]any{
			"p1": {"name": "A", "sku": "SKU-1"},
		},
	}
}

func (f *fakeCells) Config() catalog.EntityConfig { return f.cfg }

func (f *fakeCells) Cell(id, field string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.cells[id]
	if !ok {
		return nil, false
	}
	return row[field], true
}

func (f *fakeCells) SetCell(id, field string, value any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.cells[id]
	if !ok {
		return false
	}
	row[field] = value
	return true
}

type recordedNotes struct {
	mu   sync.Mutex
	list []shared.Notification
}

func (r *recordedNotes) Notify(_ context.Context, n shared.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, n)
}

func (r *recordedNotes) bySeverity(s shared.Severity) []shared.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.Notification
	for _, n := range r.list {
		if n.Severity == s {
			out = append(out, n)
		}
	}
	return out
}

func patch(field string, value any) map[string]any {
	return map[string]any{field: value}
}

func TestCoordinator_Edit_Success(t *testing.T) {
	cells := newFakeCells()
	remote := new(MockMutator)
	notes := &recordedNotes{}
	remote.On("Mutate", mock.Anything, "products", "p1", patch("name", "B")).
		Return(listing.Record{ID: "p1"}, nil).Once()

	c := NewCoordinator(cells, remote, WithNotifier(notes), WithSuccessNotices(true))
	require.NoError(t, c.Edit(context.Background(), "p1", "name", "B"))

	v, _ := cells.Cell("p1", "name")
	assert.Equal(t, "B", v)
	_, pending := c.Pending("p1", "name")
	assert.False(t, pending)
	assert.Len(t, notes.bySeverity(shared.SeveritySuccess), 1)
	remote.AssertExpectations(t)
}

func TestCoordinator_Edit_RollbackOnFailure(t *testing.T) {
	cells := newFakeCells()
	remote := new(MockMutator)
	notes := &recordedNotes{}
	failure := shared.NewRemoteError("mutate", "23514", "violates check constraint")
	remote.On("Mutate", mock.Anything, "products", "p1", patch("name", "B")).
		Return(listing.Record{}, failure).Once()

	c := NewCoordinator(cells, remote, WithNotifier(notes))
	err := c.Edit(context.Background(), "p1", "name", "B")
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure))

	v, _ := cells.Cell("p1", "name")
	assert.Equal(t, "A", v)
	errs := notes.bySeverity(shared.SeverityError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "name")
}

func TestCoordinator_Edit_Supersession(t *testing.T) {
	cells := newFakeCells()
	remote := new(MockMutator)
	notes := &recordedNotes{}

	releaseB := make(chan struct{})
	startedB := make(chan struct{})
	remote.On("Mutate", mock.Anything, "products", "p1", patch("name", "B")).
		Run(func(mock.Arguments) {
			close(startedB)
			<-releaseB
		}).
		Return(listing.Record{}, shared.NewRemoteError("mutate", shared.RemoteCodeNetwork, "timeout")).Once()
	remote.On("Mutate", mock.Anything, "products", "p1", patch("name", "C")).
		Return(listing.Record{ID: "p1"}, nil).Once()

	c := NewCoordinator(cells, remote, WithNotifier(notes))
	ctx := context.Background()

	doneB := make(chan error, 1)
	go func() { doneB <- c.Edit(ctx, "p1", "name", "B") }()
	select {
	case <-startedB:
	case <-time.After(2 * time.Second):
		t.Fatal("edit B never reached the backend")
	}

	pending, ok := c.Pending("p1", "name")
	require.True(t, ok)
	assert.Equal(t, uint64(1), pending.Seq)
	assert.Equal(t, "A", pending.PreviousValue)

	require.NoError(t, c.Edit(ctx, "p1", "name", "C"))
	close(releaseB)
	require.NoError(t, <-doneB, "failure of a superseded edit is dropped")

	v, _ := cells.Cell("p1", "name")
	assert.Equal(t, "C", v)
	assert.Empty(t, notes.bySeverity(shared.SeverityError))
	remote.AssertExpectations(t)
}

func TestCoordinator_Edit_LatestFailsAfterEarlierSucceeded(t *testing.T) {
	cells := newFakeCells()
	remote := new(MockMutator)
	remote.On("Mutate", mock.Anything, "products", "p1", patch("name", "B")).
		Return(listing.Record{ID: "p1"}, nil).Once()
	remote.On("Mutate", mock.Anything, "products", "p1", patch("name", "C")).
		Return(listing.Record{}, shared.NewRemoteError("mutate", "42501", "permission denied")).Once()

	c := NewCoordinator(cells, remote)
	ctx := context.Background()

	require.NoError(t, c.Edit(ctx, "p1", "name", "B"))
	require.Error(t, c.Edit(ctx, "p1", "name", "C"))

	v, _ := cells.Cell("p1", "name")
	assert.Equal(t, "B", v, "rollback restores the value shown before the failed edit")
}

func TestCoordinator_Edit_LatestFailsWhileEarlierInFlight(t *testing.T) {
	cells := newFakeCells()
	remote := new(MockMutator)
	notes := &recordedNotes{}

	releaseB := make(chan struct{})
	startedB := make(chan struct{})
	remote.On("Mutate", mock.Anything, "products", "p1", patch("name", "B")).
		Run(func(mock.Arguments) {
			close(startedB)
			<-releaseB
		}).
		Return(listing.Record{ID: "p1"}, nil).Once()
	remote.On("Mutate", mock.Anything, "products", "p1", patch("name", "C")).
		Return(listing.Record{}, shared.NewRemoteError("mutate", "23514", "violates check constraint")).Once()

	c := NewCoordinator(cells, remote, WithNotifier(notes))
	ctx := context.Background()

	doneB := make(chan error, 1)
	go func() { doneB <- c.Edit(ctx, "p1", "name", "B") }()
	select {
	case <-startedB:
	case <-time.After(2 * time.Second):
		t.Fatal("edit B never reached the backend")
	}

	require.Error(t, c.Edit(ctx, "p1", "name", "C"))
	v, _ := cells.Cell("p1", "name")
	assert.Equal(t, "B", v, "a failed edit restores the value shown before it")
	assert.Len(t, notes.bySeverity(shared.SeverityError), 1)

	close(releaseB)
	require.NoError(t, <-doneB)

	v, _ = cells.Cell("p1", "name")
	assert.Equal(t, "B", v, "the view matches what the backend stored")
	_, pending := c.Pending("p1", "name")
	assert.False(t, pending)
	remote.AssertExpectations(t)
}

func TestCoordinator_Edit_NoRevertWhenCellChanged(t *testing.T) {
	cells := newFakeCells()
	remote := new(MockMutator)
	remote.On("Mutate", mock.Anything, "products", "p1", patch("name", "B")).
		Run(func(mock.Arguments) {
			cells.SetCell("p1", "name", "reloaded")
		}).
		Return(listing.Record{}, shared.NewRemoteError("mutate", shared.RemoteCodeNetwork, "reset")).Once()

	c := NewCoordinator(cells, remote)
	require.Error(t, c.Edit(context.Background(), "p1", "name", "B"))

	v, _ := cells.Cell("p1", "name")
	assert.Equal(t, "reloaded", v)
}

func TestCoordinator_Edit_Validation(t *testing.T) {
	cells := newFakeCells()
	remote := new(MockMutator)
	c := NewCoordinator(cells, remote)
	ctx := context.Background()

	err := c.Edit(ctx, "p1", "sku", "SKU-2")
	assert.True(t, shared.IsValidation(err))

	err = c.Edit(ctx, "p404", "name", "x")
	assert.ErrorIs(t, err, shared.ErrRecordNotInView)

	remote.AssertNotCalled(t, "Mutate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCoordinator_Reset_DiscardsLateResults(t *testing.T) {
	cells := newFakeCells()
	remote := new(MockMutator)
	release := make(chan struct{})
	started := make(chan struct{})
	remote.On("Mutate", mock.Anything, "products", "p1", patch("name", "B")).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(listing.Record{}, errors.New("boom")).Once()

	c := NewCoordinator(cells, remote)
	done := make(chan error, 1)
	go func() { done <- c.Edit(context.Background(), "p1", "name", "B") }()
	<-started

	c.Reset()
	assert.Equal(t, 0, c.PendingCount())
	cells.SetCell("p1", "name", "B")
	close(release)
	require.NoError(t, <-done)

	v, _ := cells.Cell("p1", "name")
	assert.Equal(t, "B", v, "a previous generation never rolls back")
}
