package serp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pageOf(n, start int) *Page {
	p := &Page{RawCount: n}
	for i := 0; i < n; i++ {
		p.Results = append(p.Results, Result{
			Title: fmt.Sprintf("r%d", start+i),
			URL:   fmt.Sprintf("https://example.com/%d", start+i),
			Type:  ResultOrganic,
		})
	}
	return p
}

func TestNewState_Budget(t *testing.T) {
	assert.Equal(t, 2, NewState(1, 10).PageBudget)
	assert.Equal(t, 2, NewState(10, 10).PageBudget)
	assert.Equal(t, 3, NewState(11, 10).PageBudget)
	assert.Equal(t, 11, NewState(100, 10).PageBudget)
	assert.Equal(t, 2, NewState(3, 0).PageBudget)
}

func TestAdvance_EnoughOnFirstPage(t *testing.T) {
	step := Advance(NewState(3, 10), pageOf(10, 0), 3, 10)

	require.False(t, step.Continue)
	require.Len(t, step.Results, 3)
	for i, r := range step.Results {
		assert.Equal(t, i+1, r.Rank)
		assert.Equal(t, ResultOrganic, r.Type)
	}
}

func TestAdvance_ContinuesWithOffset(t *testing.T) {
	state := NewState(15, 10)
	step := Advance(state, pageOf(10, 0), 15, 10)

	require.True(t, step.Continue)
	assert.Equal(t, 10, step.NextOffset)
	assert.Equal(t, 1, step.State.CurrentPage)
	assert.Len(t, step.State.Collected, 10)

	step = Advance(step.State, pageOf(10, 10), 15, 10)
	require.False(t, step.Continue)
	assert.Len(t, step.Results, 15)
	assert.Equal(t, "r14", step.Results[14].Title)
}

func TestAdvance_StopsWhenExhausted(t *testing.T) {
	state := NewState(20, 10)
	step := Advance(state, pageOf(4, 0), 20, 10)
	require.True(t, step.Continue)

	step = Advance(step.State, &Page{}, 20, 10)
	require.False(t, step.Continue)
	assert.Len(t, step.Results, 4)
}

func TestAdvance_DedupsAcrossPages(t *testing.T) {
	state := NewState(12, 10)
	step := Advance(state, pageOf(10, 0), 12, 10)
	step = Advance(step.State, pageOf(10, 5), 12, 10)

	require.False(t, step.Continue)
	require.Len(t, step.Results, 12)
	seen := map[string]bool{}
	for _, r := range step.Results {
		assert.False(t, seen[r.URL], "duplicate %s", r.URL)
		seen[r.URL] = true
	}
}

func TestAdvance_SuggestedFromFirstPage(t *testing.T) {
	first := pageOf(2, 0)
	first.Suggested = true

	step := Advance(NewState(5, 10), first, 5, 10)
	require.True(t, step.Continue)
	step = Advance(step.State, pageOf(2, 2), 5, 10)

	require.False(t, step.Continue)
	require.Len(t, step.Results, 4)
	for _, r := range step.Results {
		assert.Equal(t, ResultSuggested, r.Type)
	}
}

func TestAdvance_SuggestedOnLaterPageIgnored(t *testing.T) {
	step := Advance(NewState(15, 10), pageOf(10, 0), 15, 10)
	later := pageOf(10, 10)
	later.Suggested = true
	step = Advance(step.State, later, 15, 10)

	require.False(t, step.Continue)
	assert.Equal(t, ResultOrganic, step.Results[0].Type)
}

type fakeSource struct {
	mu      sync.Mutex
	pages   map[int]*Page
	fail    map[int]error
	offsets []int
}

func (f *fakeSource) FetchPage(_ context.Context, _ string, offset, _ int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offsets = append(f.offsets, offset)
	if err := f.fail[offset]; err != nil {
		return nil, err
	}
	p, ok := f.pages[offset]
	if !ok {
		return resultsPage(false), nil
	}
	var entries []fixtureEntry
	for _, r := range p.Results {
		entries = append(entries, fixtureEntry{r.Title, r.URL, ""})
	}
	return resultsPage(p.Suggested, entries...), nil
}

func TestPaginator_TerminatesWithinBudget(t *testing.T) {
	src := &fakeSource{pages: map[int]*Page{}}
	// Every page yields the same result, so the target is never reached.
	for off := 0; off < 200; off += 10 {
		src.pages[off] = pageOf(1, 0)
	}

	p := NewPaginator(src, PaginatorConfig{}, nil)
	results, err := p.Collect(context.Background(), "q", 20)
	require.NoError(t, err)

	assert.Len(t, results, 1)
	assert.Equal(t, []int{0, 10, 20}, src.offsets)
}

func TestPaginator_CollectAcrossPages(t *testing.T) {
	src := &fakeSource{pages: map[int]*Page{
		0:  pageOf(10, 0),
		10: pageOf(10, 10),
	}}

	p := NewPaginator(src, PaginatorConfig{PerPage: 10}, nil)
	results, err := p.Collect(context.Background(), "q", 12)
	require.NoError(t, err)

	require.Len(t, results, 12)
	assert.Equal(t, 12, results[11].Rank)
	assert.Equal(t, []int{0, 10}, src.offsets)
}

func TestPaginator_FirstPageErrorFails(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeSource{fail: map[int]error{0: boom}}

	_, err := NewPaginator(src, PaginatorConfig{}, nil).Collect(context.Background(), "q", 5)
	assert.ErrorIs(t, err, boom)
}

func TestPaginator_LaterPageErrorKeepsCollected(t *testing.T) {
	src := &fakeSource{
		pages: map[int]*Page{0: pageOf(3, 0)},
		fail:  map[int]error{10: errors.New("blocked")},
	}

	results, err := NewPaginator(src, PaginatorConfig{}, nil).Collect(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Rank)
}

func TestPaginator_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPaginator(&fakeSource{}, PaginatorConfig{}, nil).Collect(ctx, "q", 5)
	assert.ErrorIs(t, err, context.Canceled)
}
