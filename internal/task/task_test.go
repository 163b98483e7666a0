package task

import (
	"testing"
	"time"

	"github.com/FranksOps/skein/internal/extract"
	"github.com/FranksOps/skein/internal/serp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpretAsURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", "", false},
		{"invalid-url", "", false},
		{"golang channels tutorial", "", false},
		{"http://example.com", "http://example.com/", true},
		{"https://example.com/path?q=1", "https://example.com/path?q=1", true},
		{"https%3A%2F%2Fexample.com", "https://example.com/", true},
		{"https%253A%252F%252Fexample.com", "https://example.com/", true},
		{"https%25253A%25252F%25252Fexample.com", "https://example.com/", true},
		{"ftp://example.com", "", false},
		{"https://", "", false},
	}
	for _, c := range cases {
		got, ok := InterpretAsURL(c.in)
		assert.Equal(t, c.ok, ok, "input %q", c.in)
		assert.Equal(t, c.want, got, "input %q", c.in)
	}
}

func TestInterpretAsURL_StopsAfterThreeRounds(t *testing.T) {
	_, ok := InterpretAsURL("https%2525253A%2525252F%2525252Fexample.com")
	assert.False(t, ok)
}

func TestNew(t *testing.T) {
	a := New("https://example.com/", "resp-1", "q", nil, extract.DefaultSettings(), nil)
	b := New("https://example.com/", "resp-1", "q", nil, extract.DefaultSettings(), nil)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "resp-1", a.ResponseID)
	assert.Equal(t, 0, a.Rank())
	assert.NotNil(t, a.Timeline)
}

func TestFromResults(t *testing.T) {
	tl := NewTimeline()
	tl.Add(EventRequestReceived)

	results := []serp.Result{
		{Title: "A", URL: "https://a.example/", Rank: 1, Type: serp.ResultOrganic},
		{Title: "B", URL: "https://b.example/", Rank: 2, Type: serp.ResultOrganic},
	}
	tasks := FromResults(results, "resp-1", "q", extract.DefaultSettings(), tl)
	require.Len(t, tasks, 2)

	assert.Equal(t, "https://a.example/", tasks[0].URL)
	assert.Equal(t, 1, tasks[0].Rank())
	assert.Equal(t, 2, tasks[1].Rank())

	tasks[0].Timeline.Add(EventQueued)
	assert.Len(t, tasks[0].Timeline.Relative(), 2)
	assert.Len(t, tasks[1].Timeline.Relative(), 1)
	assert.Len(t, tl.Relative(), 1)
}

func TestTimeline_Relative(t *testing.T) {
	tl := NewTimeline()
	base := time.Now()
	tl.AddAt("b", base.Add(250*time.Millisecond))
	tl.AddAt("a", base)
	tl.AddAt("c", base.Add(1*time.Second))

	got := tl.Relative()
	assert.Equal(t, []Measure{
		{Event: "a", TimeMs: 0},
		{Event: "b", TimeMs: 250},
		{Event: "c", TimeMs: 1000},
	}, got)

	assert.Nil(t, NewTimeline().Relative())
}
