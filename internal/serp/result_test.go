package serp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedup(t *testing.T) {
	in := []Result{
		{Title: "A", URL: "https://a.com/"},
		{Title: "B", URL: "https://b.com/"},
		{Title: "A", URL: "https://a.com/", Description: "second copy"},
		{Title: "A2", URL: "https://a.com/"},
	}

	out := Dedup(in)
	assert.Equal(t, []Result{
		{Title: "A", URL: "https://a.com/"},
		{Title: "B", URL: "https://b.com/"},
		{Title: "A2", URL: "https://a.com/"},
	}, out)
	assert.Equal(t, out, Dedup(out))
	assert.Empty(t, Dedup(nil))
}
