package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EBISPOT/zooma-sub003/internal/model"
)

func TestFlatten_OneRowPerURI(t *testing.T) {
	be := sample("http://example.org/s/1")
	first := ann("http://example.org/a/1", "organism", "Homo sapiens", []string{human}, be)
	last := ann("http://example.org/a/1", "organism", "Mus musculus", []string{mouse}, be)
	other := ann("http://example.org/a/2", "organism part", "liver", []string{human}, be)

	b, err := flatten("gxa", []*model.Annotation{first, nil, other, first, last})
	require.NoError(t, err)

	require.Len(t, b.annotations, 2)
	assert.Equal(t, "http://example.org/a/2", b.annotations[0][0])
	assert.Equal(t, "http://example.org/a/1", b.annotations[1][0])
	assert.Equal(t, "Mus musculus", b.annotations[1][3])
	assert.Equal(t, [][]any{
		{"http://example.org/a/2", human},
		{"http://example.org/a/1", mouse},
	}, b.tags)
	assert.Len(t, b.links, 2)
	assert.Len(t, b.entities, 1)
}
