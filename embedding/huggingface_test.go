package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmbeddingResponseFlatArray(t *testing.T) {
	vec, err := parseEmbeddingResponse([]byte(`[0.1, 0.2, 0.3]`))
	require.NoError(t, err)
	assert.InDelta(t, 0.2, vec[1], 1e-6)
}

func TestParseEmbeddingResponseBatchArrayTakesFirst(t *testing.T) {
	vec, err := parseEmbeddingResponse([]byte(`[[0.1, 0.2], [0.9, 0.9]]`))
	require.NoError(t, err)
	assert.InDelta(t, 0.1, vec[0], 1e-6)
}

func TestParseEmbeddingResponseTokenLevelIsMeanPooled(t *testing.T) {
	vec, err := parseEmbeddingResponse([]byte(`[[[1.0, 1.0], [3.0, 3.0]]]`))
	require.NoError(t, err)
	require.Len(t, vec, 2)
	assert.InDelta(t, 2.0, vec[0], 1e-6)
}

func TestHuggingFaceProviderDimensionIs384(t *testing.T) {
	p := NewHuggingFaceProvider("test-key")
	assert.Equal(t, 384, p.Dimension())
}
