package content

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-cerp/scribe/internal/errkind"
)

func TestCreate_WritesReadableFile(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	name, err := s.Create(strings.NewReader(`{"title":"hello"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, name)

	f, err := s.Open(name)
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, `{"title":"hello"}`, string(data))
}

func TestOpen_MissingFileReturnsNotFound(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Open("does-not-exist")
	require.Error(t, err)
	assert.Equal(t, errkind.NotFound, errkind.Of(err))
}

func TestDelete_IsIdempotent(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	name, err := s.Create(strings.NewReader("data"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(name))
	require.NoError(t, s.Delete(name)) // second delete of an already-gone file is not an error
}
