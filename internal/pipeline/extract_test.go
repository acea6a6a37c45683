package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-cerp/scribe/internal/errkind"
)

func TestParseDocuments_DecodesJSONArray(t *testing.T) {
	docs, err := parseDocuments([]byte(`[{"id":"1"},{"id":"2"}]`))
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, "1", docs[0]["id"])
}

func TestParseDocuments_RejectsMalformedPayload(t *testing.T) {
	_, err := parseDocuments([]byte(`not json`))
	require.Error(t, err)
	assert.Equal(t, errkind.UserInput, errkind.Of(err))
}

func TestPrimaryKeyValue_UsesConfiguredKey(t *testing.T) {
	v, err := primaryKeyValue(map[string]any{"isbn": "0-13-110362-8", "title": "the c programming language"}, "isbn")
	require.NoError(t, err)
	assert.Equal(t, "0-13-110362-8", v)
}

func TestPrimaryKeyValue_MissingConfiguredKeyErrors(t *testing.T) {
	_, err := primaryKeyValue(map[string]any{"title": "x"}, "isbn")
	require.Error(t, err)
	assert.Equal(t, errkind.UserInput, errkind.Of(err))
}

func TestPrimaryKeyValue_AutoDetectsSoleIDCandidate(t *testing.T) {
	v, err := primaryKeyValue(map[string]any{"_id": "42", "title": "x"}, "")
	require.NoError(t, err)
	assert.Equal(t, "42", v)
}

func TestPrimaryKeyValue_AmbiguousFieldSetErrors(t *testing.T) {
	_, err := primaryKeyValue(map[string]any{"title": "x"}, "")
	require.Error(t, err)
	assert.Equal(t, errkind.UserInput, errkind.Of(err))
}

func TestBucketPosition_CapsAtUint16Max(t *testing.T) {
	assert.Equal(t, uint16(0xffff), bucketPosition(1<<20))
	assert.Equal(t, uint16(5), bucketPosition(5))
}
