package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdRoundTripThroughBytes(t *testing.T) {
	id := NewId()

	decoded, err := IdFromBytes(id.Bytes())
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
}

func TestIdRoundTripThroughString(t *testing.T) {
	id := NewId()

	decoded, err := IdFromString(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
}

func TestIdFromBytesRejectsWrongLength(t *testing.T) {
	_, err := IdFromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestNewIdMonotonicWithinSameMillisecond(t *testing.T) {
	ids := make([]Id, 0, 64)
	for i := 0; i < 64; i++ {
		ids = append(ids, NewId())
	}

	for i := 1; i < len(ids); i++ {
		assert.Negative(t, ids[i-1].Compare(ids[i]), "ids must sort in mint order")
	}
}

func TestTypedIdAliasesShareRepresentation(t *testing.T) {
	id := NewId()
	page := PageId(id)
	asset := AssetId(id)

	assert.Equal(t, id.Bytes(), page.Bytes())
	assert.Equal(t, id.Bytes(), asset.Bytes())
	assert.Equal(t, id.String(), page.String())
}
