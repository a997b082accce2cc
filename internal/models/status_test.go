package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusScanKnownValues(t *testing.T) {
	for want := StatusPending; want <= StatusReturned; want++ {
		var s Status
		require.NoError(t, s.Scan(int64(want)))
		assert.Equal(t, want, s)
	}
}

func TestStatusScanRejectsUnknownValue(t *testing.T) {
	var s Status
	assert.Error(t, s.Scan(int64(0)))
	assert.Error(t, s.Scan(int64(99)))
	assert.Error(t, s.Scan("PAID"))
}

func TestStatusValueRejectsUnknown(t *testing.T) {
	_, err := Status(42).Value()
	assert.Error(t, err)

	v, err := StatusPaid.Value()
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestStatusMarshalJSON(t *testing.T) {
	b, err := StatusCancelled.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"CANCELLED"`, string(b))
}
