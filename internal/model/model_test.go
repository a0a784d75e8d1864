package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexIntDecoding(t *testing.T) {
	var rec ScheduleRecord

	require.NoError(t, json.Unmarshal([]byte(`{"KSJC": 5}`), &rec))
	assert.Equal(t, 5, int(rec.Period))

	require.NoError(t, json.Unmarshal([]byte(`{"KSJC": "7"}`), &rec))
	assert.Equal(t, 7, int(rec.Period))

	require.NoError(t, json.Unmarshal([]byte(`{"KSJC": null}`), &rec))
	assert.Equal(t, 0, int(rec.Period))

	require.NoError(t, json.Unmarshal([]byte(`{"KSJC": ""}`), &rec))
	assert.Equal(t, 0, int(rec.Period))

	err := json.Unmarshal([]byte(`{"KSJC": "first"}`), &rec)
	require.Error(t, err)
}
