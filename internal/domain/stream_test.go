package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullableStringStream(t *testing.T) {
	assert.Nil(t, NullableString(""))
	got := NullableString("t1")
	require.NotNil(t, got)
	assert.Equal(t, "t1", *got)
}

func TestFramePayloadShapes(t *testing.T) {
	ready, err := json.Marshal(ReadyPayload{ThreadID: NullableString("")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"thread_id":null}`, string(ready))

	end, err := json.Marshal(EndPayload{ThreadID: NullableString("t1"), Text: "done"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"thread_id":"t1","text":"done"}`, string(end))

	delta, err := json.Marshal(DeltaPayload{Text: " x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":" x"}`, string(delta))
}
