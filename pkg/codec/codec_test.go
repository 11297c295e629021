package codec

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/dispatchd/pkg/types"
)

func TestEncodeDecodeTaskRoundTrip(t *testing.T) {
	frame := TaskFrame{
		TaskId:     "Task-0",
		Type:       types.KindCheckPrime,
		Data:       "7",
		RetryCount: 0,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	data, err := EncodeTask(frame)
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeTask, env.Type)
	require.NotNil(t, env.Task)
	assert.Equal(t, "Task-0", env.Task.TaskId)
	assert.Equal(t, types.KindCheckPrime, env.Task.Type)
}

func TestEncodeDecodeResultRoundTrip(t *testing.T) {
	data, err := EncodeResult(ResultFrame{TaskId: "Task-0", Success: true, ResultData: "True"})
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeResult, env.Type)
	require.NotNil(t, env.Result)
	assert.True(t, env.Result.Success)
}

func TestDecodeLegacyBareResult(t *testing.T) {
	data := []byte(`{"TaskId":"Task-7","Success":false,"ResultData":"boom"}`)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeResult, env.Type)
	require.NotNil(t, env.Result)
	assert.Equal(t, "Task-7", env.Result.TaskId)
	assert.False(t, env.Result.Success)
}

func TestDecodeLegacyBareTask(t *testing.T) {
	data := []byte(`{"TaskId":"Task-8","Type":"CheckPrime","Data":"11","RetryCount":0}`)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeTask, env.Type)
	require.NotNil(t, env.Task)
	assert.Equal(t, "Task-8", env.Task.TaskId)
}

func TestDecodeUnrecognizedFrameIsDropped(t *testing.T) {
	data := []byte(`{"foo":"bar"}`)

	_, err := Decode(data)
	assert.Error(t, err)
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestRegisterResponseEchoesAcceptedCapabilities(t *testing.T) {
	resp := RegisterResponseFrame{
		Success:              true,
		ServerId:             "dispatchd",
		AcceptedCapabilities: []types.Kind{types.KindCheckPrime, types.KindHashText},
	}
	data, err := EncodeRegisterResponse(resp)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.NotNil(t, env.RegisterResponse)
	assert.ElementsMatch(t, resp.AcceptedCapabilities, env.RegisterResponse.AcceptedCapabilities)
}
