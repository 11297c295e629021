// Package codec implements the framed JSON wire protocol spoken between
// the dispatch server and worker connections: one JSON object per socket
// write, discriminated by a Type field, with a legacy bare-frame fallback.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskforge/dispatchd/pkg/types"
)

// MessageType discriminates an Envelope's payload.
type MessageType string

const (
	TypeTask             MessageType = "Task"
	TypeResult           MessageType = "Result"
	TypePingRequest      MessageType = "PingRequest"
	TypePingResponse     MessageType = "PingResponse"
	TypeRegister         MessageType = "Register"
	TypeRegisterResponse MessageType = "RegisterResponse"
)

// TaskFrame is the wire shape of a dispatched task, matching the fields
// the worker process expects.
type TaskFrame struct {
	TaskId      string     `json:"TaskId"`
	Type        types.Kind `json:"Type"`
	Data        string     `json:"Data"`
	RetryCount  int        `json:"RetryCount"`
	CreatedAt   time.Time  `json:"CreatedAt"`
	LastRetryAt *time.Time `json:"LastRetryAt,omitempty"`
}

// TaskFrameFrom builds a TaskFrame from a server-side Task record.
func TaskFrameFrom(t *types.Task) TaskFrame {
	return TaskFrame{
		TaskId:      t.ID,
		Type:        t.Kind,
		Data:        t.Payload,
		RetryCount:  t.RetryCount,
		CreatedAt:   t.CreatedAt,
		LastRetryAt: t.LastRetryAt,
	}
}

// ResultFrame is a worker's report of a completed or failed task.
type ResultFrame struct {
	TaskId     string `json:"TaskId"`
	Success    bool   `json:"Success"`
	ResultData string `json:"ResultData"`
}

// PingRequestFrame is a worker-originated liveness probe.
type PingRequestFrame struct {
	ClientId string `json:"ClientId"`
}

// PingResponseFrame answers a PingRequestFrame.
type PingResponseFrame struct {
	ServerId string `json:"ServerId"`
}

// RegisterFrame announces a worker's identity and capabilities.
type RegisterFrame struct {
	ClientId     string       `json:"ClientId"`
	ClientName   string       `json:"ClientName"`
	Capabilities []types.Kind `json:"Capabilities"`
	Version      string       `json:"Version"`
}

// RegisterResponseFrame acknowledges a RegisterFrame.
type RegisterResponseFrame struct {
	Success              bool         `json:"Success"`
	Message              string       `json:"Message"`
	ServerId             string       `json:"ServerId"`
	AcceptedCapabilities []types.Kind `json:"AcceptedCapabilities"`
}

// Envelope wraps exactly one of the frame kinds above, discriminated by
// Type. Only the field matching Type is ever populated by Encode; Decode
// inspects all of them defensively.
type Envelope struct {
	Type             MessageType            `json:"Type"`
	Timestamp        time.Time              `json:"Timestamp"`
	Task             *TaskFrame             `json:"Task,omitempty"`
	Result           *ResultFrame           `json:"Result,omitempty"`
	PingRequest      *PingRequestFrame      `json:"PingRequest,omitempty"`
	PingResponse     *PingResponseFrame     `json:"PingResponse,omitempty"`
	Register         *RegisterFrame         `json:"Register,omitempty"`
	RegisterResponse *RegisterResponseFrame `json:"RegisterResponse,omitempty"`
}

func newEnvelope(t MessageType) Envelope {
	return Envelope{Type: t, Timestamp: time.Now()}
}

// EncodeTask wraps a task frame in a typed envelope and marshals it.
func EncodeTask(frame TaskFrame) ([]byte, error) {
	env := newEnvelope(TypeTask)
	env.Task = &frame
	return json.Marshal(env)
}

// EncodeResult wraps a result frame in a typed envelope and marshals it.
func EncodeResult(frame ResultFrame) ([]byte, error) {
	env := newEnvelope(TypeResult)
	env.Result = &frame
	return json.Marshal(env)
}

// EncodePingRequest wraps a ping request in a typed envelope and marshals it.
func EncodePingRequest(frame PingRequestFrame) ([]byte, error) {
	env := newEnvelope(TypePingRequest)
	env.PingRequest = &frame
	return json.Marshal(env)
}

// EncodePingResponse wraps a ping response in a typed envelope and marshals it.
func EncodePingResponse(frame PingResponseFrame) ([]byte, error) {
	env := newEnvelope(TypePingResponse)
	env.PingResponse = &frame
	return json.Marshal(env)
}

// EncodeRegister wraps a register frame in a typed envelope and marshals it.
func EncodeRegister(frame RegisterFrame) ([]byte, error) {
	env := newEnvelope(TypeRegister)
	env.Register = &frame
	return json.Marshal(env)
}

// EncodeRegisterResponse wraps a register response in a typed envelope and marshals it.
func EncodeRegisterResponse(frame RegisterResponseFrame) ([]byte, error) {
	env := newEnvelope(TypeRegisterResponse)
	env.RegisterResponse = &frame
	return json.Marshal(env)
}

// legacyFrame is the shape a pre-envelope worker might send: a bare Result
// or bare Task, with no Type discriminator at all.
type legacyFrame struct {
	TaskId      string     `json:"TaskId"`
	Success     *bool      `json:"Success,omitempty"`
	ResultData  string     `json:"ResultData,omitempty"`
	Type        types.Kind `json:"Type,omitempty"`
	Data        string     `json:"Data,omitempty"`
	RetryCount  int        `json:"RetryCount,omitempty"`
	CreatedAt   time.Time  `json:"CreatedAt,omitempty"`
	LastRetryAt *time.Time `json:"LastRetryAt,omitempty"`
}

// Decode parses a single frame read from a worker connection. It first
// tries the typed envelope; on failure (or when Type is not one of the
// recognized discriminators, as with a bare task whose Type is its Kind)
// it attempts the legacy bare-Result or bare-Task parse described by the
// protocol's compatibility contract.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err == nil {
		switch env.Type {
		case TypeTask, TypeResult, TypePingRequest, TypePingResponse, TypeRegister, TypeRegisterResponse:
			return env, nil
		}
	}

	var legacy legacyFrame
	if err := json.Unmarshal(data, &legacy); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}

	switch {
	case legacy.TaskId != "" && legacy.Success != nil:
		env = newEnvelope(TypeResult)
		env.Result = &ResultFrame{
			TaskId:     legacy.TaskId,
			Success:    *legacy.Success,
			ResultData: legacy.ResultData,
		}
		return env, nil
	case legacy.TaskId != "" && legacy.Type != "":
		env = newEnvelope(TypeTask)
		env.Task = &TaskFrame{
			TaskId:      legacy.TaskId,
			Type:        legacy.Type,
			Data:        legacy.Data,
			RetryCount:  legacy.RetryCount,
			CreatedAt:   legacy.CreatedAt,
			LastRetryAt: legacy.LastRetryAt,
		}
		return env, nil
	default:
		return Envelope{}, fmt.Errorf("unrecognized frame, no discriminator and no legacy shape matched")
	}
}
