/*
Copyright 2026 The Mahavishnu Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gateway implements the subscription gateway (C8): a framed
// websocket request/response+push protocol over C6 (pool/worker registry)
// and C7 (event bus), plus a small HTTP surface for health, metrics, a
// Mermaid view of C3's (dependency manager) graph, and batch requests.
// The dead-letter queue (C5) is not exposed.
package gateway

import "time"

// ProtocolVersion is advertised in every welcome frame.
const ProtocolVersion = "1"

// Capabilities lists the request events this gateway understands.
var Capabilities = []string{"subscribe", "unsubscribe", "get_pool_status", "get_worker_status"}

// FrameType is the `type` discriminator carried by every frame.
type FrameType string

const (
	FrameWelcome  FrameType = "welcome"
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
	FrameError    FrameType = "error"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
	FrameGoodbye  FrameType = "goodbye"
)

// RequestEvent is the `event` field of an inbound request frame.
type RequestEvent string

const (
	RequestSubscribe       RequestEvent = "subscribe"
	RequestUnsubscribe     RequestEvent = "unsubscribe"
	RequestGetPoolStatus   RequestEvent = "get_pool_status"
	RequestGetWorkerStatus RequestEvent = "get_worker_status"
)

// WelcomeFrame is the first frame sent after a session is accepted.
type WelcomeFrame struct {
	Type         FrameType `json:"type"`
	Version      string    `json:"version"`
	Capabilities []string  `json:"capabilities"`
}

// RequestFrame is a client→server request.
type RequestFrame struct {
	Type  FrameType       `json:"type"`
	Event RequestEvent    `json:"event" validate:"required,oneof=subscribe unsubscribe get_pool_status get_worker_status"`
	Data  map[string]any  `json:"data"`
	ID    string          `json:"id" validate:"required"`
}

// ResponseFrame is a correlated reply to a RequestFrame.
type ResponseFrame struct {
	Type    FrameType `json:"type"`
	ID      string    `json:"id"`
	Data    any       `json:"data,omitempty"`
	Status  string    `json:"status,omitempty"`
	Channel string    `json:"channel,omitempty"`
}

// EventFrame is an unsolicited lifecycle notification.
type EventFrame struct {
	Type      FrameType `json:"type"`
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Sequence  uint64    `json:"sequence"`
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorFrame is a structured error reply.
type ErrorFrame struct {
	Type         FrameType `json:"type"`
	ID           string    `json:"id,omitempty"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

// PingFrame and PongFrame are liveness probes.
type PingFrame struct {
	Type      FrameType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type PongFrame struct {
	Type      FrameType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// GoodbyeFrame is sent once per session during an orderly server shutdown.
type GoodbyeFrame struct {
	Type   FrameType `json:"type"`
	Reason string    `json:"reason,omitempty"`
}

// typeEnvelope is used to sniff an inbound frame's type before decoding
// its full shape.
type typeEnvelope struct {
	Type FrameType `json:"type"`
}
