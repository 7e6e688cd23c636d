// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package stt_api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/rapidaai/stt-gateway/config"
	"github.com/rapidaai/stt-gateway/internal/channel"
	"github.com/rapidaai/stt-gateway/internal/session"
	"github.com/rapidaai/stt-gateway/pkg/commons"
)

var signalingUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type SttApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	registry *session.Registry
}

func New(cfg *config.AppConfig, logger commons.Logger, registry *session.Registry) *SttApi {
	return &SttApi{cfg: cfg, logger: logger, registry: registry}
}

// Connect runs one signaling connection. The WebSocket carries only control
// frames (session lifecycle, SDP/ICE, transcription results); audio flows
// through the WebRTC media track.
//
// @Router /v1/stt/ws [get]
// @Summary Open a speech-to-text session
// @Description Upgrades to WebSocket for signaling and transcription events
// @Success 101 "Switching Protocols"
// @Failure 400 {object} gin.H
func (api *SttApi) Connect(c *gin.Context) {
	conn, err := signalingUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		api.logger.Errorf("WebSocket upgrade failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to upgrade to WebSocket"})
		return
	}

	emitter := channel.NewEmitter(channel.NewWebsocketSink(conn))

	var sess *session.Session
	defer func() {
		if sess != nil {
			api.registry.Remove(sess.ID(), "ws_closed")
		}
		conn.Close()
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			api.logger.Debugw("Signaling connection closed", "error", err)
			return
		}

		env, err := channel.Decode(frame)
		if err != nil {
			emitter.Error(channel.CodeInvalidPayload, err.Error())
			continue
		}

		switch env.Event {
		case channel.EventSessionInit:
			sess = api.handleInit(emitter, sess, env)

		case channel.EventRTCOffer:
			api.handleOffer(emitter, sess, env)

		case channel.EventRTCCandidate:
			api.handleCandidate(emitter, sess, env)

		case channel.EventRTCStart:
			if sess == nil {
				emitter.Error(channel.CodeSessionNotInitialized, "send session.init first")
				continue
			}
			// Acknowledgment only; recognition starts when the remote audio
			// track arrives.
			api.logger.Debugw("Client acknowledged media start", "session", sess.ID())

		case channel.EventRTCStop:
			if sess == nil {
				emitter.Error(channel.CodeSessionNotInitialized, "send session.init first")
				continue
			}
			var payload struct {
				RoomID string `json:"room_id"`
			}
			if err := env.Bind(&payload); err != nil {
				emitter.Error(channel.CodeInvalidPayload, err.Error())
				continue
			}
			sess.BindRoom(payload.RoomID)
			api.registry.Remove(sess.ID(), "session stopped")
			sess = nil

		case channel.EventSessionClose:
			if sess != nil {
				api.registry.Remove(sess.ID(), "client_close")
				sess = nil
			}
			return

		default:
			emitter.Error(channel.CodeUnknownEvent, fmt.Sprintf("unknown event: %s", env.Event))
		}
	}
}

func (api *SttApi) handleInit(emitter *channel.Emitter, sess *session.Session, env *channel.Envelope) *session.Session {
	var hints session.Hints
	if err := env.Bind(&hints); err != nil {
		emitter.Error(channel.CodeInvalidPayload, err.Error())
		return sess
	}
	if sess == nil {
		sess = api.registry.Create(emitter)
	}
	sess.ApplyHints(hints)
	emitter.SessionReady(sess.ID())
	return sess
}

func (api *SttApi) handleOffer(emitter *channel.Emitter, sess *session.Session, env *channel.Envelope) {
	if sess == nil {
		emitter.Error(channel.CodeSessionNotInitialized, "send session.init first")
		return
	}
	var offer struct {
		SDP  string `json:"sdp"`
		Type string `json:"type"`
	}
	if err := env.Bind(&offer); err != nil {
		emitter.Error(channel.CodeInvalidPayload, err.Error())
		return
	}

	answer, err := sess.HandleOffer(offer.SDP)
	if err != nil {
		emitter.Error(channel.CodeInvalidOffer, err.Error())
		return
	}
	emitter.Answer(answer, "answer", sess.ID())
}

func (api *SttApi) handleCandidate(emitter *channel.Emitter, sess *session.Session, env *channel.Envelope) {
	if sess == nil {
		emitter.Error(channel.CodeSessionNotInitialized, "send session.init first")
		return
	}
	var payload struct {
		Candidate     *string `json:"candidate"`
		SDPMid        *string `json:"sdpMid"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	}
	if err := env.Bind(&payload); err != nil {
		emitter.Error(channel.CodeInvalidPayload, err.Error())
		return
	}

	// A null candidate marks end-of-candidates on the remote side.
	init := pionwebrtc.ICECandidateInit{}
	if payload.Candidate != nil {
		init.Candidate = *payload.Candidate
		init.SDPMid = payload.SDPMid
		init.SDPMLineIndex = payload.SDPMLineIndex
	}
	if err := sess.AddCandidate(init); err != nil {
		emitter.Error(channel.CodeInvalidCandidate, err.Error())
	}
}
