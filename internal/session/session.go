// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/rapidaai/stt-gateway/config"
	"github.com/rapidaai/stt-gateway/internal/audio"
	"github.com/rapidaai/stt-gateway/internal/channel"
	"github.com/rapidaai/stt-gateway/internal/diarization"
	"github.com/rapidaai/stt-gateway/internal/noise"
	"github.com/rapidaai/stt-gateway/internal/qa"
	"github.com/rapidaai/stt-gateway/internal/storage"
	"github.com/rapidaai/stt-gateway/internal/store"
	"github.com/rapidaai/stt-gateway/internal/transcriber"
	"github.com/rapidaai/stt-gateway/pkg/commons"
	"github.com/rapidaai/stt-gateway/pkg/utils"
)

// persistTimeout bounds the final database write during teardown.
const persistTimeout = 5 * time.Second

// drainTimeout bounds how long Stop waits for the recognizer to flush its
// trailing results after end-of-audio before cancelling outright.
const drainTimeout = 5 * time.Second

// RecognizerFactory builds one recognition stream per session.
type RecognizerFactory func() transcriber.StreamingRecognizer

// Hints are client-supplied session parameters from session.init.
type Hints struct {
	RoomID      string `json:"room_id"`
	Locale      string `json:"locale"`
	MinSpeakers int    `json:"min_speakers"`
	MaxSpeakers int    `json:"max_speakers"`
	Diarization *bool  `json:"diarization"`
}

// Session owns one consultation's media path: the peer connection, the
// audio pipeline, the recognition worker and the final persistence. All
// teardown funnels through Stop, which is safe to call from any goroutine
// and runs exactly once.
type Session struct {
	logger  commons.Logger
	cfg     *config.AppConfig
	emitter *channel.Emitter

	id          string
	transcripts store.TranscriptStore
	objects     storage.ObjectStore

	newRecognizer RecognizerFactory

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	roomID      string
	locale      string
	minSpeakers int
	maxSpeakers int
	diarize     bool

	pc         *pionwebrtc.PeerConnection
	pipeline   *audio.Pipeline
	worker     *transcriber.Worker
	queue      chan []byte
	started    bool
	closed     bool
	workerDone chan struct{}
}

// New builds an initialized but idle session with a fresh identifier.
func New(
	logger commons.Logger,
	cfg *config.AppConfig,
	emitter *channel.Emitter,
	transcripts store.TranscriptStore,
	objects storage.ObjectStore,
	newRecognizer RecognizerFactory,
) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		logger:        logger,
		cfg:           cfg,
		emitter:       emitter,
		id:            utils.SessionID(),
		transcripts:   transcripts,
		objects:       objects,
		newRecognizer: newRecognizer,
		ctx:           ctx,
		cancel:        cancel,
		locale:        cfg.RTCLanguage,
		maxSpeakers:   4,
		diarize:       true,
		workerDone:    make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// ApplyHints merges client parameters. Zero values keep the defaults.
func (s *Session) ApplyHints(hints Hints) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hints.RoomID != "" {
		s.roomID = hints.RoomID
	}
	if hints.Locale != "" {
		s.locale = hints.Locale
	}
	if hints.MinSpeakers > 0 {
		s.minSpeakers = hints.MinSpeakers
	}
	if hints.MaxSpeakers > 0 {
		s.maxSpeakers = hints.MaxSpeakers
	}
	if hints.Diarization != nil {
		s.diarize = *hints.Diarization
	}
}

// BindRoom attaches the consultation room for persistence. The client may
// deliver it on session.init or as late as rtc.stop.
func (s *Session) BindRoom(roomID string) {
	if roomID == "" {
		return
	}
	s.mu.Lock()
	s.roomID = roomID
	s.mu.Unlock()
}

// ===== Negotiation =====

// HandleOffer applies a remote offer and returns the local answer SDP. The
// first offer builds the peer connection and audio chain; later offers
// renegotiate the existing connection.
func (s *Session) HandleOffer(offerSDP string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", errors.New("session is closed")
	}
	pc := s.pc
	s.mu.Unlock()

	if strings.TrimSpace(offerSDP) == "" {
		return "", errors.New("offer sdp is empty")
	}

	if pc == nil {
		if err := s.buildMediaChain(); err != nil {
			return "", err
		}

		created, err := s.createPeerConnection()
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.pc = created
		s.mu.Unlock()
		pc = created
	}

	if err := pc.SetRemoteDescription(pionwebrtc.SessionDescription{
		Type: pionwebrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		return "", fmt.Errorf("failed to apply remote offer: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to apply local answer: %w", err)
	}
	return answer.SDP, nil
}

// buildMediaChain wires the pipeline, diarizer, extractor and worker for
// this session.
func (s *Session) buildMediaChain() error {
	queue := make(chan []byte, audio.QueueCapacity)

	var reducer noise.Reducer
	if s.cfg.DenoiseEnabled {
		reducer = noise.NewFFmpegReducer(s.logger, s.cfg.STTSampleRate)
	} else {
		reducer = noise.NewNoopReducer()
	}

	pipeline, err := audio.NewPipeline(s.logger, s.id, audio.PipelineConfig{
		RTCSampleRate: s.cfg.RTCSampleRate,
		STTSampleRate: s.cfg.STTSampleRate,
		StorageDir:    s.cfg.StorageDir,
		AnalysisDir:   s.cfg.AnalysisDir,
	}, reducer, queue)
	if err != nil {
		return fmt.Errorf("failed to build audio pipeline: %w", err)
	}

	s.mu.Lock()
	locale := s.locale
	minSpeakers := s.minSpeakers
	maxSpeakers := s.maxSpeakers
	diarize := s.diarize
	s.mu.Unlock()

	worker := transcriber.NewWorker(
		s.logger,
		s.id,
		transcriber.Config{
			SampleRate:        s.cfg.STTSampleRate,
			Language:          locale,
			Model:             s.cfg.STTModel,
			UseEnhanced:       s.cfg.STTUseEnhanced,
			EnablePunctuation: true,
			EnableDiarization: diarize,
			MinSpeakers:       minSpeakers,
			MaxSpeakers:       maxSpeakers,
			CredentialsFile:   s.cfg.GoogleApplicationCredentials,
		},
		s.newRecognizer(),
		s.emitter,
		diarization.NewProcessor(s.logger, s.cfg.LogsDir),
		qa.NewExtractor(float64(s.cfg.QATimeWindowSec), s.cfg.QASentenceWindow),
		queue,
		pipeline.Stats,
	)

	s.mu.Lock()
	s.pipeline = pipeline
	s.worker = worker
	s.queue = queue
	s.mu.Unlock()
	return nil
}

func (s *Session) createPeerConnection() (*pionwebrtc.PeerConnection, error) {
	mediaEngine := &pionwebrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(pionwebrtc.RTPCodecParameters{
		RTPCodecCapability: pionwebrtc.RTPCodecCapability{
			MimeType:    pionwebrtc.MimeTypeOpus,
			ClockRate:   audio.OpusSampleRate,
			Channels:    audio.OpusChannels,
			SDPFmtpLine: audio.OpusSDPFmtpLine,
		},
		PayloadType: audio.OpusPayloadType,
	}, pionwebrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register Opus codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := pionwebrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	api := pionwebrtc.NewAPI(
		pionwebrtc.WithMediaEngine(mediaEngine),
		pionwebrtc.WithInterceptorRegistry(registry),
	)

	configured := s.cfg.ICEServers()
	iceServers := make([]pionwebrtc.ICEServer, len(configured))
	for i, srv := range configured {
		iceServers[i] = pionwebrtc.ICEServer{
			URLs:       srv.URLs,
			Username:   srv.Username,
			Credential: srv.Credential,
		}
	}

	pc, err := api.NewPeerConnection(pionwebrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(pionwebrtc.RTPCodecTypeAudio, pionwebrtc.RTPTransceiverInit{
		Direction: pionwebrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	pc.OnICECandidate(func(c *pionwebrtc.ICECandidate) {
		if c == nil {
			s.emitter.Candidate(nil, nil, nil)
			return
		}
		cJSON := c.ToJSON()
		s.emitter.Candidate(&cJSON.Candidate, cJSON.SDPMid, cJSON.SDPMLineIndex)
	})

	pc.OnConnectionStateChange(func(state pionwebrtc.PeerConnectionState) {
		s.logger.Infow("WebRTC connection state changed", "state", state, "session", s.id)
		switch state {
		case pionwebrtc.PeerConnectionStateFailed, pionwebrtc.PeerConnectionStateClosed:
			go s.Stop("rtc_" + strings.ToLower(state.String()))
		}
	})

	pc.OnTrack(func(track *pionwebrtc.TrackRemote, _ *pionwebrtc.RTPReceiver) {
		if track.Kind() != pionwebrtc.RTPCodecTypeAudio {
			return
		}
		s.logger.Infow("Remote audio track received",
			"session", s.id, "codec", track.Codec().MimeType)
		// Recognition starts with the first media, not with a control frame.
		if err := s.Start(); err != nil {
			s.logger.Errorw("Failed to start recognizer on audio",
				"session", s.id, "error", err)
			return
		}
		go s.readRemoteAudio(track)
	})

	return pc, nil
}

// AddCandidate applies one remote ICE candidate. An empty candidate string
// marks end-of-candidates.
func (s *Session) AddCandidate(init pionwebrtc.ICECandidateInit) error {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return errors.New("no peer connection, send rtc.offer first")
	}
	return pc.AddICECandidate(init)
}

// Start launches the recognition worker. Invoked when the remote audio
// track arrives; duplicate calls are ignored.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session is closed")
	}
	if s.worker == nil {
		return errors.New("no media chain, send rtc.offer first")
	}
	if s.started {
		return nil
	}
	s.started = true

	worker := s.worker
	go func() {
		defer close(s.workerDone)
		worker.Run(s.ctx)
	}()
	return nil
}

// ===== Audio ingest =====

// readRemoteAudio drains the remote track into the pipeline until the track
// ends or the error budget is spent.
func (s *Session) readRemoteAudio(track *pionwebrtc.TrackRemote) {
	buf := make([]byte, audio.RTPBufferSize)
	consecutiveErrors := 0

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			consecutiveErrors++
			if consecutiveErrors >= audio.MaxConsecutiveErrors {
				s.logger.Errorw("Too many consecutive track read errors, stopping audio reader",
					"session", s.id, "lastError", err)
				return
			}
			continue
		}
		consecutiveErrors = 0

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.logger.Debugw("Failed to unmarshal RTP packet", "error", err)
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		s.pipeline.HandleOpusPayload(pkt.Payload)
	}
}

// ===== Teardown =====

// Stop tears the session down in order: stop audio, drain the recognizer,
// flush the final Q/A set, persist the room transcript, publish the
// recording and confirm the close. Exactly one caller performs the work.
func (s *Session) Stop(reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	pc := s.pc
	pipeline := s.pipeline
	worker := s.worker
	queue := s.queue
	roomID := s.roomID
	s.mu.Unlock()

	s.logger.Infow("Stopping session", "session", s.id, "reason", reason)

	// Prefer a graceful drain: the end-of-audio sentinel lets the recognizer
	// flush trailing finals. Cancellation is the backstop.
	if started {
		if queue != nil {
			select {
			case queue <- nil:
			default:
				s.cancel()
			}
		}
		select {
		case <-s.workerDone:
		case <-time.After(drainTimeout):
			s.logger.Warnw("Recognizer drain timed out, cancelling", "session", s.id)
			s.cancel()
			<-s.workerDone
		}
	}
	s.cancel()
	if pipeline != nil {
		pipeline.Close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			s.logger.Warnw("Peer connection close failed", "session", s.id, "error", err)
		}
	}

	if worker != nil {
		pairs := worker.Pairs()
		if pairs == nil {
			pairs = []qa.Pair{}
		}
		s.emitter.QAPairs(pairs, true)
		s.persist(roomID, worker)
		s.publishRecording(pipeline)
	}

	s.emitter.SessionClose(reason)
	return nil
}

// persist writes this session's results over the room record. Skipped when
// no room was ever bound or nothing was recognized.
func (s *Session) persist(roomID string, worker *transcriber.Worker) {
	if roomID == "" || s.transcripts == nil {
		return
	}
	segments := worker.Segments()
	pairs := worker.Pairs()
	if len(segments) == 0 && len(pairs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.transcripts.Upsert(ctx, roomID, pairs, segments); err != nil {
		s.logger.Errorw("Failed to persist transcript",
			"session", s.id, "room", roomID, "error", err)
		return
	}
	s.logger.Infow("Transcript persisted",
		"session", s.id, "room", roomID, "segments", len(segments), "pairs", len(pairs))
}

// publishRecording announces where the captured WAV can be fetched. With an
// object store configured the file is uploaded and a presigned link is sent;
// otherwise the local static route serves it. Upload failures degrade to
// the local link.
func (s *Session) publishRecording(pipeline *audio.Pipeline) {
	if pipeline == nil || pipeline.RecordingSize() == 0 {
		return
	}
	localURL := "/recordings/" + s.id + ".wav"

	if s.objects == nil || !s.cfg.UploadRecordings {
		s.emitter.RecordingURL(localURL)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	key := "recordings/" + s.id + ".wav"
	if err := s.objects.UploadFile(ctx, key, pipeline.RecordingPath()); err != nil {
		s.logger.Warnw("Recording upload failed, serving local file",
			"session", s.id, "error", err)
		s.emitter.RecordingURL(localURL)
		return
	}

	expires := time.Duration(s.cfg.AWSPresignExpires) * time.Second
	url, err := s.objects.PresignGet(ctx, key, expires)
	if err != nil {
		s.logger.Warnw("Recording presign failed, serving local file",
			"session", s.id, "error", err)
		s.emitter.RecordingURL(localURL)
		return
	}
	s.emitter.RecordingURL(url)
}
