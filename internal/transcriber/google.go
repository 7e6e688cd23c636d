// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transcriber

import (
	"context"
	"fmt"
	"io"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rapidaai/stt-gateway/internal/channel"
	"github.com/rapidaai/stt-gateway/pkg/commons"
)

// googleRecognizer streams audio to Google Cloud Speech-to-Text v1 and
// translates streaming responses into recognizer events.
type googleRecognizer struct {
	logger commons.Logger

	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	events chan Event
}

// NewGoogleRecognizer builds an unopened Google streaming recognizer.
func NewGoogleRecognizer(logger commons.Logger) StreamingRecognizer {
	return &googleRecognizer{
		logger: logger,
		events: make(chan Event, 32),
	}
}

// Open dials the Speech API, sends the stream configuration and starts the
// receive loop. Credential problems surface as a GOOGLE_AUTH_MISSING error.
func (g *googleRecognizer) Open(ctx context.Context, cfg Config) error {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return classifyOpenError(err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return classifyOpenError(err)
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(cfg.SampleRate),
		AudioChannelCount:          1,
		LanguageCode:               cfg.Language,
		EnableAutomaticPunctuation: cfg.EnablePunctuation,
		EnableWordTimeOffsets:      true,
		UseEnhanced:                cfg.UseEnhanced,
		Model:                      cfg.Model,
	}
	if cfg.EnableDiarization {
		recognitionConfig.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          int32(cfg.MinSpeakers),
			MaxSpeakerCount:          int32(cfg.MaxSpeakers),
		}
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:          recognitionConfig,
				InterimResults:  true,
				SingleUtterance: false,
			},
		},
	}); err != nil {
		client.Close()
		return fmt.Errorf("failed to send recognition config: %w", err)
	}

	g.client = client
	g.stream = stream
	go g.receive()
	return nil
}

// Send pushes one chunk of S16LE audio into the stream.
func (g *googleRecognizer) Send(audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	return g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// CloseSend signals end of audio; the receive loop drains remaining results.
func (g *googleRecognizer) CloseSend() error {
	if g.stream == nil {
		return nil
	}
	return g.stream.CloseSend()
}

func (g *googleRecognizer) Events() <-chan Event {
	return g.events
}

// Close releases the API client. The receive loop owns the events channel.
func (g *googleRecognizer) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *googleRecognizer) receive() {
	defer close(g.events)
	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == codes.Canceled {
				return
			}
			g.events <- Failure{Code: channel.CodeUpstreamFail, Message: err.Error()}
			return
		}
		if resp.Error != nil {
			g.events <- Failure{
				Code:    channel.CodeUpstreamFail,
				Message: resp.Error.GetMessage(),
			}
			return
		}
		for _, result := range resp.Results {
			g.emitResult(result)
		}
	}
}

func (g *googleRecognizer) emitResult(result *speechpb.StreamingRecognitionResult) {
	if len(result.Alternatives) == 0 {
		return
	}
	alt := result.Alternatives[0]
	if !result.IsFinal {
		g.events <- Interim{Text: alt.Transcript}
		return
	}

	words := make([]Word, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, Word{
			Text:    w.Word,
			Start:   w.StartTime.AsDuration().Seconds(),
			End:     w.EndTime.AsDuration().Seconds(),
			Speaker: int(w.SpeakerTag),
		})
	}
	g.events <- Final{
		Transcript: alt.Transcript,
		Words:      words,
		ResultEnd:  result.ResultEndTime.AsDuration().Seconds(),
	}
}

// classifyOpenError maps client construction failures to wire error codes.
// Missing or unreadable credentials are the dominant failure in fresh
// deployments and get their own code so the frontend can explain it.
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "credential") || strings.Contains(msg, "could not find default") {
		return &OpenError{Code: channel.CodeGoogleAuthMissing, Err: err}
	}
	return &OpenError{Code: channel.CodeUpstreamFail, Err: err}
}

// OpenError pairs a recognizer startup failure with the wire code to report.
type OpenError struct {
	Code string
	Err  error
}

func (e *OpenError) Error() string {
	return e.Err.Error()
}

func (e *OpenError) Unwrap() error {
	return e.Err
}
