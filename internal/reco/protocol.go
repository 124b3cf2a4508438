// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package reco

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Envelope types.
const (
	MsgJob      = "job"
	MsgProgress = "progress"
	MsgResult   = "result"
	MsgError    = "error"
)

// JobsTopic is where the orchestrator posts the job for jobID.
func JobsTopic(jobID string) string { return "reco.jobs." + jobID }

// EventsTopic is where the worker for jobID reports back.
func EventsTopic(jobID string) string { return "reco.events." + jobID }

// Job is the single input message of a worker run.
type Job struct {
	JobID             string      `json:"jobId"`
	UserGames         []Snapshot  `json:"userGames"`
	Candidates        []Candidate `json:"candidates"`
	Now               int64       `json:"now"`
	CurrentHour       int         `json:"currentHour"`
	EmbeddingCoverage float64     `json:"embeddingCoverage"`
	DismissedGameIDs  []string    `json:"dismissedGameIds"`
	TasteCentroid     []float32   `json:"tasteCentroid,omitempty"`
}

// Progress reports how far a worker is.
type Progress struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
}

// WorkerResult is the terminal success message of a worker run.
type WorkerResult struct {
	TasteProfile  TasteProfile `json:"tasteProfile"`
	Shelves       []Shelf      `json:"shelves"`
	ComputeTimeMs int64        `json:"computeTimeMs"`
}

// Envelope is the wire format on both topics. Exactly one payload field is
// set, matching Type.
type Envelope struct {
	Type     string        `json:"type"`
	JobID    string        `json:"jobId"`
	Job      *Job          `json:"job,omitempty"`
	Progress *Progress     `json:"progress,omitempty"`
	Result   *WorkerResult `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ProgressFunc reports worker progress.
type ProgressFunc func(stage string, percent int)

// Handler scores one job inside the worker.
type Handler interface {
	Handle(ctx context.Context, job *Job, progress ProgressFunc) (*WorkerResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *Job, progress ProgressFunc) (*WorkerResult, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, job *Job, progress ProgressFunc) (*WorkerResult, error) {
	return f(ctx, job, progress)
}

// PubSub is the message transport between orchestrator and worker.
type PubSub interface {
	message.Publisher
	message.Subscriber
}

func publish(ps message.Publisher, topic string, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", env.Type, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("type", env.Type)
	msg.Metadata.Set("job_id", env.JobID)
	return ps.Publish(topic, msg)
}

func decodeEnvelope(msg *message.Message) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrDataCorrupt, err)
	}
	return &env, nil
}

// StartWorker subscribes a worker to the job topic of jobID and returns.
// The worker runs the first job it receives, then exits. It always ends with
// one result or error envelope, including when the handler panics. Cancelling
// ctx kills the worker.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func StartWorker(ctx context.Context, ps PubSub, jobID string, h Handler, logger zerolog.Logger) error {
	jobs, err := ps.Subscribe(ctx, JobsTopic(jobID))
	if err != nil {
		return fmt.Errorf("subscribe to jobs: %w", err)
	}
	log := logger.With().Str("component", "worker").Str("job_id", jobID).Logger()
	events := EventsTopic(jobID)

	go func() {
		var msg *message.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-jobs:
			if !ok {
				return
			}
			msg = m
		}
		msg.Ack()

		env, err := decodeEnvelope(msg)
		if err == nil && (env.Type != MsgJob || env.Job == nil) {
			err = fmt.Errorf("%w: expected job envelope, got %q", ErrDataCorrupt, env.Type)
		}
		if err != nil {
			sendTerminal(ps, events, &Envelope{Type: MsgError, JobID: jobID, Error: err.Error()}, log)
			return
		}

		progress := func(stage string, percent int) {
			if ctx.Err() != nil {
				return
			}
			p := &Envelope{Type: MsgProgress, JobID: jobID, Progress: &Progress{Stage: stage, Percent: percent}}
			if err := publish(ps, events, p); err != nil {
				log.Debug().Err(err).Msg("dropping progress message")
			}
		}

		res, err := runHandler(ctx, h, env.Job, progress)
		if err != nil {
			sendTerminal(ps, events, &Envelope{Type: MsgError, JobID: jobID, Error: err.Error()}, log)
			return
		}
		sendTerminal(ps, events, &Envelope{Type: MsgResult, JobID: jobID, Result: res}, log)
	}()
	return nil
}

func runHandler(ctx context.Context, h Handler, job *Job, progress ProgressFunc) (res *WorkerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	res, err = h.Handle(ctx, job, progress)
	if err == nil && res == nil {
		err = errors.New("worker returned no result")
	}
	return res, err
}

//nolint:gocritic // logger passed by value is acceptable for zerolog
func sendTerminal(ps message.Publisher, topic string, env *Envelope, log zerolog.Logger) {
	if err := publish(ps, topic, env); err != nil {
		log.Error().Err(err).Str("type", env.Type).Msg("failed to publish terminal message")
	}
}
