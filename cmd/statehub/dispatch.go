package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/alem-hub/academic-state-hub/internal/application/command"
	"github.com/alem-hub/academic-state-hub/internal/application/query"
	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
	"github.com/alem-hub/academic-state-hub/internal/domain/shared"
)

// maxLineSize bounds a single JSON command.
const maxLineSize = 4 << 20

var errPayloadRequired = errors.New("payload is required")

// Operations accepted on the command stream.
const (
	opOnboard  = "onboard"
	opUpdate   = "update"
	opDelta    = "delta"
	opSnapshot = "snapshot"
	opState    = "state"
	opHistory  = "history"
	opUpcoming = "upcoming_events"
	opTasks    = "active_tasks"
)

// request is one line of the command stream.
type request struct {
	ID      string          `json:"id,omitempty"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

// response is one line written back for every request.
type response struct {
	ID      string           `json:"id,omitempty"`
	Op      string           `json:"op"`
	Outcome academic.Outcome `json:"outcome"`
	Result  any              `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`

	// Retryable marks failures after which the same request may be sent again.
	Retryable bool `json:"retryable,omitempty"`
}

// lookup is the payload of every read op.
type lookup struct {
	LearnerID string `json:"learner_id"`
	Limit     int    `json:"limit,omitempty"`
	Days      int    `json:"days,omitempty"`
}

// dispatcher routes command-stream requests to the application handlers.
// Requests are handled one at a time, in arrival order.
type dispatcher struct {
	onboard      *command.OnboardStudentHandler
	submitUpdate *command.SubmitUpdateHandler
	applyDelta   *command.ApplyDeltaHandler
	snapshot     *query.GetSnapshotHandler
	history      *query.GetHistoryHandler
	agenda       *query.AgendaHandler

	historyLimit int
	logger       *slog.Logger

	// mu is held while a request is handled.
	mu      sync.Mutex
	stopped bool
}

// Serve reads requests from in until EOF or ctx is done and writes one
// response per request to out. Only read and write failures end the stream.
func (d *dispatcher) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return nil
		}
		err := enc.Encode(d.handleLine(ctx, []byte(line)))
		d.mu.Unlock()
		if err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read command: %w", err)
	}
	return nil
}

// Stop waits for the request being handled, if any, to be answered and
// makes Serve return before handling another one.
func (d *dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
}

func (d *dispatcher) handleLine(ctx context.Context, line []byte) response {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return response{
			Outcome: academic.OutcomeInvalid,
			Error:   fmt.Sprintf("malformed request: %v", err),
		}
	}

	correlationID := req.ID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := d.logger.With("op", req.Op, "correlation_id", correlationID)

	resp := d.handle(ctx, req, correlationID)
	resp.ID = req.ID
	resp.Op = req.Op

	switch resp.Outcome {
	case academic.OutcomeError:
		log.Error("command failed", "error", resp.Error)
	case academic.OutcomeAccepted:
		log.Debug("command handled")
	default:
		log.Info("command rejected", "outcome", resp.Outcome, "error", resp.Error)
	}
	return resp
}

func (d *dispatcher) handle(ctx context.Context, req request, correlationID string) response {
	switch req.Op {
	case opOnboard:
		var cmd command.OnboardStudentCommand
		if err := decodePayload(req.Payload, &cmd); err != nil {
			return invalid(err)
		}
		cmd.CorrelationID = correlationID
		res, err := d.onboard.Handle(ctx, cmd)
		if err != nil {
			return failed(err)
		}
		return response{Outcome: res.Outcome, Result: res, Error: res.Error}

	case opUpdate:
		if len(req.Payload) == 0 {
			return invalid(errPayloadRequired)
		}
		u, err := academic.DecodeUpdate(req.Payload)
		if err != nil {
			return invalid(err)
		}
		res, err := d.submitUpdate.Handle(ctx, command.SubmitUpdateCommand{
			ProfileID:     u.ProfileID,
			Sequence:      u.Sequence,
			Source:        u.Source,
			Changes:       u.Changes,
			CorrelationID: correlationID,
		})
		if err != nil {
			return failed(err)
		}
		return response{Outcome: res.Outcome, Result: res, Error: res.Error}

	case opDelta:
		if len(req.Payload) == 0 {
			return invalid(errPayloadRequired)
		}
		delta, err := academic.DecodeDelta(req.Payload)
		if err != nil {
			return invalid(err)
		}
		res, err := d.applyDelta.Handle(ctx, command.ApplyDeltaCommand{Delta: delta, CorrelationID: correlationID})
		if err != nil {
			return failed(err)
		}
		return response{Outcome: res.Outcome, Result: res, Error: res.Error}

	case opSnapshot, opState:
		var l lookup
		if err := decodePayload(req.Payload, &l); err != nil {
			return invalid(err)
		}
		dto, err := d.snapshot.Handle(ctx, query.GetSnapshotQuery{LearnerID: l.LearnerID, Full: req.Op == opState})
		return queryResponse(dto, err)

	case opHistory:
		var l lookup
		if err := decodePayload(req.Payload, &l); err != nil {
			return invalid(err)
		}
		if l.Limit == 0 {
			l.Limit = d.historyLimit
		}
		changes, err := d.history.Handle(ctx, query.GetHistoryQuery{LearnerID: l.LearnerID, Limit: l.Limit})
		return queryResponse(changes, err)

	case opUpcoming:
		var l lookup
		if err := decodePayload(req.Payload, &l); err != nil {
			return invalid(err)
		}
		events, err := d.agenda.UpcomingEvents(ctx, query.GetUpcomingEventsQuery{LearnerID: l.LearnerID, Days: l.Days})
		return queryResponse(events, err)

	case opTasks:
		var l lookup
		if err := decodePayload(req.Payload, &l); err != nil {
			return invalid(err)
		}
		tasks, err := d.agenda.ActiveTasks(ctx, query.GetActiveTasksQuery{LearnerID: l.LearnerID})
		return queryResponse(tasks, err)

	default:
		return invalid(fmt.Errorf("unknown op %q", req.Op))
	}
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errPayloadRequired
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}

func queryResponse(result any, err error) response {
	if err != nil {
		if outcome := academic.Classify(err); outcome != academic.OutcomeError {
			return response{Outcome: outcome, Error: err.Error()}
		}
		return failed(err)
	}
	return response{Outcome: academic.OutcomeAccepted, Result: result}
}

func invalid(err error) response {
	return response{Outcome: academic.OutcomeInvalid, Error: err.Error()}
}

func failed(err error) response {
	return response{Outcome: academic.OutcomeError, Error: err.Error(), Retryable: shared.IsRetryable(err)}
}
