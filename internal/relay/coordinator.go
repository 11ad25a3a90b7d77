package relay

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jmverd/switchboard/internal/brain"
	"github.com/jmverd/switchboard/internal/call"
	"github.com/jmverd/switchboard/internal/history"
	"github.com/jmverd/switchboard/internal/observability"
	"github.com/jmverd/switchboard/internal/policy"
	"github.com/jmverd/switchboard/internal/protocol"
	"github.com/jmverd/switchboard/internal/registry"
)

// Options holds the coordinator tunables.
type Options struct {
	// TranscribeEvery is the batching threshold: a transcription attempt
	// is triggered once every N ingested fragments.
	TranscribeEvery int

	TranscribeTimeout time.Duration
	RespondTimeout    time.Duration
	SummarizeTimeout  time.Duration
	NotifyTimeout     time.Duration
}

func (o *Options) applyDefaults() {
	if o.TranscribeEvery <= 0 {
		o.TranscribeEvery = 20
	}
	if o.TranscribeTimeout <= 0 {
		o.TranscribeTimeout = 10 * time.Second
	}
	if o.RespondTimeout <= 0 {
		o.RespondTimeout = 10 * time.Second
	}
	if o.SummarizeTimeout <= 0 {
		o.SummarizeTimeout = 20 * time.Second
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = 5 * time.Second
	}
}

// Coordinator routes inbound transport messages to the call session store,
// the audio ingest path and the observer fan-out, and drives the AI triage
// pipeline. All per-call work flows through serialized per-call queues so a
// single call's messages are applied in arrival order while independent
// calls proceed in parallel.
type Coordinator struct {
	reg      *registry.Registry
	store    *call.Store
	fanout   *Fanout
	provider brain.Provider
	notifier brain.Notifier
	sink     history.Sink
	decider  policy.ForwardDecider
	metrics  *observability.Metrics

	opts Options

	// ingest serializes register/status/audio/transcript-merge per call.
	// respond serializes response generation per call so deltas keep
	// their conversational order without blocking ingestion.
	ingest  *keyedQueue
	respond *keyedQueue

	baseCtx context.Context
}

func NewCoordinator(
	reg *registry.Registry,
	store *call.Store,
	provider brain.Provider,
	notifier brain.Notifier,
	sink history.Sink,
	decider policy.ForwardDecider,
	metrics *observability.Metrics,
	opts Options,
) *Coordinator {
	opts.applyDefaults()
	if decider == nil {
		decider = policy.NewKeywordDecider(nil)
	}

	c := &Coordinator{
		reg:      reg,
		store:    store,
		fanout:   NewFanout(reg, metrics),
		provider: provider,
		notifier: notifier,
		sink:     sink,
		decider:  decider,
		metrics:  metrics,
		opts:     opts,
		ingest:   newKeyedQueue(),
		respond:  newKeyedQueue(),
		baseCtx:  context.Background(),
	}

	store.SetUpdateHook(c.onSessionUpdate)
	reg.SetUnregisterHook(func(id string) {
		c.fanout.PruneConnection(id)
		metrics.ActiveConnections.Set(float64(reg.Count()))
	})
	reg.SetSendFailureHook(func(id string) {
		metrics.DeliveryFailures.WithLabelValues("transport_write").Inc()
	})

	return c
}

// Start binds the coordinator's background work (capability calls, finalize)
// to ctx so shutdown cancels anything in flight.
func (c *Coordinator) Start(ctx context.Context) {
	c.baseCtx = ctx
}

func (c *Coordinator) Fanout() *Fanout { return c.fanout }

// HandleMessage dispatches one parsed inbound message from connID. Replies
// go back through the registry; a dead reply path is never an error.
func (c *Coordinator) HandleMessage(connID string, msg any) {
	c.reg.Touch(connID)

	switch m := msg.(type) {
	case protocol.CallRegister:
		c.ingest.Do(m.CallID, func() { c.handleRegister(connID, m) })
	case protocol.CallStatus:
		c.ingest.Do(m.CallID, func() { c.handleStatus(connID, m) })
	case protocol.CallAudio:
		c.ingest.Do(m.CallID, func() { c.handleAudio(connID, m) })
	case protocol.CallObserve:
		c.fanout.Subscribe(m.CallID, connID)
		c.reg.Send(connID, protocol.Ack{Type: protocol.TypeAck, Ref: protocol.TypeCallObserve, CallID: m.CallID})
	case protocol.DeviceInfo:
		c.reg.UpdateMetadata(connID, m.Metadata)
		c.reg.Send(connID, protocol.Ack{Type: protocol.TypeAck, Ref: protocol.TypeDeviceInfo})
	default:
		c.metrics.RouterErrors.WithLabelValues("unhandled_type").Inc()
		log.Printf("relay: unhandled message %T from %s", msg, connID)
		c.reg.Send(connID, protocol.ErrorReply{
			Type:   protocol.TypeErrorReply,
			Code:   "unhandled_type",
			Detail: "message type not handled",
		})
	}
}

func (c *Coordinator) handleRegister(connID string, m protocol.CallRegister) {
	sess, err := c.store.Register(m.CallID, m.PhoneNumber, m.DeviceID, m.IsIncoming)
	if err != nil {
		code := "register_failed"
		if errors.Is(err, call.ErrDuplicate) {
			code = "duplicate_call"
		}
		c.metrics.RouterErrors.WithLabelValues(code).Inc()
		c.reg.Send(connID, protocol.ErrorReply{
			Type:   protocol.TypeErrorReply,
			Code:   code,
			CallID: m.CallID,
			Detail: err.Error(),
		})
		return
	}

	c.metrics.CallEvents.WithLabelValues("registered").Inc()
	c.reg.Send(connID, protocol.Ack{Type: protocol.TypeAck, Ref: protocol.TypeCallRegister, CallID: m.CallID})

	if c.notifier != nil && c.decider.NotifyOnRegister(sess) {
		direction := "outgoing"
		if sess.Incoming {
			direction = "incoming"
		}
		c.notifyAsync(direction + " call from " + sess.PhoneNumber)
	}
}

func (c *Coordinator) handleStatus(connID string, m protocol.CallStatus) {
	status, ok := call.ParseStatus(m.Status)
	if !ok {
		c.metrics.RouterErrors.WithLabelValues("invalid_status").Inc()
		c.reg.Send(connID, protocol.ErrorReply{
			Type:   protocol.TypeErrorReply,
			Code:   "invalid_status",
			CallID: m.CallID,
			Detail: "unknown status value " + m.Status,
		})
		return
	}

	sess, err := c.store.UpdateStatus(m.CallID, status)
	if err != nil {
		code := "status_failed"
		var ite *call.InvalidTransitionError
		switch {
		case errors.Is(err, call.ErrNotFound):
			code = "call_not_found"
		case errors.As(err, &ite):
			code = "invalid_transition"
		}
		c.metrics.RouterErrors.WithLabelValues(code).Inc()
		c.reg.Send(connID, protocol.ErrorReply{
			Type:   protocol.TypeErrorReply,
			Code:   code,
			CallID: m.CallID,
			Detail: err.Error(),
		})
		return
	}

	c.metrics.CallEvents.WithLabelValues("status_"+string(status)).Inc()
	c.reg.Send(connID, protocol.Ack{Type: protocol.TypeAck, Ref: protocol.TypeCallStatus, CallID: m.CallID})

	if sess.Terminal() && c.store.BeginFinalize(m.CallID) {
		go c.finalize(sess)
	}
}

func (c *Coordinator) handleAudio(connID string, m protocol.CallAudio) {
	count, err := c.store.AppendAudio(m.CallID, m.Decoded)
	if err != nil {
		c.metrics.RouterErrors.WithLabelValues("call_not_found").Inc()
		c.reg.Send(connID, protocol.ErrorReply{
			Type:   protocol.TypeErrorReply,
			Code:   "call_not_found",
			CallID: m.CallID,
			Detail: err.Error(),
		})
		return
	}

	if count%c.opts.TranscribeEvery == 0 {
		c.maybeTranscribe(m.CallID)
	}
}

// maybeTranscribe launches one transcription attempt for the call unless a
// previous attempt is still outstanding; in that case the trigger is
// dropped, not queued.
func (c *Coordinator) maybeTranscribe(callID string) {
	ok, err := c.store.TryBeginTranscribe(callID)
	if err != nil {
		return
	}
	if !ok {
		c.metrics.TranscribeAttempts.WithLabelValues("skipped_outstanding").Inc()
		return
	}

	sess, err := c.store.Get(callID)
	if err != nil {
		c.store.EndTranscribe(callID)
		return
	}
	audio, err := c.store.AudioSnapshot(callID)
	if err != nil || len(audio) == 0 {
		c.store.EndTranscribe(callID)
		return
	}

	go func() {
		defer c.store.EndTranscribe(callID)
		delta, ok := c.transcribe(sess, audio)
		if !ok || delta == "" {
			return
		}
		// Merge the delta back through the ingest queue so it lands in
		// arrival order relative to the fragments that produced it.
		c.ingest.Do(callID, func() { c.applyTranscriptDelta(callID, delta) })
	}()
}

func (c *Coordinator) transcribe(sess call.Session, audio []byte) (string, bool) {
	ctx, cancel := context.WithTimeout(c.baseCtx, c.opts.TranscribeTimeout)
	defer cancel()

	start := time.Now()
	delta, err := c.provider.Transcribe(ctx, audio, c.callContext(sess))
	c.metrics.ObserveTranscribeLatency(time.Since(start))
	if err != nil {
		c.observeCapabilityError("transcribe", err)
		c.metrics.TranscribeAttempts.WithLabelValues("failed").Inc()
		return "", false
	}
	c.metrics.TranscribeAttempts.WithLabelValues("ok").Inc()
	return delta, true
}

func (c *Coordinator) applyTranscriptDelta(callID, delta string) {
	sess, err := c.store.AppendTranscript(callID, delta)
	if err != nil {
		// Call expired while the transcription was in flight.
		return
	}

	now := time.Now().UnixMilli()
	transcriptMsg := protocol.CallTranscript{
		Type:       protocol.TypeCallTranscript,
		CallID:     callID,
		Transcript: delta,
		IsFinal:    sess.Terminal(),
		Timestamp:  now,
	}
	c.fanout.Publish(callID, KindTranscriptDelta, transcriptMsg)

	// The device gets the live transcript too, as an AI-response frame.
	c.reg.Send(sess.DeviceID, protocol.CallAIResponse{
		Type:         protocol.TypeCallAIResponse,
		CallID:       callID,
		ResponseType: "transcription",
		Text:         delta,
	})

	// The final flush after the call ends still reaches observers above,
	// but there is nobody left to talk to.
	if sess.Terminal() {
		return
	}
	c.respond.Do(callID, func() { c.generateResponse(sess, delta) })
}

// generateResponse runs inside the per-call response lane: deltas for one
// call are answered in arrival order, deltas for different calls in
// parallel.
func (c *Coordinator) generateResponse(sess call.Session, delta string) {
	ctx, cancel := context.WithTimeout(c.baseCtx, c.opts.RespondTimeout)
	defer cancel()

	resp, err := c.provider.Respond(ctx, delta, c.callContext(sess))
	if err != nil {
		c.observeCapabilityError("respond", err)
		return
	}
	if resp.Action != brain.ActionSpeak && resp.Action != brain.ActionEndCall {
		return
	}

	msg := protocol.CallAIResponse{
		Type:         protocol.TypeCallAIResponse,
		CallID:       sess.CallID,
		ResponseType: resp.Action,
		Text:         resp.Text,
	}
	if !c.reg.Send(sess.DeviceID, msg) {
		// Device gone mid-call; observers still see the response.
		c.metrics.DeliveryFailures.WithLabelValues("device_gone").Inc()
	}
	c.fanout.Publish(sess.CallID, KindAIResponse, msg)
}

// finalize runs exactly once per call, at the ended transition. It flushes
// any untranscribed audio, produces the summary, and hands the metadata to
// the history sink. None of its failures alter call state.
func (c *Coordinator) finalize(sess call.Session) {
	c.metrics.CallEvents.WithLabelValues("finalize").Inc()

	if audio, err := c.store.AudioSnapshot(sess.CallID); err == nil && len(audio) > 0 {
		if ok, _ := c.store.TryBeginTranscribe(sess.CallID); ok {
			if delta, ok := c.transcribe(sess, audio); ok && delta != "" {
				c.applyTranscriptDelta(sess.CallID, delta)
			}
			c.store.EndTranscribe(sess.CallID)
		}
	}

	final, err := c.store.Get(sess.CallID)
	if err != nil {
		return
	}

	summary := ""
	if transcript := final.FullTranscript(); transcript != "" {
		ctx, cancel := context.WithTimeout(c.baseCtx, c.opts.SummarizeTimeout)
		summary, err = c.provider.Summarize(ctx, transcript, c.callContext(final))
		cancel()
		if err != nil {
			c.observeCapabilityError("summarize", err)
			summary = ""
		}
	}

	if summary != "" {
		if updated, err := c.store.SetSummary(final.CallID, summary); err == nil {
			final = updated
		}
		c.fanout.Publish(final.CallID, KindSummary, protocol.CallSummary{
			Type:      protocol.TypeCallSummary,
			CallID:    final.CallID,
			Summary:   summary,
			Timestamp: time.Now().UnixMilli(),
		})
	}

	if c.sink != nil {
		ctx, cancel := context.WithTimeout(c.baseCtx, c.opts.SummarizeTimeout)
		err := c.sink.SaveCall(ctx, history.Record{
			CallID:          final.CallID,
			PhoneNumber:     final.PhoneNumber,
			DeviceID:        final.DeviceID,
			Incoming:        final.Incoming,
			StartedAt:       final.StartedAt,
			EndedAt:         final.EndedAt,
			DurationSeconds: final.DurationSeconds,
			Transcript:      final.FullTranscript(),
			Summary:         final.Summary,
		})
		cancel()
		if err != nil {
			log.Printf("relay: history sink save failed for %s: %v", final.CallID, err)
		}
	}

	if c.notifier != nil && c.decider.NotifyOnSummary(final) {
		text := "call with " + final.PhoneNumber + " ended"
		if final.Summary != "" {
			text += ": " + final.Summary
		}
		c.notifyAsync(text)
	}
}

// onSessionUpdate is the store hook: every register/status/summary change
// becomes a call_update. New calls are announced to every connection;
// later changes go to that call's observers only.
func (c *Coordinator) onSessionUpdate(sess call.Session) {
	c.metrics.ActiveCalls.Set(float64(c.store.ActiveCount()))

	msg := protocol.CallUpdate{
		Type:   protocol.TypeCallUpdate,
		CallID: sess.CallID,
		Call:   ViewOf(sess),
	}
	if sess.Status == call.StatusRinging {
		success, failure := c.reg.Broadcast(msg)
		c.metrics.FanoutDeliveries.WithLabelValues(KindSessionUpdate, "delivered").Add(float64(success))
		if failure > 0 {
			c.metrics.FanoutDeliveries.WithLabelValues(KindSessionUpdate, "skipped").Add(float64(failure))
		}
		return
	}
	c.fanout.Publish(sess.CallID, KindSessionUpdate, msg)
}

func (c *Coordinator) notifyAsync(text string) {
	go func() {
		ctx, cancel := context.WithTimeout(c.baseCtx, c.opts.NotifyTimeout)
		defer cancel()
		if err := c.notifier.Notify(ctx, text); err != nil {
			c.observeCapabilityError("notify", err)
		}
	}()
}

func (c *Coordinator) observeCapabilityError(op string, err error) {
	code := "error"
	var capErr *brain.CapabilityError
	if errors.As(err, &capErr) {
		code = capErr.Code
	} else if errors.Is(err, context.DeadlineExceeded) {
		code = "timeout"
	}
	c.metrics.CapabilityErrors.WithLabelValues(op, code).Inc()
	log.Printf("relay: %s capability failed (%s): %v", op, code, err)
}

func (c *Coordinator) callContext(sess call.Session) brain.CallContext {
	return brain.CallContext{
		CallID:      sess.CallID,
		PhoneNumber: sess.PhoneNumber,
		Incoming:    sess.Incoming,
		InProgress:  !sess.Terminal(),
	}
}

// ViewOf builds the client-facing session snapshot; the transcript is
// deliberately left out of call_update frames.
func ViewOf(sess call.Session) protocol.CallView {
	v := protocol.CallView{
		CallID:          sess.CallID,
		PhoneNumber:     sess.PhoneNumber,
		DeviceID:        sess.DeviceID,
		IsIncoming:      sess.Incoming,
		Status:          string(sess.Status),
		StartedAt:       sess.StartedAt.UnixMilli(),
		DurationSeconds: sess.DurationSeconds,
		Summary:         sess.Summary,
	}
	if !sess.AnsweredAt.IsZero() {
		v.AnsweredAt = sess.AnsweredAt.UnixMilli()
	}
	if !sess.EndedAt.IsZero() {
		v.EndedAt = sess.EndedAt.UnixMilli()
	}
	return v
}
