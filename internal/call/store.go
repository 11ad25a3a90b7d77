package call

import (
	"context"
	"sync"
	"time"
)

// Store owns every active call session. The outer mutex guards only the map;
// each session carries its own lock, so operations on different calls do not
// contend.
type Store struct {
	mu    sync.RWMutex
	calls map[string]*callState

	audioRetention time.Duration
	callRetention  time.Duration

	onUpdate func(Session)

	now func() time.Time
}

type callState struct {
	mu           sync.Mutex
	sess         Session
	audio        [][]byte
	fragments    int
	transcribing bool
	finalized    bool
}

func NewStore(audioRetention, callRetention time.Duration) *Store {
	if audioRetention <= 0 {
		audioRetention = 60 * time.Second
	}
	if callRetention < audioRetention {
		callRetention = audioRetention
	}
	return &Store{
		calls:          make(map[string]*callState),
		audioRetention: audioRetention,
		callRetention:  callRetention,
		now:            time.Now,
	}
}

// SetUpdateHook installs a callback invoked with a session snapshot after
// every register, status change, and summary write. It runs outside all
// store locks.
func (s *Store) SetUpdateHook(hook func(Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = hook
}

// Register creates a new session in the ringing state. The call id must be
// unique among active calls.
func (s *Store) Register(callID, phoneNumber, deviceID string, incoming bool) (Session, error) {
	now := s.now().UTC()
	st := &callState{
		sess: Session{
			CallID:      callID,
			PhoneNumber: phoneNumber,
			DeviceID:    deviceID,
			Incoming:    incoming,
			Status:      StatusRinging,
			StartedAt:   now,
		},
	}

	s.mu.Lock()
	if _, exists := s.calls[callID]; exists {
		s.mu.Unlock()
		return Session{}, ErrDuplicate
	}
	s.calls[callID] = st
	hook := s.onUpdate
	s.mu.Unlock()

	out := cloneSession(st.sess)
	if hook != nil {
		hook(out)
	}
	return out, nil
}

// UpdateStatus applies a status transition. At the ended transition the call
// duration is fixed; further transitions are rejected.
func (s *Store) UpdateStatus(callID string, to Status) (Session, error) {
	st, hook, err := s.lookup(callID)
	if err != nil {
		return Session{}, err
	}

	st.mu.Lock()
	from := st.sess.Status
	if !legalNext(from, to) {
		st.mu.Unlock()
		return Session{}, &InvalidTransitionError{CallID: callID, From: from, To: to}
	}
	now := s.now().UTC()
	st.sess.Status = to
	switch to {
	case StatusAnswered:
		st.sess.AnsweredAt = now
	case StatusEnded:
		st.sess.EndedAt = now
		anchor := st.sess.StartedAt
		if !st.sess.AnsweredAt.IsZero() {
			anchor = st.sess.AnsweredAt
		}
		st.sess.DurationSeconds = int(now.Sub(anchor).Seconds())
	}
	out := cloneSession(st.sess)
	st.mu.Unlock()

	if hook != nil {
		hook(out)
	}
	return out, nil
}

func (s *Store) Get(callID string) (Session, error) {
	st, _, err := s.lookup(callID)
	if err != nil {
		return Session{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return cloneSession(st.sess), nil
}

// ListActive returns every session still retained, including recently ended
// ones that have not yet expired.
func (s *Store) ListActive() []Session {
	s.mu.RLock()
	states := make([]*callState, 0, len(s.calls))
	for _, st := range s.calls {
		states = append(states, st)
	}
	s.mu.RUnlock()

	out := make([]Session, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, cloneSession(st.sess))
		st.mu.Unlock()
	}
	return out
}

// ActiveCount reports the number of non-terminal sessions.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	states := make([]*callState, 0, len(s.calls))
	for _, st := range s.calls {
		states = append(states, st)
	}
	s.mu.RUnlock()

	count := 0
	for _, st := range states {
		st.mu.Lock()
		if st.sess.Status != StatusEnded {
			count++
		}
		st.mu.Unlock()
	}
	return count
}

// AppendAudio appends one decoded audio fragment in arrival order and
// returns the total fragment count for batching decisions.
func (s *Store) AppendAudio(callID string, fragment []byte) (int, error) {
	st, _, err := s.lookup(callID)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	buf := make([]byte, len(fragment))
	copy(buf, fragment)
	st.audio = append(st.audio, buf)
	st.fragments++
	return st.fragments, nil
}

// AudioSnapshot returns a concatenated copy of the buffered audio, safe to
// hand to a transcription call without holding any store lock.
func (s *Store) AudioSnapshot(callID string) ([]byte, error) {
	st, _, err := s.lookup(callID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	total := 0
	for _, f := range st.audio {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range st.audio {
		out = append(out, f...)
	}
	return out, nil
}

// TryBeginTranscribe claims the per-call transcription slot. It returns
// false while a previous attempt is still outstanding; callers skip rather
// than queue.
func (s *Store) TryBeginTranscribe(callID string) (bool, error) {
	st, _, err := s.lookup(callID)
	if err != nil {
		return false, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.transcribing {
		return false, nil
	}
	st.transcribing = true
	return true, nil
}

// EndTranscribe releases the per-call transcription slot.
func (s *Store) EndTranscribe(callID string) {
	st, _, err := s.lookup(callID)
	if err != nil {
		return
	}
	st.mu.Lock()
	st.transcribing = false
	st.mu.Unlock()
}

// AppendTranscript appends a transcript delta in arrival order.
func (s *Store) AppendTranscript(callID, delta string) (Session, error) {
	st, _, err := s.lookup(callID)
	if err != nil {
		return Session{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sess.Transcript = append(st.sess.Transcript, delta)
	return cloneSession(st.sess), nil
}

// BeginFinalize consumes the one-shot finalize guard. Only the first caller
// per call ever sees true, no matter how many duplicate ended updates race.
func (s *Store) BeginFinalize(callID string) bool {
	st, _, err := s.lookup(callID)
	if err != nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.finalized {
		return false
	}
	st.finalized = true
	return true
}

// SetSummary stores the post-call summary.
func (s *Store) SetSummary(callID, summary string) (Session, error) {
	st, hook, err := s.lookup(callID)
	if err != nil {
		return Session{}, err
	}
	st.mu.Lock()
	st.sess.Summary = summary
	out := cloneSession(st.sess)
	st.mu.Unlock()

	if hook != nil {
		hook(out)
	}
	return out, nil
}

// Cleanup drops audio for calls ended longer than the audio retention window
// and removes sessions past the call retention window. Metadata outlives
// audio; audio never outlives the grace period.
func (s *Store) Cleanup() (audioCleared, removed int) {
	now := s.now().UTC()

	s.mu.Lock()
	type candidate struct {
		id string
		st *callState
	}
	candidates := make([]candidate, 0, len(s.calls))
	for id, st := range s.calls {
		candidates = append(candidates, candidate{id: id, st: st})
	}
	s.mu.Unlock()

	var expired []string
	for _, c := range candidates {
		c.st.mu.Lock()
		if c.st.sess.Status == StatusEnded && !c.st.sess.EndedAt.IsZero() {
			age := now.Sub(c.st.sess.EndedAt)
			if age >= s.audioRetention && c.st.audio != nil {
				c.st.audio = nil
				audioCleared++
			}
			if age >= s.callRetention {
				expired = append(expired, c.id)
			}
		}
		c.st.mu.Unlock()
	}

	if len(expired) > 0 {
		s.mu.Lock()
		for _, id := range expired {
			if _, ok := s.calls[id]; ok {
				delete(s.calls, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return audioCleared, removed
}

// StartJanitor runs periodic cleanup until ctx is cancelled.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

func (s *Store) lookup(callID string) (*callState, func(Session), error) {
	s.mu.RLock()
	st, ok := s.calls[callID]
	hook := s.onUpdate
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrNotFound
	}
	return st, hook, nil
}

func cloneSession(sess Session) Session {
	out := sess
	if sess.Transcript != nil {
		out.Transcript = append([]string(nil), sess.Transcript...)
	}
	return out
}
