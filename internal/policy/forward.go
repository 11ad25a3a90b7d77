package policy

import (
	"strings"

	"github.com/jmverd/switchboard/internal/call"
)

// ForwardDecider decides whether a call event is worth pushing to the
// operator chat channel. The heuristic is deliberately pluggable; the
// default below is a conservative keyword/threshold rule.
type ForwardDecider interface {
	NotifyOnRegister(sess call.Session) bool
	NotifyOnSummary(sess call.Session) bool
}

// KeywordDecider forwards all incoming-call registrations, and summaries
// that either run past a minimum duration or match a watched keyword.
type KeywordDecider struct {
	Keywords           []string
	MinDurationSeconds int
}

func NewKeywordDecider(keywords []string) *KeywordDecider {
	kws := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			kws = append(kws, kw)
		}
	}
	return &KeywordDecider{
		Keywords:           kws,
		MinDurationSeconds: 30,
	}
}

func (d *KeywordDecider) NotifyOnRegister(sess call.Session) bool {
	return sess.Incoming
}

func (d *KeywordDecider) NotifyOnSummary(sess call.Session) bool {
	if sess.DurationSeconds >= d.MinDurationSeconds {
		return true
	}
	haystack := strings.ToLower(sess.Summary + "\n" + sess.FullTranscript())
	for _, kw := range d.Keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// ForwardAll is used in tests and debug setups.
type ForwardAll struct{}

func (ForwardAll) NotifyOnRegister(call.Session) bool { return true }
func (ForwardAll) NotifyOnSummary(call.Session) bool  { return true }
