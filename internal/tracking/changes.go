package tracking

import (
	"time"

	"github.com/studyhub/locsync/pkg/core"
)

// ChangeKind names what happened to the subject map or the session.
type ChangeKind string

const (
	ChangeSubjectUpserted    ChangeKind = "subject_upserted"
	ChangeSubjectRemoved     ChangeKind = "subject_removed"
	ChangeDegradationRaised  ChangeKind = "degradation_raised"
	ChangeDegradationCleared ChangeKind = "degradation_cleared"
	ChangeSessionStarted     ChangeKind = "session_started"
	ChangeSessionStopped     ChangeKind = "session_stopped"
)

// Change is delivered to subscribers after each mutation.
type Change struct {
	Kind      ChangeKind           `json:"kind"`
	SubjectID string               `json:"subjectId,omitempty"`
	Subject   *core.TrackedSubject `json:"subject,omitempty"`
	Session   *core.SessionInfo    `json:"session,omitempty"`
	At        time.Time            `json:"at"`
}

const subscriberBuffer = 64

// Subscribe returns a channel of changes and a function that cancels the
// subscription. A subscriber that falls behind misses changes; the subject
// map stays the source of truth.
func (c *Controller) Subscribe() (<-chan Change, func()) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	ch := make(chan Change, subscriberBuffer)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextID
	c.nextID++
	c.subs[id] = ch

	return ch, func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

func (c *Controller) notify(change Change) {
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

func (c *Controller) notifySubject(s core.TrackedSubject) {
	c.notify(Change{Kind: ChangeSubjectUpserted, SubjectID: s.SubjectID, Subject: &s})
}

func (c *Controller) notifySession(kind ChangeKind, info core.SessionInfo) {
	c.notify(Change{Kind: kind, Session: &info})
}

// closeSubscribers ends every subscription.
func (c *Controller) closeSubscribers() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}
