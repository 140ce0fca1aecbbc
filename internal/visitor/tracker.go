// Package visitor keeps an in-memory history of invitation visitors keyed
// by a coarse fingerprint. History is bounded and lost on restart.
package visitor

import (
	"container/list"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// SessionGap separates sessions. Visits closer than this share a session
	// and count towards time spent.
	SessionGap = 30 * time.Minute

	// MaxVisits is the per-visitor history length.
	MaxVisits = 10

	DefaultMaxRecords = 50000

	fingerprintUALen = 100
)

// Kind classifies a visit for reporting.
type Kind string

const (
	KindNew                 Kind = "new"
	KindReturning           Kind = "returning"
	KindReturningNewSession Kind = "returning_new_session"
)

type Visit struct {
	Timestamp time.Time
	UserAgent string
	Section   string
	SessionID string
}

type Record struct {
	FirstVisit         time.Time
	LastVisit          time.Time
	VisitCount         int
	TotalTimeSpent     time.Duration
	AvgSessionDuration time.Duration
	Sections           map[string]int
	Visits             []Visit
}

// Snapshot is a copy of a Record taken right after a visit was recorded.
type Snapshot struct {
	Fingerprint string
	Record
	NewSession bool
	Returning  bool
	Kind       Kind
}

// Latest returns the visit that produced the snapshot.
func (s Snapshot) Latest() Visit {
	if len(s.Visits) == 0 {
		return Visit{}
	}
	return s.Visits[len(s.Visits)-1]
}

// Fingerprint joins the client IP with a user agent prefix.
func Fingerprint(ip, ua string) string {
	if len(ua) > fingerprintUALen {
		ua = ua[:fingerprintUALen]
	}
	return ip + "-" + ua
}

type entry struct {
	key string
	rec *Record
}

// Tracker records visits. The least recently seen visitor is evicted once
// maxRecords is reached.
type Tracker struct {
	mu         sync.Mutex
	records    map[string]*list.Element
	lru        *list.List // front is most recent
	maxRecords int
	now        func() time.Time
	newID      func() string
}

type Option func(*Tracker)

func WithMaxRecords(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxRecords = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		records:    make(map[string]*list.Element),
		lru:        list.New(),
		maxRecords: DefaultMaxRecords,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Track records one visit and returns the updated history.
func (t *Tracker) Track(fingerprint, ua, section string) Snapshot {
	if section == "" {
		section = "-"
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	el, ok := t.records[fingerprint]
	if !ok {
		if t.lru.Len() >= t.maxRecords {
			t.evictLocked()
		}
		rec := &Record{
			FirstVisit: now,
			LastVisit:  now,
			VisitCount: 1,
			Sections:   map[string]int{section: 1},
			Visits: []Visit{{
				Timestamp: now,
				UserAgent: ua,
				Section:   section,
				SessionID: t.newID(),
			}},
		}
		el = t.lru.PushFront(&entry{key: fingerprint, rec: rec})
		t.records[fingerprint] = el
		return snapshot(fingerprint, rec)
	}

	t.lru.MoveToFront(el)
	rec := el.Value.(*entry).rec

	gap := now.Sub(rec.LastVisit)
	rec.LastVisit = now
	rec.VisitCount++
	if gap < SessionGap {
		rec.TotalTimeSpent += gap
		rec.AvgSessionDuration = rec.TotalTimeSpent / time.Duration(rec.VisitCount-1)
	}
	rec.Sections[section]++

	if len(rec.Visits) >= MaxVisits {
		rec.Visits = append(rec.Visits[:0], rec.Visits[1:]...)
	}
	last := rec.Visits[len(rec.Visits)-1]
	sessionID := last.SessionID
	if now.Sub(last.Timestamp) > SessionGap {
		sessionID = t.newID()
	}
	rec.Visits = append(rec.Visits, Visit{
		Timestamp: now,
		UserAgent: ua,
		Section:   section,
		SessionID: sessionID,
	})
	return snapshot(fingerprint, rec)
}

func (t *Tracker) evictLocked() {
	back := t.lru.Back()
	if back == nil {
		return
	}
	t.lru.Remove(back)
	delete(t.records, back.Value.(*entry).key)
}

// Reset forgets every visitor.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]*list.Element)
	t.lru.Init()
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}

func snapshot(fingerprint string, rec *Record) Snapshot {
	cp := *rec
	cp.Sections = maps.Clone(rec.Sections)
	cp.Visits = append([]Visit(nil), rec.Visits...)

	s := Snapshot{Fingerprint: fingerprint, Record: cp}
	s.Returning = cp.VisitCount > 1
	if n := len(cp.Visits); n > 1 {
		s.NewSession = cp.Visits[n-1].SessionID != cp.Visits[n-2].SessionID
	} else {
		s.NewSession = true
	}
	switch {
	case s.NewSession && s.Returning:
		s.Kind = KindReturningNewSession
	case s.Returning:
		s.Kind = KindReturning
	default:
		s.Kind = KindNew
	}
	return s
}
