// Package event defines the immutable, timestamped record variants the
// Event Bus fans out to subscribers.
package event

import (
	"time"

	"github.com/forgefleet/orchestrator/internal/domain/keypool"
	"github.com/forgefleet/orchestrator/internal/domain/runtime"
	"github.com/forgefleet/orchestrator/internal/domain/schedule"
	"github.com/forgefleet/orchestrator/internal/domain/subject"
)

// Kind discriminates the Event variant.
type Kind string

const (
	KindSubjectsSnapshot    Kind = "subjects_snapshot"
	KindKeyPoolsSnapshot    Kind = "keypools_snapshot"
	KindSchedulesSnapshot   Kind = "schedules_snapshot"
	KindSettingsSnapshot    Kind = "settings_snapshot"
	KindSubjectStateChanged Kind = "subject_state_changed"
	KindLogLine             Kind = "log_line"
	KindEvicted             Kind = "evicted" // distinguished marker for slow-subscriber eviction
)

// SubjectRuntime pairs a Subject name with its current RuntimeState, the
// shape the SubjectsSnapshot and SubjectStateChanged variants carry.
type SubjectRuntime struct {
	Name    string
	State   runtime.RuntimeState
	Subject *subject.Subject // present only when the full record changed
}

// Attachment is an optional binary/text payload riding along a LogLine.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Event is an immutable record timestamped at publication. Exactly one of
// the payload fields is meaningful, selected by Kind.
type Event struct {
	Kind      Kind
	At        time.Time
	Sequence  uint64

	// KindSubjectsSnapshot / KindSubjectStateChanged
	Subjects []SubjectRuntime

	// KindKeyPoolsSnapshot
	KeyPools []keypool.Pool

	// KindSchedulesSnapshot
	Schedules []schedule.Schedule

	// KindSettingsSnapshot
	Settings map[string]string

	// KindLogLine
	Source     string
	Content    string
	Color      string
	Attachment *Attachment
}

// SubjectStateChanged builds a single-subject state-change event.
func SubjectStateChanged(name string, rs runtime.RuntimeState, full *subject.Subject) Event {
	return Event{
		Kind: KindSubjectStateChanged,
		Subjects: []SubjectRuntime{{
			Name:    name,
			State:   rs,
			Subject: full,
		}},
	}
}

// Log builds a LogLine event.
func Log(source, content, color string, attachment *Attachment) Event {
	return Event{
		Kind:       KindLogLine,
		Source:     source,
		Content:    content,
		Color:      color,
		Attachment: attachment,
	}
}
