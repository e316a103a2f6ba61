package httpapi

import (
	"time"

	"github.com/forgefleet/orchestrator/internal/domain/runtime"
	"github.com/forgefleet/orchestrator/internal/domain/subject"
)

// subjectView is the wire shape for one Subject plus its current
// RuntimeState, the pairing every list/detail/snapshot endpoint returns.
type subjectView struct {
	Name            string                  `json:"name"`
	Group           string                  `json:"group"`
	Executable      string                  `json:"executable"`
	Arguments       []string                `json:"arguments"`
	KeyPoolName     string                  `json:"keyPoolName,omitempty"`
	ScheduleName    string                  `json:"scheduleName,omitempty"`
	ScheduleEnabled bool                    `json:"scheduleEnabled"`
	WindowPosition  *subject.WindowPosition `json:"windowPosition,omitempty"`
	Visible         bool                    `json:"visible"`
	Counters        subject.Counters        `json:"counters"`
	CreatedAt       time.Time               `json:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"`

	State            runtime.State `json:"state"`
	Status           string        `json:"status,omitempty"`
	AssignedKeyName  string        `json:"assignedKeyName,omitempty"`
	MissedHeartbeats int           `json:"missedHeartbeats"`
	CrashCount       int           `json:"crashCount"`
}

func newSubjectView(s subject.Subject, rs runtime.RuntimeState) subjectView {
	return subjectView{
		Name:             s.Name,
		Group:            s.Group,
		Executable:       s.Executable,
		Arguments:        s.Arguments,
		KeyPoolName:      s.KeyPoolName,
		ScheduleName:     s.ScheduleName,
		ScheduleEnabled:  s.ScheduleEnabled,
		WindowPosition:   s.WindowPosition,
		Visible:          s.Visible,
		Counters:         s.Counters,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		State:            rs.State,
		Status:           rs.Status,
		AssignedKeyName:  rs.AssignedKeyName,
		MissedHeartbeats: rs.MissedHeartbeats,
		CrashCount:       rs.CrashCount,
	}
}

type renameRequest struct {
	NewName string `json:"newName" binding:"required"`
}

type reorderRequest struct {
	Index int `json:"index"`
}

type scheduleEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

type broadcastRequest struct {
	Type string `json:"type" binding:"required"`
	Text string `json:"text"`
}

type sendMessageRequest struct {
	Type string `json:"type" binding:"required"`
	Text string `json:"text"`
}
