package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/forgefleet/orchestrator/internal/domain/event"
)

// upgrader accepts WebSocket upgrades from any origin. The remote-observer
// surface this endpoint serves has no same-origin browser client of its
// own in this repository, so origin checking is left permissive here and
// is a deploy-time reverse-proxy concern, the same posture the rate
// limiter takes toward forwarded-for trust.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// wireEvent is the JSON envelope toWireEvent converts each Event Bus event
// into for a WebSocket client, translating the Go-side Kind/payload union
// into a flat discriminated object.
type wireEvent struct {
	Kind      event.Kind              `json:"kind"`
	Sequence  uint64                  `json:"sequence"`
	At        time.Time               `json:"at"`
	Subjects  []subjectRuntimeView    `json:"subjects,omitempty"`
	KeyPools  []interface{}           `json:"keyPools,omitempty"`
	Schedules []interface{}           `json:"schedules,omitempty"`
	Settings  map[string]string       `json:"settings,omitempty"`
	LogLine   *logLineView            `json:"logLine,omitempty"`
}

type subjectRuntimeView struct {
	Name  string      `json:"name"`
	State interface{} `json:"state"`
}

func toWireEvent(e event.Event) wireEvent {
	w := wireEvent{Kind: e.Kind, Sequence: e.Sequence, At: e.At}
	switch e.Kind {
	case event.KindSubjectsSnapshot, event.KindSubjectStateChanged:
		w.Subjects = make([]subjectRuntimeView, 0, len(e.Subjects))
		for _, sr := range e.Subjects {
			if sr.Subject != nil {
				w.Subjects = append(w.Subjects, subjectRuntimeView{
					Name:  sr.Name,
					State: newSubjectView(*sr.Subject, sr.State),
				})
				continue
			}
			w.Subjects = append(w.Subjects, subjectRuntimeView{Name: sr.Name, State: sr.State})
		}
	case event.KindKeyPoolsSnapshot:
		w.KeyPools = make([]interface{}, 0, len(e.KeyPools))
		for _, p := range e.KeyPools {
			w.KeyPools = append(w.KeyPools, p)
		}
	case event.KindSchedulesSnapshot:
		w.Schedules = make([]interface{}, 0, len(e.Schedules))
		for _, s := range e.Schedules {
			w.Schedules = append(w.Schedules, s)
		}
	case event.KindSettingsSnapshot:
		w.Settings = e.Settings
	case event.KindLogLine:
		l := newLogLineView(e)
		w.LogLine = &l
	}
	return w
}

// events upgrades to a WebSocket and streams the Orchestrator Facade's
// event subscription: snapshot quartet first, then every incremental
// event in publish order, until the client
// disconnects or is evicted for lag.
func (h *handlers) events(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithField("err", err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := withRemoteAddr(c.Request.Context(), c.Request)
	sub := h.orch.SubscribeEvents(ctx)
	defer sub.Close()

	// Drain and discard inbound client frames so the connection's read
	// deadline/pong handling keeps the socket alive; this endpoint is
	// publish-only from the server's side.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				sub.Close()
				return
			}
		}
	}()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-sub.Evicted:
			if payload, err := json.Marshal(wireEvent{Kind: event.KindEvicted}); err == nil {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				_ = conn.WriteMessage(websocket.TextMessage, payload)
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "evicted: subscriber too slow"),
				time.Now().Add(wsWriteTimeout))
			return
		case e, ok := <-sub.Events:
			if !ok {
				return
			}
			payload, err := json.Marshal(toWireEvent(e))
			if err != nil {
				h.log.WithField("err", err).Warn("failed to marshal event for websocket")
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
