package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forgefleet/orchestrator/internal/orchestrator"
)

// writeJSON and writeError keep every handler on the same plain
// {"error": "..."} envelope, adapted to gin's response writer instead of
// encoding directly onto http.ResponseWriter.
func writeJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

func writeError(c *gin.Context, status int, err error) {
	body := gin.H{"error": err.Error()}
	if refusal, ok := orchestrator.AsRefusal(err); ok {
		body["reason"] = string(refusal.Reason)
	}
	c.JSON(status, body)
}

// statusFor maps a Facade error to the HTTP status the REST surface
// reports it as. A *Refusal never indicates a side effect occurred, so
// every branch here is a 4xx; anything else is treated as an unexpected
// persistence/collaborator failure.
func statusFor(err error) int {
	refusal, ok := orchestrator.AsRefusal(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch refusal.Reason {
	case orchestrator.ReasonUnknownSubject:
		return http.StatusNotFound
	case orchestrator.ReasonNotLocal:
		return http.StatusForbidden
	case orchestrator.ReasonOutOfRange:
		return http.StatusBadRequest
	case orchestrator.ReasonAlreadyExists:
		return http.StatusConflict
	case orchestrator.ReasonIllegalTransition, orchestrator.ReasonMissingPool,
		orchestrator.ReasonNoCredential, orchestrator.ReasonMissingSchedule:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
