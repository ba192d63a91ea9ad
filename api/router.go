package api

import (
	"io/ioutil"
	"net/http"

	"github.com/gin-gonic/gin"
	uuid "github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/openmodeller/omws/ticket"
)

// APIPrefix is the root of every service route.
const APIPrefix = "/api/v1"

// maximum accepted request body, submissions included
const maxBodyBytes = 32 << 20

// RegisterRoutes mounts the service operations of h on r.
func RegisterRoutes(r gin.IRouter, h *Handler) {
	group := r.Group(APIPrefix)
	group.Use(requestIDMiddleware())
	{
		group.GET(PingPath, h.ping)
		group.POST(JobsPath, h.submit)
		group.POST(ExperimentsPath, h.submitExperiment)
		group.GET(ProgressPath, h.getProgress)
		group.POST(CancelPath, h.cancel)
		group.GET(ResultPath, h.getResult)
		group.GET(ResultsPath, h.getResults)
		group.GET(LogPath, h.getLog)
		group.GET(StatePath, h.getState)
	}
}

// requestIDMiddleware tags every request, echoing an id sent by the client.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			if u, err := uuid.NewV4(); err == nil {
				id = u.String()
			}
		}
		c.Set(RequestIDHeader, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func readBody(c *gin.Context) ([]byte, error) {
	data, err := ioutil.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, NewInvalidRequest("reading request body: %v", err)
	}
	return data, nil
}

// writeError maps the error types of this package onto status codes.
func writeError(c *gin.Context, err error) {
	status, kind, message := http.StatusInternalServerError, KindInternal, err.Error()
	switch e := errors.Cause(err).(type) {
	case *InvalidRequest:
		status, kind, message = http.StatusBadRequest, KindInvalidRequest, e.Message
	case *ServiceUnavailable:
		status, kind, message = http.StatusServiceUnavailable, KindServiceUnavailable, e.Message
	case *NotFound:
		status, kind, message = http.StatusNotFound, KindNotFound, e.Message
	case *NotReady:
		status, kind, message = http.StatusConflict, KindNotReady, e.Message
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("requestID", c.GetString(RequestIDHeader)).Errorf("%s %s failed", c.Request.Method, c.Request.URL.Path)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Kind: kind, Message: message})
}

func (h *Handler) ping(c *gin.Context) {
	c.JSON(http.StatusOK, PingResponse{Status: h.Ping()})
}

func (h *Handler) submit(c *gin.Context) {
	jobType, err := ticket.ParseJobType(c.Param("type"))
	if err != nil {
		writeError(c, h.invalid("%v", err))
		return
	}
	payload, err := readBody(c)
	if err != nil {
		writeError(c, err)
		return
	}
	id, err := h.Submit(jobType, payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SubmitResponse{Ticket: id})
}

func (h *Handler) submitExperiment(c *gin.Context) {
	payload, err := readBody(c)
	if err != nil {
		writeError(c, err)
		return
	}
	result, err := h.SubmitExperiment(c.Request.Context(), payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ExperimentResponse{Experiment: result.Experiment, Jobs: result.Jobs})
}

func (h *Handler) getProgress(c *gin.Context) {
	progress, err := h.GetProgress(c.Query(TicketsParam))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ProgressResponse{Progress: progress})
}

func (h *Handler) cancel(c *gin.Context) {
	cancelled, err := h.Cancel(c.Request.Context(), c.Query(TicketsParam))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CancelResponse{Cancelled: cancelled})
}

func (h *Handler) getResult(c *gin.Context) {
	result, err := h.GetResult(c.Param("ticket"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", result)
}

func (h *Handler) getResults(c *gin.Context) {
	results, err := h.GetResults(c.Query(TicketsParam))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ResultsResponse{Results: results})
}

func (h *Handler) getLog(c *gin.Context) {
	data, err := h.GetLog(c.Param("ticket"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

func (h *Handler) getState(c *gin.Context) {
	state, err := h.GetState(c.Param("ticket"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, StateResponse{Ticket: ticket.ID(c.Param("ticket")), State: state.String()})
}
