package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/lessonstate/internal/metrics"
	"github.com/roach88/lessonstate/internal/state"
	"github.com/roach88/lessonstate/internal/syncclient"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleFetch(c *gin.Context) {
	id := identityOf(c)
	lessonID, err := state.NormalizeKey("lesson_id", c.Param("lesson_id"))
	if err != nil {
		s.fail(c, http.StatusBadRequest, syncclient.CodeInvalidKey, err)
		return
	}

	resp := syncclient.FetchResponse{LessonID: lessonID, States: []syncclient.WireRecord{}}
	if id.IsGuest() {
		c.JSON(http.StatusOK, resp)
		return
	}

	// The shared read is detached from any one caller's cancellation.
	key := string(id) + "\x00" + lessonID
	ch := s.fetches.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), s.fetchTimeout)
		defer cancel()
		return s.store.ListLesson(ctx, id, lessonID)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-c.Request.Context().Done():
		s.logger.Debug("lesson fetch abandoned by client",
			"request_id", c.GetString(requestIDKey),
			"lesson_id", lessonID,
			"error", c.Request.Context().Err(),
		)
		c.Abort()
		return
	}
	if res.Err != nil {
		s.fail(c, http.StatusInternalServerError, syncclient.CodeStoreFailed, res.Err)
		return
	}
	if res.Shared {
		s.logger.Debug("coalesced lesson fetch", "request_id", c.GetString(requestIDKey), "lesson_id", lessonID)
	}

	for _, rec := range res.Val.([]state.Record) {
		resp.States = append(resp.States, syncclient.ToWire(rec))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePush(c *gin.Context) {
	id := identityOf(c)
	if id.IsGuest() {
		s.fail(c, http.StatusUnauthorized, syncclient.CodeUnauthorized, errors.New("a valid bearer token is required"))
		return
	}

	var req syncclient.PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, syncclient.CodeInvalidRequest, err)
		return
	}

	stored, applied, err := s.store.Upsert(c.Request.Context(), state.Record{
		Identity:   id,
		LessonID:   c.Param("lesson_id"),
		ExerciseID: c.Param("exercise_id"),
		State:      []byte(req.State),
		WrittenAt:  req.WrittenAt,
	})
	switch {
	case errors.Is(err, state.ErrInvalidKey):
		s.fail(c, http.StatusBadRequest, syncclient.CodeInvalidKey, err)
		return
	case errors.Is(err, state.ErrInvalidState):
		s.fail(c, http.StatusBadRequest, syncclient.CodeInvalidState, err)
		return
	case err != nil:
		s.fail(c, http.StatusInternalServerError, syncclient.CodeStoreFailed, err)
		return
	}

	metrics.Upserts.WithLabelValues(strconv.FormatBool(applied)).Inc()
	c.JSON(http.StatusOK, syncclient.PushResponse{Record: syncclient.ToWire(stored), Applied: applied})
}

// fail writes an ErrorResponse. Store failures are logged with their cause
// and answered with a generic message.
func (s *Server) fail(c *gin.Context, status int, code string, err error) {
	msg := err.Error()
	if status >= 500 {
		s.logger.Error("request failed",
			"request_id", c.GetString(requestIDKey),
			"code", code,
			"error", err,
		)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, syncclient.ErrorResponse{Error: msg, Code: code})
}
