package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"outpass/internal/leave"
)

const dateLayout = "2006-01-02"

type submitBody struct {
	// StudentID is only honoured for webmasters filing on a student's behalf.
	StudentID string `json:"student_id"`
	Kind      string `json:"kind" binding:"required,leavekind"`
	Reason    string `json:"reason" binding:"required,max=500"`
	Start     string `json:"start" binding:"required"`
	End       string `json:"end" binding:"required"`
}

type actBody struct {
	Action  string `json:"action" binding:"required,leaveaction"`
	Message string `json:"message" binding:"max=1000"`
}

type studentBody struct {
	ID          string `json:"id" binding:"required,max=64"`
	Name        string `json:"name" binding:"required,max=200"`
	Email       string `json:"email" binding:"omitempty,email"`
	ParentEmail string `json:"parent_email" binding:"omitempty,email"`
}

func (h *Handler) submit(c *gin.Context) {
	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	who := caller(c)
	studentID := who.Subject
	if who.Role == leave.RoleWebmaster {
		if body.StudentID == "" {
			badRequest(c, errors.New("student_id is required"))
			return
		}
		studentID = body.StudentID
	}

	loc := h.location()
	start, err := parseWhen(body.Start, loc)
	if err != nil {
		h.fail(c, err)
		return
	}
	end, err := parseWhen(body.End, loc)
	if err != nil {
		h.fail(c, err)
		return
	}

	req, err := h.svc.Submit(c.Request.Context(), studentID, leave.Kind(body.Kind), body.Reason, leave.Window{Start: start, End: end})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewRequest(req))
}

func (h *Handler) act(c *gin.Context) {
	var body actBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	req, err := h.svc.Act(c.Request.Context(), c.Param("id"), caller(c).Actor(), leave.Action(body.Action), body.Message)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewRequest(req))
}

func (h *Handler) checkIn(c *gin.Context) {
	ctx := c.Request.Context()
	who := caller(c)
	studentID := who.Subject
	if who.Role == leave.RoleWebmaster {
		cur, err := h.svc.Get(ctx, c.Param("id"))
		if err != nil {
			h.fail(c, err)
			return
		}
		studentID = cur.StudentID
	}
	req, err := h.svc.CheckIn(ctx, studentID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewRequest(req))
}

func (h *Handler) getRequest(c *gin.Context) {
	req, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if who := caller(c); !who.Role.IsStaff() && req.StudentID != who.Subject {
		h.fail(c, leave.RequestNotFound(req.ID))
		return
	}
	c.JSON(http.StatusOK, viewRequest(req))
}

func (h *Handler) queue(c *gin.Context) {
	level := leave.Level(c.Query("level"))
	if level == "" {
		if l, err := leave.ParseLevel(string(caller(c).Role)); err == nil {
			level = l
		}
	} else if _, err := leave.ParseLevel(string(level)); err != nil {
		badRequest(c, err)
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	reqs, err := h.svc.Queue(c.Request.Context(), level, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": viewRequests(reqs)})
}

func (h *Handler) upsertStudent(c *gin.Context) {
	var body studentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.svc.RegisterStudent(c.Request.Context(), leave.Student{
		ID:          body.ID,
		Name:        body.Name,
		Email:       body.Email,
		ParentEmail: body.ParentEmail,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewStudent(st))
}

func (h *Handler) getStudent(c *gin.Context) {
	if !h.canSeeStudent(c) {
		return
	}
	st, err := h.svc.Student(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewStudent(st))
}

func (h *Handler) history(c *gin.Context) {
	if !h.canSeeStudent(c) {
		return
	}
	reqs, err := h.svc.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": viewRequests(reqs)})
}

// canSeeStudent lets staff read anyone and students only themselves.
func (h *Handler) canSeeStudent(c *gin.Context) bool {
	who := caller(c)
	if who.Role.IsStaff() || who.Subject == c.Param("id") {
		return true
	}
	h.fail(c, &leave.Error{Kind: leave.ErrUnauthorized, Message: "students may only read their own records"})
	return false
}

func (h *Handler) location() *time.Location {
	if loc := h.svc.Policy().Location; loc != nil {
		return loc
	}
	return time.UTC
}

// parseWhen accepts a campus-local date or an RFC 3339 instant.
func parseWhen(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, &leave.Error{Kind: leave.ErrInvalidWindow, Message: "cannot parse " + strconv.Quote(s) + " as a date or RFC 3339 time"}
}
