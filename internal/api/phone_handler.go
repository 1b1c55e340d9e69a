package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pccr10001/softphone/internal/calling"
	"github.com/pccr10001/softphone/internal/model"
	"github.com/pccr10001/softphone/internal/repository"
	"github.com/pccr10001/softphone/pkg/logger"
)

// PhoneHandler exposes the authenticated user's softphone.
type PhoneHandler struct {
	phones     *calling.Manager
	users      *repository.UserRepository
	callerName string
}

// NewPhoneHandler builds the handler; callerName is used for users without
// one in their SIP profile.
func NewPhoneHandler(phones *calling.Manager, users *repository.UserRepository, callerName string) *PhoneHandler {
	return &PhoneHandler{phones: phones, users: users, callerName: callerName}
}

func (h *PhoneHandler) credentials(user *model.User) calling.Credentials {
	name := user.CallerName
	if name == "" {
		name = h.callerName
	}
	return calling.Credentials{
		Identity:   user.SIPUsername,
		Secret:     user.SIPPassword,
		CallerID:   user.CallerID,
		CallerName: name,
	}
}

// phone returns the user's phone, writing an error response if it has none.
func (h *PhoneHandler) phone(c *gin.Context) (*calling.Phone, bool) {
	user, ok := currentUser(c)
	if !ok {
		return nil, false
	}
	p, err := h.phones.RequirePhone(user.ID)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return p, true
}

func (h *PhoneHandler) Connect(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	logger.Log.Infof("User %s connecting phone (sip profile set: %v)", user.Username, user.HasSIPProfile())

	p, err := h.phones.Connect(c.Request.Context(), user.ID, h.credentials(user))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p.Snapshot())
}

func (h *PhoneHandler) Disconnect(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	p := h.phones.GetPhone(user.ID)
	if p == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	if err := p.Disconnect(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p.Snapshot())
}

func (h *PhoneHandler) Snapshot(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.phones.EnsurePhone(user.ID).Snapshot())
}

func (h *PhoneHandler) History(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.phones.EnsurePhone(user.ID).History())
}

func (h *PhoneHandler) Dial(c *gin.Context) {
	var req struct {
		Number string `json:"number"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, ok := h.phone(c)
	if !ok {
		return
	}
	session, err := p.PlaceCall(c.Request.Context(), req.Number)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "session": session})
}

func (h *PhoneHandler) Answer(c *gin.Context) {
	h.command(c, func(p *calling.Phone) error { return p.Answer(c.Request.Context()) })
}

func (h *PhoneHandler) Decline(c *gin.Context) {
	h.command(c, func(p *calling.Phone) error { return p.Decline(c.Request.Context()) })
}

func (h *PhoneHandler) Hangup(c *gin.Context) {
	h.command(c, func(p *calling.Phone) error { return p.Hangup(c.Request.Context()) })
}

func (h *PhoneHandler) Mute(c *gin.Context) {
	h.command(c, func(p *calling.Phone) error { return p.ToggleMute() })
}

func (h *PhoneHandler) Hold(c *gin.Context) {
	h.command(c, func(p *calling.Phone) error { return p.ToggleHold(c.Request.Context()) })
}

func (h *PhoneHandler) DTMF(c *gin.Context) {
	var req struct {
		Digit string `json:"digit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.command(c, func(p *calling.Phone) error { return p.SendTone(req.Digit) })
}

func (h *PhoneHandler) Transfer(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{"error": "call transfer is not supported"})
}

func (h *PhoneHandler) command(c *gin.Context, fn func(p *calling.Phone) error) {
	p, ok := h.phone(c)
	if !ok {
		return
	}
	if err := fn(p); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "snapshot": p.Snapshot()})
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, calling.ErrNotConnected), errors.Is(err, calling.ErrPhoneNotFound):
		return http.StatusServiceUnavailable
	case errors.Is(err, calling.ErrCallerIDMissing), errors.Is(err, calling.ErrCredentialsMissing):
		return http.StatusPreconditionFailed
	case errors.Is(err, calling.ErrSessionBusy),
		errors.Is(err, calling.ErrNoActiveCall),
		errors.Is(err, calling.ErrNoIncomingCall),
		errors.Is(err, calling.ErrFlagPending):
		return http.StatusConflict
	case errors.Is(err, calling.ErrHoldRejected), errors.Is(err, calling.ErrResumeRejected):
		return http.StatusBadGateway
	case errors.Is(err, calling.ErrInvalidDigit), errors.Is(err, calling.ErrInvalidNumber):
		return http.StatusBadRequest
	default:
		// Provider or transport failure.
		return http.StatusBadGateway
	}
}
