package verto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pccr10001/softphone/internal/calling"
)

const (
	directionInbound  = "inbound"
	directionOutbound = "outbound"

	holdActionHold   = "hold"
	holdActionUnhold = "unhold"
)

var errCallEnded = errors.New("call already ended")

// defaultCause is sent when the caller gives none.
var defaultCause = calling.HangupCause{Cause: "NORMAL_CLEARING", Code: 16}

// Call is one Verto dialog. It implements calling.CallHandle.
type Call struct {
	client *Client

	id           string
	direction    string
	remoteNumber string
	remoteName   string
	destination  string

	mu        sync.Mutex
	remoteSDP string
	leg       *mediaLeg
	answered  bool
	ended     bool
}

func newCall(c *Client, id, direction string) *Call {
	return &Call{client: c, id: id, direction: direction}
}

func (c *Call) ID() string           { return c.id }
func (c *Call) Direction() string    { return c.direction }
func (c *Call) RemoteNumber() string { return c.remoteNumber }
func (c *Call) RemoteName() string   { return c.remoteName }
func (c *Call) Destination() string  { return c.destination }

func (c *Call) dialog() *dialogParams {
	return &dialogParams{
		CallID:            c.id,
		DestinationNumber: c.destination,
		RemoteCallerName:  c.remoteName,
		CallerIDNumber:    c.remoteNumber,
		Audio:             true,
	}
}

func (c *Call) offerSDP() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSDP
}

func (c *Call) isEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

func (c *Call) attach(leg *mediaLeg) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return false
	}
	c.leg = leg
	return true
}

func (c *Call) media() *mediaLeg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leg
}

// applyRemote installs the gateway's answer SDP on an outbound leg.
func (c *Call) applyRemote(sdp string) error {
	leg := c.media()
	if leg == nil || sdp == "" || c.direction != directionOutbound {
		return nil
	}
	return leg.applyAnswer(sdp)
}

// Answer starts answering in the background.
func (c *Call) Answer(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.direction != directionInbound {
		return errors.New("only inbound calls can be answered")
	}
	if c.ended {
		return errCallEnded
	}
	if c.answered {
		return nil
	}
	c.answered = true
	go c.client.runAnswer(c)
	return nil
}

// Hangup sends bye and reports hangup then destroy.
func (c *Call) Hangup(_ context.Context, cause calling.HangupCause) error {
	if cause.Cause == "" {
		cause = defaultCause
	}
	if !c.markEnded() {
		return nil
	}
	err := c.client.post(methodBye, callParams{
		Cause:        cause.Cause,
		CauseCode:    cause.Code,
		DialogParams: c.dialog(),
	})
	c.teardown()
	if err != nil {
		return fmt.Errorf("send bye: %w", err)
	}
	return nil
}

// finish handles a bye from the gateway.
func (c *Call) finish() {
	if c.markEnded() {
		c.teardown()
	}
}

func (c *Call) markEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return false
	}
	c.ended = true
	return true
}

func (c *Call) teardown() {
	c.client.callUpdate(c, stateHangup)
	c.client.callUpdate(c, stateDestroy)
	c.client.removeCall(c.id)
	c.release()
}

// release closes the media leg without reporting anything.
func (c *Call) release() {
	c.mu.Lock()
	c.ended = true
	leg := c.leg
	c.leg = nil
	c.mu.Unlock()
	if err := leg.Close(); err != nil {
		c.client.log.Debugf("[%s] close peer: %v", c.id, err)
	}
}

func (c *Call) Hold(ctx context.Context) error {
	return c.modify(ctx, holdActionHold, stateHeld)
}

func (c *Call) Unhold(ctx context.Context) error {
	return c.modify(ctx, holdActionUnhold, stateActive)
}

// modify blocks until the gateway confirms the new hold state.
func (c *Call) modify(ctx context.Context, action, want string) error {
	if c.isEnded() {
		return errCallEnded
	}
	resp, err := c.client.request(ctx, methodModify, callParams{
		Action:       action,
		DialogParams: c.dialog(),
	})
	if err != nil {
		return err
	}
	var result modifyResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return fmt.Errorf("decode %s result: %w", action, err)
		}
	}
	if result.HoldState != "" && !strings.EqualFold(result.HoldState, want) {
		return fmt.Errorf("%s: gateway reports %s", action, result.HoldState)
	}
	c.client.callUpdate(c, want)
	return nil
}

func (c *Call) Mute() error {
	leg := c.media()
	if leg == nil {
		return errNoMedia
	}
	leg.SetMuted(true)
	return nil
}

func (c *Call) Unmute() error {
	leg := c.media()
	if leg == nil {
		return errNoMedia
	}
	leg.SetMuted(false)
	return nil
}

// SendDigit uses Verto INFO, or RTP tones when configured for in-band DTMF.
func (c *Call) SendDigit(digit string) error {
	if c.isEnded() {
		return errCallEnded
	}
	if leg := c.media(); leg != nil && c.client.cfg.DTMFMode == DTMFInband {
		go func() {
			if err := leg.playTone(digit); err != nil {
				c.client.log.Warnf("[%s] in-band dtmf %s: %v", c.id, digit, err)
			}
		}()
		return nil
	}
	return c.client.post(methodInfo, callParams{
		DTMF:         digit,
		DialogParams: c.dialog(),
	})
}
