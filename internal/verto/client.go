package verto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pccr10001/softphone/internal/calling"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Event names and call states as the Telnyx SDK reports them.
const (
	eventReady        = "telnyx.ready"
	eventError        = "telnyx.error"
	eventSocketClose  = "telnyx.socket.close"
	eventNotification = "telnyx.notification"
	eventStream       = "telnyx.stream"
	eventCallError    = "error"

	notificationCallUpdate = "callUpdate"

	stateNew        = "new"
	stateRequesting = "requesting"
	stateTrying     = "trying"
	stateRinging    = "ringing"
	stateEarly      = "early"
	stateAnswering  = "answering"
	stateActive     = "active"
	stateHeld       = "held"
	stateHangup     = "hangup"
	stateDestroy    = "destroy"
)

var (
	ErrClosed       = errors.New("verto client closed")
	ErrNotConnected = errors.New("verto socket not connected")
)

const writeWait = 5 * time.Second

// Client speaks Verto JSON-RPC to the Telnyx RTC gateway over one
// websocket and owns the media legs of its calls.
type Client struct {
	cfg    Config
	api    *webrtc.API
	rtcCfg webrtc.Configuration
	log    *zap.SugaredLogger
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	sessID  string
	pending map[string]chan *rpcMessage
	calls   map[string]*Call

	writeMu sync.Mutex

	events  chan calling.ProviderEvent
	queueMu sync.Mutex
	queue   []calling.ProviderEvent
	wake    chan struct{}

	done         chan struct{}
	dispatchDone chan struct{}
	closeOnce    sync.Once
}

// NewFactory shares one media API between all clients it creates.
func NewFactory(cfg Config, log *zap.SugaredLogger) (calling.ClientFactory, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cfg = cfg.withDefaults()
	api, rtcCfg, err := newMediaAPI(cfg)
	if err != nil {
		return nil, fmt.Errorf("build media api: %w", err)
	}
	return func(creds calling.Credentials) (calling.Client, error) {
		return newClient(cfg, api, rtcCfg, log.With("sip_user", creds.Identity)), nil
	}, nil
}

func New(cfg Config, log *zap.SugaredLogger) (*Client, error) {
	cfg = cfg.withDefaults()
	api, rtcCfg, err := newMediaAPI(cfg)
	if err != nil {
		return nil, err
	}
	return newClient(cfg, api, rtcCfg, log), nil
}

func newClient(cfg Config, api *webrtc.API, rtcCfg webrtc.Configuration, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c := &Client{
		cfg:          cfg,
		api:          api,
		rtcCfg:       rtcCfg,
		log:          log,
		dialer:       &websocket.Dialer{HandshakeTimeout: cfg.RequestTimeout},
		sessID:       uuid.NewString(),
		pending:      map[string]chan *rpcMessage{},
		calls:        map[string]*Call{},
		events:       make(chan calling.ProviderEvent, cfg.EventBuffer),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	go c.dispatch()
	return c
}

func (c *Client) Events() <-chan calling.ProviderEvent {
	return c.events
}

// Connect dials the gateway and sends the login. Readiness and login
// failures arrive later as events.
func (c *Client) Connect(ctx context.Context, identity, secret string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	sessID := c.sessID
	c.mu.Unlock()

	go c.readLoop(conn)

	req, id, err := newRequest(methodLogin, loginParams{
		Login:         identity,
		Passwd:        secret,
		SessID:        sessID,
		UserAgent:     map[string]any{"data": c.cfg.UserAgent},
		UserVariables: map[string]any{},
		LoginParams:   map[string]any{},
	})
	if err != nil {
		return err
	}
	ch := c.expect(id)
	if err := c.write(req); err != nil {
		c.forget(id)
		return fmt.Errorf("send login: %w", err)
	}

	go func() {
		resp, err := c.await(context.Background(), id, ch)
		if err != nil {
			c.log.Warnf("login failed: %v", err)
			c.emit(calling.ProviderEvent{Name: eventError, Err: err})
			return
		}
		var result loginResult
		if len(resp.Result) > 0 && json.Unmarshal(resp.Result, &result) == nil && result.SessID != "" {
			c.mu.Lock()
			c.sessID = result.SessID
			c.mu.Unlock()
		}
		c.log.Infof("login accepted: %s", result.Message)
	}()
	return nil
}

// Disconnect closes the socket, tears down every media leg and closes
// Events. It is safe to call more than once.
func (c *Client) Disconnect() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		calls := make([]*Call, 0, len(c.calls))
		for _, call := range c.calls {
			calls = append(calls, call)
		}
		c.calls = map[string]*Call{}
		c.mu.Unlock()

		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.writeMu.Unlock()
			_ = conn.Close()
		}
		for _, call := range calls {
			call.release()
		}

		<-c.dispatchDone
		close(c.events)
	})
	return nil
}

// Originate registers the call and runs the offer/invite exchange in the
// background. Progress is reported through Events.
func (c *Client) Originate(_ context.Context, req calling.OriginateRequest) (calling.CallHandle, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	call := newCall(c, uuid.NewString(), directionOutbound)
	call.destination = req.Destination
	call.remoteNumber = req.Destination
	c.calls[call.id] = call
	c.mu.Unlock()

	go c.runOutbound(call, req)
	return call, nil
}

func (c *Client) runOutbound(call *Call, req calling.OriginateRequest) {
	c.callUpdate(call, stateNew)

	leg, err := c.newLeg(call)
	if err != nil {
		c.callFailed(call, fmt.Errorf("create peer: %w", err))
		return
	}
	sdp, err := leg.createOffer(c.cfg.RequestTimeout)
	if err != nil {
		c.callFailed(call, fmt.Errorf("create offer: %w", err))
		return
	}
	if call.isEnded() {
		return
	}

	c.callUpdate(call, stateRequesting)
	_, err = c.request(context.Background(), methodInvite, callParams{
		SDP: sdp,
		DialogParams: &dialogParams{
			CallID:            call.id,
			DestinationNumber: req.Destination,
			CallerIDNumber:    req.CallerID,
			CallerIDName:      req.CallerName,
			Audio:             true,
		},
	})
	if err != nil {
		c.callFailed(call, fmt.Errorf("invite: %w", err))
		return
	}
	if !call.isEnded() {
		c.callUpdate(call, stateTrying)
	}
}

func (c *Client) runAnswer(call *Call) {
	c.callUpdate(call, stateAnswering)

	leg, err := c.newLeg(call)
	if err != nil {
		c.callFailed(call, fmt.Errorf("create peer: %w", err))
		return
	}
	sdp, err := leg.createAnswer(call.offerSDP(), c.cfg.RequestTimeout)
	if err != nil {
		c.callFailed(call, fmt.Errorf("create answer: %w", err))
		return
	}
	if _, err := c.request(context.Background(), methodAnswer, callParams{
		SDP:          sdp,
		DialogParams: call.dialog(),
	}); err != nil {
		c.callFailed(call, fmt.Errorf("answer: %w", err))
		return
	}
	if !call.isEnded() {
		c.callUpdate(call, stateActive)
	}
}

func (c *Client) newLeg(call *Call) (*mediaLeg, error) {
	leg, err := newMediaLeg(c.api, c.rtcCfg, call.id, c.log, func(s *RemoteStream) {
		c.emit(calling.ProviderEvent{Name: eventStream, CallID: call.id, Call: call, Stream: s})
	})
	if err != nil {
		return nil, err
	}
	if !call.attach(leg) {
		_ = leg.Close()
		return nil, errors.New("call already ended")
	}
	return leg, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.failPending(err)
			select {
			case <-c.done:
			default:
				c.log.Warnf("socket closed: %v", err)
				c.emit(calling.ProviderEvent{Name: eventSocketClose, Detail: err.Error()})
			}
			return
		}

		msg, err := parseMessage(raw)
		if err != nil {
			c.log.Warnf("invalid frame: %v", err)
			continue
		}
		if msg.isResponse() {
			c.resolve(msg)
			continue
		}
		c.handleRequest(msg)
	}
}

func (c *Client) handleRequest(msg *rpcMessage) {
	var p eventParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			c.log.Warnf("%s: bad params: %v", msg.Method, err)
		}
	}

	switch msg.Method {
	case methodClientReady:
		c.emit(calling.ProviderEvent{Name: eventReady})
	case methodPing:
	case methodInvite:
		call := newCall(c, p.CallID, directionInbound)
		call.remoteNumber = p.CallerIDNumber
		call.remoteName = p.CallerIDName
		call.destination = p.CalleeIDNumber
		call.remoteSDP = p.SDP
		c.mu.Lock()
		_, dup := c.calls[call.id]
		if !dup {
			c.calls[call.id] = call
		}
		c.mu.Unlock()
		if !dup {
			c.log.Infof("[%s] invite from %s", call.id, call.remoteNumber)
			c.callUpdate(call, stateRinging)
		}
	case methodRinging:
		if call := c.lookup(p.CallID); call != nil {
			c.callUpdate(call, stateRinging)
		}
	case methodMedia:
		if call := c.lookup(p.CallID); call != nil {
			if err := call.applyRemote(p.SDP); err != nil {
				c.callFailed(call, fmt.Errorf("early media: %w", err))
			} else {
				c.callUpdate(call, stateEarly)
			}
		}
	case methodAnswer:
		if call := c.lookup(p.CallID); call != nil {
			if err := call.applyRemote(p.SDP); err != nil {
				c.callFailed(call, fmt.Errorf("remote answer: %w", err))
			} else {
				c.callUpdate(call, stateActive)
			}
		}
	case methodBye:
		if call := c.lookup(p.CallID); call != nil {
			c.log.Infof("[%s] remote hangup cause=%s code=%d", call.id, p.Cause, p.CauseCode)
			call.finish()
		}
	default:
		c.log.Debugf("unhandled method %s", msg.Method)
	}

	if len(msg.ID) > 0 {
		if err := c.write(newResult(msg.ID, msg.Method)); err != nil {
			c.log.Debugf("ack %s: %v", msg.Method, err)
		}
	}
}

func (c *Client) lookup(callID string) *Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[callID]
}

func (c *Client) removeCall(callID string) {
	c.mu.Lock()
	delete(c.calls, callID)
	c.mu.Unlock()
}

func (c *Client) currentSessID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessID
}

// request sends method and waits for its response.
func (c *Client) request(ctx context.Context, method string, params callParams) (*rpcMessage, error) {
	params.SessID = c.currentSessID()
	req, id, err := newRequest(method, params)
	if err != nil {
		return nil, err
	}
	ch := c.expect(id)
	if err := c.write(req); err != nil {
		c.forget(id)
		return nil, err
	}
	return c.await(ctx, id, ch)
}

// post sends method without waiting for the response.
func (c *Client) post(method string, params callParams) error {
	params.SessID = c.currentSessID()
	req, _, err := newRequest(method, params)
	if err != nil {
		return err
	}
	return c.write(req)
}

func (c *Client) expect(id string) chan *rpcMessage {
	ch := make(chan *rpcMessage, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) await(ctx context.Context, id string, ch chan *rpcMessage) (*rpcMessage, error) {
	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()
	defer c.forget(id)

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, ErrNotConnected
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errors.New("request timeout")
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *Client) resolve(msg *rpcMessage) {
	c.mu.Lock()
	ch, ok := c.pending[msg.idKey()]
	delete(c.pending, msg.idKey())
	c.mu.Unlock()
	if ok {
		ch <- msg
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = map[string]chan *rpcMessage{}
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- nil
	}
	c.log.Debugf("failed %d pending requests: %v", len(pending), err)
}

func (c *Client) write(msg *rpcMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (c *Client) callUpdate(call *Call, state string) {
	c.emit(calling.ProviderEvent{
		Name:   eventNotification,
		Kind:   notificationCallUpdate,
		CallID: call.id,
		State:  state,
		Call:   call,
	})
}

func (c *Client) callFailed(call *Call, err error) {
	c.log.Warnf("[%s] %v", call.id, err)
	c.emit(calling.ProviderEvent{Name: eventCallError, CallID: call.id, Call: call, Err: err})
}

// emit queues ev without blocking. Order is preserved.
func (c *Client) emit(ev calling.ProviderEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	c.queueMu.Lock()
	c.queue = append(c.queue, ev)
	c.queueMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// dispatch is the only sender on events.
func (c *Client) dispatch() {
	defer close(c.dispatchDone)
	for {
		select {
		case <-c.wake:
		case <-c.done:
			return
		}
		for {
			c.queueMu.Lock()
			if len(c.queue) == 0 {
				c.queueMu.Unlock()
				break
			}
			ev := c.queue[0]
			c.queue = c.queue[1:]
			c.queueMu.Unlock()

			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}
