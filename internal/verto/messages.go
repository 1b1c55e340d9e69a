package verto

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// JSON-RPC methods spoken by the Telnyx RTC gateway.
const (
	methodLogin       = "login"
	methodClientReady = "telnyx_rtc.clientReady"
	methodPing        = "telnyx_rtc.ping"
	methodInvite      = "telnyx_rtc.invite"
	methodAnswer      = "telnyx_rtc.answer"
	methodMedia       = "telnyx_rtc.media"
	methodRinging     = "telnyx_rtc.ringing"
	methodBye         = "telnyx_rtc.bye"
	methodModify      = "telnyx_rtc.modify"
	methodInfo        = "telnyx_rtc.info"
)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return e.Message
}

// rpcMessage is any JSON-RPC 2.0 frame: request, notification or response.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (m *rpcMessage) isResponse() bool {
	return m.Method == "" && len(m.ID) > 0
}

// idKey normalizes string and numeric ids for the pending table.
func (m *rpcMessage) idKey() string {
	return strings.Trim(string(m.ID), `"`)
}

func parseMessage(raw []byte) (*rpcMessage, error) {
	var msg rpcMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if msg.Method == "" && len(msg.ID) == 0 {
		return nil, errors.New("missing method and id")
	}
	return &msg, nil
}

func newRequest(method string, params any) (*rpcMessage, string, error) {
	id := uuid.NewString()
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, "", err
	}
	idRaw, _ := json.Marshal(id)
	return &rpcMessage{JSONRPC: "2.0", ID: idRaw, Method: method, Params: raw}, id, nil
}

func newResult(id json.RawMessage, method string) *rpcMessage {
	raw, _ := json.Marshal(map[string]string{"method": method})
	return &rpcMessage{JSONRPC: "2.0", ID: id, Result: raw}
}

type loginParams struct {
	Login         string         `json:"login"`
	Passwd        string         `json:"passwd"`
	SessID        string         `json:"sessid"`
	UserAgent     map[string]any `json:"User-Agent,omitempty"`
	UserVariables map[string]any `json:"userVariables"`
	LoginParams   map[string]any `json:"loginParams"`
}

type loginResult struct {
	Message string `json:"message"`
	SessID  string `json:"sessid"`
}

type dialogParams struct {
	CallID            string `json:"callID"`
	DestinationNumber string `json:"destination_number,omitempty"`
	RemoteCallerName  string `json:"remote_caller_id_name,omitempty"`
	CallerIDName      string `json:"caller_id_name,omitempty"`
	CallerIDNumber    string `json:"caller_id_number,omitempty"`
	Audio             bool   `json:"audio"`
	Video             bool   `json:"video"`
}

// callParams is sent with every call-scoped request.
type callParams struct {
	SessID       string        `json:"sessid"`
	SDP          string        `json:"sdp,omitempty"`
	Action       string        `json:"action,omitempty"`
	DTMF         string        `json:"dtmf,omitempty"`
	Cause        string        `json:"cause,omitempty"`
	CauseCode    int           `json:"causeCode,omitempty"`
	DialogParams *dialogParams `json:"dialogParams"`
}

// eventParams is the union of call-scoped server requests.
type eventParams struct {
	CallID         string `json:"callID"`
	SDP            string `json:"sdp,omitempty"`
	CallerIDName   string `json:"caller_id_name,omitempty"`
	CallerIDNumber string `json:"caller_id_number,omitempty"`
	CalleeIDName   string `json:"callee_id_name,omitempty"`
	CalleeIDNumber string `json:"callee_id_number,omitempty"`
	Cause          string `json:"cause,omitempty"`
	CauseCode      int    `json:"causeCode,omitempty"`
}

type modifyResult struct {
	CallID    string `json:"callID"`
	Action    string `json:"action"`
	HoldState string `json:"holdState"`
}
