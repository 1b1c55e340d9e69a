package calling

import "time"

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-facing message (a toast in the dashboard).
type Notice struct {
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Level       NoticeLevel `json:"level"`
	At          time.Time   `json:"at"`
}

// Observer receives side effects of the phone. Callbacks run outside any
// phone lock and may call back into the phone.
type Observer interface {
	Notify(n Notice)
	CallLogged(e CallLogEntry)
	// Changed signals that the snapshot may differ from the last one.
	Changed()
}

// Observers fans out to every member.
type Observers []Observer

func (o Observers) Notify(n Notice) {
	for _, ob := range o {
		ob.Notify(n)
	}
}

func (o Observers) CallLogged(e CallLogEntry) {
	for _, ob := range o {
		ob.CallLogged(e)
	}
}

func (o Observers) Changed() {
	for _, ob := range o {
		ob.Changed()
	}
}

// NopObserver can be embedded to implement only part of Observer.
type NopObserver struct{}

func (NopObserver) Notify(Notice)           {}
func (NopObserver) CallLogged(CallLogEntry) {}
func (NopObserver) Changed()                {}

// effects collects observer callbacks produced under a lock so they can be
// delivered after it is released.
type effects struct {
	notices []Notice
	logged  []CallLogEntry
	changed bool
}

func (fx *effects) notice(level NoticeLevel, title, description string) {
	fx.notices = append(fx.notices, Notice{Title: title, Description: description, Level: level, At: time.Now()})
}

func (fx *effects) deliver(o Observer) {
	if o == nil {
		return
	}
	for _, n := range fx.notices {
		o.Notify(n)
	}
	for _, e := range fx.logged {
		o.CallLogged(e)
	}
	if fx.changed || len(fx.logged) > 0 {
		o.Changed()
	}
}
