package client

// MessageKind classifies entries in the message log. In the browser it
// becomes part of the entry's CSS class.
type MessageKind string

// Message log entry kinds.
const (
	KindSent     MessageKind = "sent"
	KindReceived MessageKind = "received"
	KindSystem   MessageKind = "system"
)

// UI is the surface the controller reports every user-visible event
// into: messages into an append-only log, connectivity into the status
// indicator and its dependent controls.
type UI interface {
	AddMessage(text string, kind MessageKind)
	SetConnected(connected bool)
}

// Element is a single page element the status view mutates. Methods
// that do not apply to a given element are no-ops in implementations.
type Element interface {
	SetText(text string)
	SetClass(class string)
	SetDisabled(disabled bool)
	AppendChild(child Element)
	ScrollToBottom()
}

// Document looks up and creates page elements. The wasm build backs it
// with the browser DOM; tests use an in-memory fake.
type Document interface {
	ElementByID(id string) (Element, bool)
	CreateElement(tag string) Element
}

// StatusView renders controller events onto the demo page: an
// append-only message log kept scrolled to the latest entry, a status
// line, and the four connectivity-dependent controls.
type StatusView struct {
	doc Document
}

var _ UI = (*StatusView)(nil)

// NewStatusView creates a StatusView over the given document.
func NewStatusView(doc Document) *StatusView {
	return &StatusView{doc: doc}
}

// AddMessage appends one entry to the message log.
func (v *StatusView) AddMessage(text string, kind MessageKind) {
	log, ok := v.doc.ElementByID("messages")
	if !ok {
		return
	}

	entry := v.doc.CreateElement("div")
	entry.SetClass("message " + string(kind))
	entry.SetText(text)
	log.AppendChild(entry)
	log.ScrollToBottom()
}

// SetConnected updates the status line and flips the controls to match
// connectivity: connect is enabled only while disconnected, the other
// three only while connected.
func (v *StatusView) SetConnected(connected bool) {
	if status, ok := v.doc.ElementByID("status"); ok {
		if connected {
			status.SetText("Status: Connected")
			status.SetClass("status connected")
		} else {
			status.SetText("Status: Disconnected")
			status.SetClass("status disconnected")
		}
	}

	v.setDisabled("connectBtn", connected)
	v.setDisabled("disconnectBtn", !connected)
	v.setDisabled("sendStreamBtn", !connected)
	v.setDisabled("sendDatagramBtn", !connected)
}

func (v *StatusView) setDisabled(id string, disabled bool) {
	if el, ok := v.doc.ElementByID(id); ok {
		el.SetDisabled(disabled)
	}
}
