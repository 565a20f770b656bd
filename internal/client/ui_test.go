package client

import "testing"

type fakeElement struct {
	text     string
	class    string
	disabled bool
	children []*fakeElement
	scrolled int
}

var _ Element = (*fakeElement)(nil)

func (e *fakeElement) SetText(text string)       { e.text = text }
func (e *fakeElement) SetClass(class string)     { e.class = class }
func (e *fakeElement) SetDisabled(disabled bool) { e.disabled = disabled }
func (e *fakeElement) ScrollToBottom()           { e.scrolled++ }

func (e *fakeElement) AppendChild(child Element) {
	e.children = append(e.children, child.(*fakeElement))
}

type fakeDocument struct {
	elements map[string]*fakeElement
}

var _ Document = (*fakeDocument)(nil)

// newFakeDocument builds a document with every element the demo page
// carries.
func newFakeDocument() *fakeDocument {
	doc := &fakeDocument{elements: map[string]*fakeElement{}}
	for _, id := range []string{
		"status", "messages", "messageInput",
		"connectBtn", "disconnectBtn", "sendStreamBtn", "sendDatagramBtn",
	} {
		doc.elements[id] = &fakeElement{}
	}
	return doc
}

func (d *fakeDocument) ElementByID(id string) (Element, bool) {
	el, ok := d.elements[id]
	if !ok {
		return nil, false
	}
	return el, true
}

func (d *fakeDocument) CreateElement(_ string) Element {
	return &fakeElement{}
}

func TestStatusViewAddMessage(t *testing.T) {
	t.Parallel()

	doc := newFakeDocument()
	view := NewStatusView(doc)

	view.AddMessage("hello", KindSent)
	view.AddMessage("Server echo: hello", KindReceived)

	log := doc.elements["messages"]
	if len(log.children) != 2 {
		t.Fatalf("log entries = %d, want 2", len(log.children))
	}
	if got := log.children[0].class; got != "message sent" {
		t.Fatalf("first entry class = %q, want %q", got, "message sent")
	}
	if got := log.children[1].text; got != "Server echo: hello" {
		t.Fatalf("second entry text = %q", got)
	}
	if log.scrolled != 2 {
		t.Fatalf("log scrolled %d times, want 2", log.scrolled)
	}
}

func TestStatusViewAddMessageMissingLog(t *testing.T) {
	t.Parallel()

	doc := newFakeDocument()
	delete(doc.elements, "messages")
	view := NewStatusView(doc)

	// Must not panic when the log element is absent.
	view.AddMessage("hello", KindSystem)
}

func TestStatusViewSetConnected(t *testing.T) {
	t.Parallel()

	doc := newFakeDocument()
	view := NewStatusView(doc)

	view.SetConnected(true)

	status := doc.elements["status"]
	if status.text != "Status: Connected" {
		t.Fatalf("status text = %q", status.text)
	}
	if status.class != "status connected" {
		t.Fatalf("status class = %q", status.class)
	}
	if !doc.elements["connectBtn"].disabled {
		t.Fatal("connect button enabled while connected")
	}
	for _, id := range []string{"disconnectBtn", "sendStreamBtn", "sendDatagramBtn"} {
		if doc.elements[id].disabled {
			t.Fatalf("%s disabled while connected", id)
		}
	}

	view.SetConnected(false)

	if status.text != "Status: Disconnected" {
		t.Fatalf("status text = %q", status.text)
	}
	if status.class != "status disconnected" {
		t.Fatalf("status class = %q", status.class)
	}
	if doc.elements["connectBtn"].disabled {
		t.Fatal("connect button disabled while disconnected")
	}
	for _, id := range []string{"disconnectBtn", "sendStreamBtn", "sendDatagramBtn"} {
		if !doc.elements[id].disabled {
			t.Fatalf("%s enabled while disconnected", id)
		}
	}
}
