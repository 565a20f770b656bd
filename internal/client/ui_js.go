//go:build js && wasm

package client

import "syscall/js"

// domDocument implements Document over the browser DOM.
type domDocument struct {
	doc js.Value
}

var _ Document = (*domDocument)(nil)

// NewDOMDocument returns a Document backed by the browser's global
// document.
func NewDOMDocument() Document {
	return &domDocument{doc: js.Global().Get("document")}
}

func (d *domDocument) ElementByID(id string) (Element, bool) {
	el := d.doc.Call("getElementById", id)
	if el.IsNull() || el.IsUndefined() {
		return nil, false
	}
	return domElement{el: el}, true
}

func (d *domDocument) CreateElement(tag string) Element {
	return domElement{el: d.doc.Call("createElement", tag)}
}

// domElement implements Element over a single DOM node.
type domElement struct {
	el js.Value
}

var _ Element = domElement{}

func (e domElement) SetText(text string) {
	e.el.Set("textContent", text)
}

func (e domElement) SetClass(class string) {
	e.el.Set("className", class)
}

func (e domElement) SetDisabled(disabled bool) {
	e.el.Set("disabled", disabled)
}

func (e domElement) AppendChild(child Element) {
	if c, ok := child.(domElement); ok {
		e.el.Call("appendChild", c.el)
	}
}

func (e domElement) ScrollToBottom() {
	e.el.Set("scrollTop", e.el.Get("scrollHeight"))
}
