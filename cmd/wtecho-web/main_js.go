//go:build js && wasm

// Command wtecho-web is the browser client for the WebTransport echo
// server, compiled to WebAssembly. It registers the four globals the
// demo page calls (wtConnect, wtDisconnect, wtSendStream,
// wtSendDatagram) and renders all activity into the page DOM.
package main

import (
	"context"
	"fmt"
	"syscall/js"

	"github.com/zsiec/wtecho/internal/certs"
	"github.com/zsiec/wtecho/internal/client"
)

func main() {
	view := client.NewStatusView(client.NewDOMDocument())
	ctrl := client.NewController(client.Config{
		Dial: client.Dial,
		UI:   view,
	})

	// Controller calls block on browser promises, so every callback
	// dispatches to a goroutine; blocking inside a js.FuncOf callback
	// would deadlock the event loop.
	js.Global().Set("wtConnect", js.FuncOf(func(_ js.Value, args []js.Value) any {
		if len(args) < 2 {
			return nil
		}
		url := args[0].String()
		hashHex := args[1].String()
		go func() {
			hash, err := certs.ParseFingerprintHex(hashHex)
			if err != nil {
				view.AddMessage(fmt.Sprintf("Invalid certificate hash: %v", err), client.KindSystem)
				return
			}
			ctrl.Connect(context.Background(), url, hash)
		}()
		return nil
	}))

	js.Global().Set("wtDisconnect", js.FuncOf(func(_ js.Value, _ []js.Value) any {
		go ctrl.Disconnect()
		return nil
	}))

	js.Global().Set("wtSendStream", js.FuncOf(func(_ js.Value, args []js.Value) any {
		if len(args) < 1 {
			return nil
		}
		text := args[0].String()
		go ctrl.SendStream(text)
		return nil
	}))

	js.Global().Set("wtSendDatagram", js.FuncOf(func(_ js.Value, args []js.Value) any {
		if len(args) < 1 {
			return nil
		}
		text := args[0].String()
		go ctrl.SendDatagram(text)
		return nil
	}))

	// Keep the exports alive for the lifetime of the page.
	ch := make(chan bool)
	<-ch
}
