package router

import (
	"net/http"

	"github.com/gorilla/mux"

	"cocode/middleware"
	"cocode/socket"
)

// Setup wires the websocket endpoint behind the admission gate. The room key
// rides in the path segment, with a query-parameter fallback handled by the
// socket layer.
func Setup(hub *socket.Hub, gate *middleware.AdmissionGate) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		socket.ServeWs(hub, w, req)
	})
	// y-websocket style addressing: the room name is the path itself.
	r.Handle("/ws/{room}", gate.Middleware(wsHandler))
	r.Handle("/ws", gate.Middleware(wsHandler))
	r.Handle("/{room}", gate.Middleware(wsHandler))
	r.Handle("/", gate.Middleware(wsHandler))

	return r
}
