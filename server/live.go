package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"mytracker/internal"
)

const liveEndpoint = "/ws/live"

// LiveFeed mirrors raw gateway traffic to connected websocket clients, used
// by the web console to watch a transfer in real time.
type LiveFeed struct {
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]bool
	logger   internal.LogHandler
	mux      sync.Mutex
}

func NewLiveFeed(logger internal.LogHandler) *LiveFeed {
	return &LiveFeed{
		upgrader: websocket.Upgrader{},
		clients:  make(map[*websocket.Conn]bool),
		logger:   logger,
	}
}

func (f *LiveFeed) Register(router *httprouter.Router) {
	router.GET(liveEndpoint, f.handleRequest)
}

func (f *LiveFeed) handleRequest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	f.upgrader.CheckOrigin = func(r *http.Request) bool {
		return true
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error("live feed upgrade failed", err)
		return
	}
	f.mux.Lock()
	f.clients[conn] = true
	f.mux.Unlock()
	f.logger.Debug(fmt.Sprintf("live feed client connected from %s", r.RemoteAddr))

	go f.reader(conn)
}

// reader drains client frames until the socket closes; the feed is one-way.
func (f *LiveFeed) reader(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	f.drop(conn)
}

func (f *LiveFeed) drop(conn *websocket.Conn) {
	f.mux.Lock()
	delete(f.clients, conn)
	f.mux.Unlock()
	_ = conn.Close()
	f.logger.Debug("live feed client disconnected")
}

// Broadcast sends one line to every connected client, dropping the ones
// that fail to take it.
func (f *LiveFeed) Broadcast(line string) {
	f.mux.Lock()
	var dead []*websocket.Conn
	for conn := range f.clients {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			dead = append(dead, conn)
		}
	}
	f.mux.Unlock()
	for _, conn := range dead {
		f.drop(conn)
	}
}
