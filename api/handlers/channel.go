package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/linesmerrill/alarm-trigger-api/api"
	"github.com/linesmerrill/alarm-trigger-api/api/channeltoken"
	"github.com/linesmerrill/alarm-trigger-api/api/debounce"
	"github.com/linesmerrill/alarm-trigger-api/api/push"
	"github.com/linesmerrill/alarm-trigger-api/config"
	"github.com/linesmerrill/alarm-trigger-api/models"
)

const (
	// ChannelTokenHeader may carry the channel token instead of the token query parameter
	ChannelTokenHeader = "X-Channel-Token"

	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxControlSize = 512
)

// Channel issues channel tokens and serves the push channel itself
type Channel struct {
	Issuer        *channeltoken.Issuer
	Hub           *push.Hub
	Upgrader      websocket.Upgrader
	DebounceQuiet time.Duration
}

// TokenHandler mints a channel token for the authenticated user
func (c Channel) TokenHandler(w http.ResponseWriter, r *http.Request) {
	tok, err := c.Issuer.Issue(api.UserID(r))
	switch {
	case errors.Is(err, channeltoken.ErrMissingUser):
		config.ErrorStatus("failed to issue channel token", http.StatusUnauthorized, w, err)
		return
	case errors.Is(err, channeltoken.ErrRateLimited):
		config.ErrorStatus("failed to issue channel token", http.StatusTooManyRequests, w, err)
		return
	case err != nil:
		config.ErrorStatus("failed to issue channel token", http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(tok)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// ConnectHandler validates the channel token, upgrades the connection and keeps it
// registered with the hub until the client goes away
func (c Channel) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get(ChannelTokenHeader)
	}

	var conn *websocket.Conn
	handle, err := c.Hub.Open(token, func() (push.Conn, error) {
		var err error
		conn, err = c.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
	switch {
	case errors.Is(err, channeltoken.ErrInvalidToken), errors.Is(err, channeltoken.ErrExpiredToken):
		config.ErrorStatus("failed to open channel", http.StatusUnauthorized, w, err)
		return
	case errors.Is(err, push.ErrHubClosed):
		if conn == nil {
			config.ErrorStatus("failed to open channel", http.StatusServiceUnavailable, w, err)
		}
		return
	case err != nil:
		// the upgrader has already answered the request
		zap.S().Warnw("failed to upgrade channel", "error", err)
		return
	}

	c.serve(handle, conn)
}

// serve runs the read loop of one channel. Control frames toggle delivery and are
// debounced so that a burst of them settles on the last one.
func (c Channel) serve(handle *push.Handle, conn *websocket.Conn) {
	subscriptions := debounce.New[string](c.DebounceQuiet)
	defer subscriptions.Close()
	defer c.Hub.Close(handle)

	conn.SetReadLimit(maxControlSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.keepalive(handle)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.S().Debugw("channel read failed", "userId", handle.UserID(), "handleId", handle.ID(), "error", err)
			}
			return
		}

		var ctrl models.ChannelControl
		if err := json.Unmarshal(data, &ctrl); err != nil {
			zap.S().Debugw("ignoring malformed control frame", "handleId", handle.ID(), "error", err)
			continue
		}
		switch ctrl.Type {
		case models.ChannelSubscribe:
			subscriptions.Schedule(handle.ID(), func() { c.Hub.Resume(handle) })
		case models.ChannelUnsubscribe:
			subscriptions.Schedule(handle.ID(), func() { c.Hub.Suspend(handle) })
		default:
			zap.S().Debugw("ignoring unknown control frame", "handleId", handle.ID(), "type", ctrl.Type)
		}
	}
}

func (c Channel) keepalive(handle *push.Handle) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-handle.Done():
			return
		case <-ticker.C:
			if err := handle.Ping(); err != nil {
				c.Hub.Close(handle)
				return
			}
		}
	}
}
