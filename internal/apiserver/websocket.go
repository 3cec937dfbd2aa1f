package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/softline/intel/backend/internal/ingest"
)

const (
	websocketPushInterval = 2 * time.Second
	websocketReadLimit    = 1 << 20
	websocketReadTimeout  = 90 * time.Second
	websocketWriteTimeout = 10 * time.Second
	websocketFeedLimit    = 50
)

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

type websocketEnvelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	TS      int64  `json:"ts"`
}

type websocketSubscribeRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// Channels are "feed" and "prices.<mint>". Subscribed channels are pushed
// every websocketPushInterval until the client disconnects.
func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocketUpgrader
	upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		return s.isOriginAllowed(origin)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	subscriptions := newSubscriptionSet()
	readErrCh := make(chan error, 1)
	go s.websocketReadLoop(conn, subscriptions, readErrCh)

	ticker := time.NewTicker(websocketPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case err := <-readErrCh:
			if err != nil && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				s.logger.Debug("websocket read ended", "err", err)
			}
			return
		case <-ticker.C:
			for _, channel := range subscriptions.List() {
				if err := s.pushWebsocketChannel(r.Context(), conn, channel); err != nil {
					return
				}
			}
		}
	}
}

func (s *Service) websocketReadLoop(conn *websocket.Conn, subscriptions *subscriptionSet, readErrCh chan<- error) {
	conn.SetReadLimit(websocketReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(websocketReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(websocketReadTimeout))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			readErrCh <- err
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(websocketReadTimeout))

		var req websocketSubscribeRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			continue
		}
		channel := strings.TrimSpace(req.Channel)
		if channel == "" {
			continue
		}

		switch strings.ToLower(strings.TrimSpace(req.Type)) {
		case "subscribe":
			subscriptions.Add(channel)
		case "unsubscribe":
			subscriptions.Remove(channel)
		}
	}
}

func (s *Service) pushWebsocketChannel(ctx context.Context, conn *websocket.Conn, channel string) error {
	data, err := s.websocketChannelData(ctx, channel)
	if err != nil {
		return s.writeWebsocketJSON(conn, websocketEnvelope{
			Type:    "error",
			Channel: channel,
			Error:   err.Error(),
			TS:      time.Now().UnixMilli(),
		})
	}

	return s.writeWebsocketJSON(conn, websocketEnvelope{
		Type:    "update",
		Channel: channel,
		Data:    data,
		TS:      time.Now().UnixMilli(),
	})
}

func (s *Service) websocketChannelData(ctx context.Context, channel string) (any, error) {
	if channel == "feed" {
		records, _, _, err := s.store.ListTransactions(ctx, ingest.TransactionFilter{Limit: websocketFeedLimit})
		if err != nil {
			return nil, err
		}
		return classifiedTradeItems(records), nil
	}

	if mint, ok := strings.CutPrefix(channel, "prices."); ok && mint != "" {
		price, err := s.store.GetLatestTokenPrice(ctx, mint)
		if err != nil {
			return nil, err
		}
		return price, nil
	}

	return nil, errUnknownChannel(channel)
}

type errUnknownChannel string

func (e errUnknownChannel) Error() string {
	return "unknown channel: " + string(e)
}

func (s *Service) writeWebsocketJSON(conn *websocket.Conn, payload any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}

type subscriptionSet struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{items: make(map[string]struct{})}
}

func (s *subscriptionSet) Add(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[channel] = struct{}{}
}

func (s *subscriptionSet) Remove(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, channel)
}

func (s *subscriptionSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channels := make([]string, 0, len(s.items))
	for channel := range s.items {
		channels = append(channels, channel)
	}
	return channels
}
