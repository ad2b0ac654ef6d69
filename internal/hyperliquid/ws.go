package hyperliquid

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// MidsFeed keeps a live allMids snapshot over the venue websocket so the
// scanner can skip an HTTP round-trip when the feed is fresh.
type MidsFeed struct {
	mu sync.RWMutex

	url       string
	conn      *websocket.Conn
	isRunning bool
	stopChan  chan struct{}

	mids       map[string]float64
	lastUpdate time.Time
	reconnects int

	log zerolog.Logger
}

// wsMessage is the subscription envelope for channel messages.
type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type allMidsData struct {
	Mids map[string]string `json:"mids"`
}

// NewMidsFeed creates a feed for the given websocket URL.
func NewMidsFeed(url string, logger zerolog.Logger) *MidsFeed {
	return &MidsFeed{
		url:  url,
		mids: make(map[string]float64),
		log:  logger,
	}
}

// Start connects and begins the read loop. Safe to call once.
func (f *MidsFeed) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isRunning {
		return nil
	}
	if err := f.connectLocked(); err != nil {
		return err
	}
	f.isRunning = true
	f.stopChan = make(chan struct{})
	go f.readLoop()
	return nil
}

// Stop closes the connection and terminates the read loop.
func (f *MidsFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isRunning {
		return
	}
	f.isRunning = false
	close(f.stopChan)
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

// Snapshot returns a copy of the current mids and the snapshot age. Callers
// treat a stale snapshot as a miss and fall back to the HTTP fetch.
func (f *MidsFeed) Snapshot() (map[string]float64, time.Duration) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.mids) == 0 {
		return nil, 0
	}
	out := make(map[string]float64, len(f.mids))
	for k, v := range f.mids {
		out[k] = v
	}
	return out, time.Since(f.lastUpdate)
}

// connectLocked dials and subscribes. The previous connection, if any, is
// closed first so its handlers do not accumulate on the new transport.
func (f *MidsFeed) connectLocked() error {
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}

	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		return err
	}

	sub := map[string]any{
		"method":       "subscribe",
		"subscription": map[string]string{"type": "allMids"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return err
	}

	f.conn = conn
	return nil
}

func (f *MidsFeed) readLoop() {
	for {
		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.stopChan:
				return
			default:
			}
			f.log.Warn().Err(err).Msg("mids feed read failed, reconnecting")
			if !f.reconnect() {
				return
			}
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Channel != "allMids" {
			continue
		}
		var payload allMidsData
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			continue
		}
		f.apply(payload.Mids)
	}
}

func (f *MidsFeed) apply(raw map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for symbol, px := range raw {
		if v, err := strconv.ParseFloat(px, 64); err == nil {
			f.mids[symbol] = v
		}
	}
	f.lastUpdate = time.Now()
}

func (f *MidsFeed) reconnect() bool {
	backoff := time.Second
	for {
		select {
		case <-f.stopChan:
			return false
		case <-time.After(backoff):
		}

		f.mu.Lock()
		if !f.isRunning {
			f.mu.Unlock()
			return false
		}
		err := f.connectLocked()
		if err == nil {
			f.reconnects++
			f.log.Info().Int("reconnects", f.reconnects).Msg("mids feed reconnected")
			f.mu.Unlock()
			return true
		}
		f.mu.Unlock()

		f.log.Warn().Err(err).Msg("mids feed reconnect failed")
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
