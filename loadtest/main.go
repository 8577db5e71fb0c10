package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go-realtime-chat/internal/log"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

var (
	baseURL  = flag.String("url", "http://localhost:8080", "server base URL")
	pairs    = flag.Int("pairs", 50, "number of user pairs")
	msgCount = flag.Int("messages", 20, "messages per user")
	parallel = flag.Int("parallel", 100, "pairs running at once")
	interval = flag.Duration("interval", 10*time.Millisecond, "delay between sends")
	settle   = flag.Duration("settle", 2*time.Second, "time to wait for trailing deliveries")
)

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

type loginData struct {
	Token string `json:"access_token"`
	ID    int64  `json:"id"`
}

type event struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data"`
}

type stats struct {
	sent      atomic.Int64
	acked     atomic.Int64
	delivered atomic.Int64
	errors    atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (s *stats) observe(d time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

func (s *stats) avgLatency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range s.latencies {
		total += d
	}
	return total / time.Duration(len(s.latencies))
}

func main() {
	flag.Parse()
	log.Init(log.Config{Level: "info", Pretty: true, ServiceName: "loadtest"})
	logger := log.L()

	logger.Info().Int("users", *pairs*2).Int("messages_each", *msgCount).Msg("starting stress test")

	run := uuid.NewString()[:6]
	st := &stats{}
	started := time.Now()

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(*parallel)
	for i := 0; i < *pairs; i++ {
		g.Go(func() error {
			if err := runPair(ctx, run, i, st); err != nil {
				st.errors.Add(1)
				l := log.L()
				l.Warn().Err(err).Int("pair", i).Msg("pair failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	expected := int64(*pairs * 2 * *msgCount)
	logger.Info().
		Int64("sent", st.sent.Load()).
		Int64("acked", st.acked.Load()).
		Int64("delivered", st.delivered.Load()).
		Int64("expected_deliveries", expected).
		Int64("failed_pairs", st.errors.Load()).
		Dur("avg_ack_latency", st.avgLatency()).
		Dur("elapsed", time.Since(started)).
		Msg("load test complete")
}

func runPair(ctx context.Context, run string, pairID int, st *stats) error {
	pass := "password123"
	a, err := authenticate(fmt.Sprintf("lt_%s_%d_a", run, pairID), pass)
	if err != nil {
		return err
	}
	b, err := authenticate(fmt.Sprintf("lt_%s_%d_b", run, pairID), pass)
	if err != nil {
		return err
	}

	connA, err := connect(a.Token)
	if err != nil {
		return err
	}
	defer connA.Close()
	connB, err := connect(b.Token)
	if err != nil {
		return err
	}
	defer connB.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); spamChat(ctx, connA, b.ID, st) }()
	go func() { defer wg.Done(); spamChat(ctx, connB, a.ID, st) }()
	wg.Wait()
	return nil
}

// authenticate registers (ignoring conflicts) and logs in.
func authenticate(username, password string) (*loginData, error) {
	resp, err := postJSON("/register", map[string]string{
		"username": username,
		"email":    username + "@loadtest.local",
		"password": password,
	})
	if err == nil {
		resp.Body.Close()
	}

	resp, err = postJSON("/login", map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login %s: status %d", username, resp.StatusCode)
	}

	var body envelope[loginData]
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return &body.Data, nil
}

func connect(token string) (*websocket.Conn, error) {
	u, err := url.Parse(*baseURL)
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("ws connect: %w", err)
	}
	return conn, nil
}

// spamChat sends msgCount private messages to peer while counting what
// arrives on the same connection.
func spamChat(ctx context.Context, conn *websocket.Conn, peer int64, st *stats) {
	if err := conn.WriteJSON(map[string]any{"type": "joinPrivateChat", "otherUserId": peer}); err != nil {
		return
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]time.Time)
		done    = make(chan struct{})
	)
	go func() {
		defer close(done)
		for {
			var ev event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			switch ev.Type {
			case "newMessage":
				st.delivered.Add(1)
			case "messageSent":
				st.acked.Add(1)
				mu.Lock()
				if at, ok := pending[ev.RequestID]; ok {
					st.observe(time.Since(at))
					delete(pending, ev.RequestID)
				}
				mu.Unlock()
			}
		}
	}()

	for i := 0; i < *msgCount && ctx.Err() == nil; i++ {
		reqID := uuid.NewString()
		mu.Lock()
		pending[reqID] = time.Now()
		mu.Unlock()

		err := conn.WriteJSON(map[string]any{
			"type":      "sendMessage",
			"requestId": reqID,
			"chatType":  "private",
			"chatRoom":  peer,
			"content":   fmt.Sprintf("LoadTest Msg %d", i),
		})
		if err != nil {
			l := log.L()
			l.Warn().Err(err).Msg("send failed")
			break
		}
		st.sent.Add(1)
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(*interval)
	}

	time.Sleep(*settle)
	conn.Close()
	<-done
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return http.Post(*baseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
