package worker

import (
	"bytes"
	"context"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/websocket"

	"hwstress/internal/cerrors"
)

const (
	defaultFrameSize  = 64 << 10
	roundTripDeadline = time.Second
)

// networkPayload はループバックの websocket エコーサーバーとの往復で
// ネットワークスタックに負荷をかける
type networkPayload struct {
	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	url      string
	frame    []byte
	conns    []*websocket.Conn // goroutine ごとの接続
}

func (p *networkPayload) setup(cfg Config) error {
	frameSize := defaultFrameSize
	if v := cfg.Param("frame_kib", ""); v != "" {
		kib, err := strconv.Atoi(v)
		if err != nil || kib <= 0 {
			return cerrors.Setup{Component: string(KindNetwork), Target: cfg.Name, Reason: "invalid frame_kib " + v}
		}
		frameSize = kib << 10
	}

	addr := cfg.Param("listen", "127.0.0.1:0")
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return cerrors.Setup{Component: string(KindNetwork), Target: cfg.Name, Reason: "listen " + addr + ": " + err.Error()}
	}

	mux := http.NewServeMux()
	mux.Handle("/echo", websocket.Handler(echo))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()

	frame := make([]byte, frameSize)
	rand.New(rand.NewSource(time.Now().UnixNano())).Read(frame)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = ln
	p.server = srv
	p.url = "ws://" + ln.Addr().String() + "/echo"
	p.frame = frame
	p.conns = make([]*websocket.Conn, Goroutines(KindNetwork, cfg.Intensity))
	return nil
}

func echo(ws *websocket.Conn) {
	defer ws.Close()
	for {
		var msg []byte
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			return
		}
		if err := websocket.Message.Send(ws, msg); err != nil {
			return
		}
	}
}

func (p *networkPayload) iterate(ctx context.Context, id int) error {
	conn, err := p.conn(id)
	if err != nil {
		return err
	}

	p.mu.Lock()
	frame := p.frame
	p.mu.Unlock()

	_ = conn.SetDeadline(time.Now().Add(roundTripDeadline))
	if err := websocket.Message.Send(conn, frame); err != nil {
		p.drop(id)
		return errors.Wrap(err, "send frame")
	}
	var reply []byte
	if err := websocket.Message.Receive(conn, &reply); err != nil {
		p.drop(id)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "receive frame")
	}
	if !bytes.Equal(frame, reply) {
		return cerrors.Runtime{Component: string(KindNetwork), Reason: "echoed frame differs"}
	}
	return nil
}

// conn は goroutine 用の接続を返す（なければ接続する）
func (p *networkPayload) conn(id int) (*websocket.Conn, error) {
	p.mu.Lock()
	c := p.conns[id]
	url := p.url
	p.mu.Unlock()

	if c != nil {
		return c, nil
	}

	c, err := websocket.Dial(url, "", "http://127.0.0.1/")
	if err != nil {
		return nil, errors.Wrap(err, "dial echo server")
	}

	p.mu.Lock()
	p.conns[id] = c
	p.mu.Unlock()
	return c, nil
}

func (p *networkPayload) drop(id int) {
	p.mu.Lock()
	c := p.conns[id]
	p.conns[id] = nil
	p.mu.Unlock()

	if c != nil {
		_ = c.Close()
	}
}

func (p *networkPayload) cleanup() {
	p.mu.Lock()
	conns := p.conns
	srv := p.server
	p.conns = nil
	p.server = nil
	p.listener = nil
	p.mu.Unlock()

	for _, c := range conns {
		if c != nil {
			_ = c.Close()
		}
	}
	if srv != nil {
		_ = srv.Close()
	}
}

// addr はテスト用にエコーサーバーのアドレスを返す
func (p *networkPayload) addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}
