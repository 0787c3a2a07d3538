package ingest

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"attendguard/internal/config"
	"attendguard/internal/model"
)

func TestTCPLinesReachChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	out := make(chan model.Swipe, 4)
	go serveTCP(ctx, ln, config.NewStaticManager(config.DefaultConfig()), out, nil)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	fmt.Fprintln(conn, "timestamp,reader_id,rfid_tag,action")
	fmt.Fprintln(conn, "2026-03-02T12:00:00Z,lobby-1,5F3C7A9E1B,break")
	fmt.Fprintln(conn, "garbage without credential")
	_ = conn.Close()

	select {
	case sw := <-out:
		if sw.Credential != "5F3C7A9E1B" || sw.Intent != model.IntentBreak || sw.Source != "tcp" || sw.ReaderID != "lobby-1" {
			t.Fatalf("unexpected swipe: %+v", sw)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for swipe")
	}
	select {
	case sw := <-out:
		t.Fatalf("unexpected extra swipe: %+v", sw)
	case <-time.After(100 * time.Millisecond):
	}
}
