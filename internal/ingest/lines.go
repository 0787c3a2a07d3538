package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"attendguard/internal/config"
	"attendguard/internal/model"
)

// StartLines accepts one swipe per line from door terminals over UDP
// datagrams and/or a TCP stream.
func StartLines(ctx context.Context, cfg *config.Manager, out chan<- model.Swipe, logger *slog.Logger) {
	current := cfg.Get().Ingest.Lines
	if !current.Enabled {
		if logger != nil {
			logger.Info("line ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("line ingest enabled", "udp_addr", current.UDPAddr, "tcp_addr", current.TCPAddr)
	}
	if current.UDPAddr != "" {
		go listenUDP(ctx, current.UDPAddr, cfg, out, logger)
	}
	if current.TCPAddr != "" {
		go listenTCP(ctx, current.TCPAddr, cfg, out, logger)
	}
}

func listenUDP(ctx context.Context, addr string, cfg *config.Manager, out chan<- model.Swipe, logger *slog.Logger) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		if logger != nil {
			logger.Error("udp resolve error", "err", err)
		}
		return
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		if logger != nil {
			logger.Error("udp listen error", "err", err)
		}
		return
	}
	defer conn.Close()
	parser := NewParser()
	buf := make([]byte, 8192)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				if logger != nil {
					logger.Warn("udp read error", "err", err)
				}
				continue
			}
			for _, line := range strings.Split(string(buf[:n]), "\n") {
				emitLine(ctx, cfg, parser, out, logger, line, "udp")
			}
		}
	}
}

func listenTCP(ctx context.Context, addr string, cfg *config.Manager, out chan<- model.Swipe, logger *slog.Logger) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp listen error", "err", err)
		}
		return
	}
	serveTCP(ctx, ln, cfg, out, logger)
}

func serveTCP(ctx context.Context, ln net.Listener, cfg *config.Manager, out chan<- model.Swipe, logger *slog.Logger) {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if logger != nil {
				logger.Warn("tcp accept error", "err", err)
			}
			continue
		}
		go handleTCPConn(ctx, conn, cfg, out, logger)
	}
}

// handleTCPConn gives each connection its own parser so a CSV header sent by
// one terminal does not leak into another.
func handleTCPConn(ctx context.Context, conn net.Conn, cfg *config.Manager, out chan<- model.Swipe, logger *slog.Logger) {
	defer conn.Close()
	parser := NewParser()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		emitLine(ctx, cfg, parser, out, logger, scanner.Text(), "tcp")
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && logger != nil {
		logger.Warn("tcp scanner error", "err", err)
	}
}
