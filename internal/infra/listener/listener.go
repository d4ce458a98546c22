// Package listener 按 endpoint 前缀打开监听或拨号：host:port、unix://path、vsock://port。
package listener

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"
)

// Scheme 标识 endpoint 类型。
type Scheme string

const (
	SchemeTCP   Scheme = "tcp"
	SchemeUnix  Scheme = "unix"
	SchemeVsock Scheme = "vsock"
)

// Parse 拆分 endpoint，返回类型与去掉前缀后的地址。
func Parse(endpoint string) (Scheme, string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", "", errors.New("endpoint is empty")
	}
	switch {
	case strings.HasPrefix(endpoint, "unix://"):
		return SchemeUnix, strings.TrimPrefix(endpoint, "unix://"), nil
	case strings.HasPrefix(endpoint, "unix:"):
		return SchemeUnix, strings.TrimPrefix(endpoint, "unix:"), nil
	case strings.HasPrefix(endpoint, "vsock://"):
		return SchemeVsock, strings.TrimPrefix(endpoint, "vsock://"), nil
	case strings.HasPrefix(endpoint, "vsock:"):
		return SchemeVsock, strings.TrimPrefix(endpoint, "vsock:"), nil
	default:
		return SchemeTCP, endpoint, nil
	}
}

// Listen 打开监听。unix socket 文件若已存在会先删除；vsock 只需要端口。
func Listen(endpoint string) (net.Listener, error) {
	scheme, addr, err := Parse(endpoint)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case SchemeUnix:
		if err := os.Remove(addr); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", addr, err)
		}
		return net.Listen("unix", addr)
	case SchemeVsock:
		port, err := parsePort(addr)
		if err != nil {
			return nil, err
		}
		return vsock.Listen(port, nil)
	default:
		return net.Listen("tcp", addr)
	}
}

// Dial 连接 endpoint；vsock 形如 vsock://cid:port。
func Dial(ctx context.Context, endpoint string) (net.Conn, error) {
	scheme, addr, err := Parse(endpoint)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case SchemeUnix:
		return (&net.Dialer{}).DialContext(ctx, "unix", addr)
	case SchemeVsock:
		return dialVsock(ctx, addr)
	default:
		return (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	}
}

func dialVsock(ctx context.Context, target string) (net.Conn, error) {
	cidText, portText, ok := strings.Cut(target, ":")
	if !ok {
		return nil, fmt.Errorf("invalid vsock endpoint: %s", target)
	}
	cid, err := strconv.ParseUint(cidText, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid vsock cid: %w", err)
	}
	port, err := parsePort(portText)
	if err != nil {
		return nil, err
	}
	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, dialErr := vsock.Dial(uint32(cid), port, nil)
		resultCh <- dialResult{conn: conn, err: dialErr}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if res := <-resultCh; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-resultCh:
		return res.conn, res.err
	}
}

func parsePort(text string) (uint32, error) {
	port, err := strconv.ParseUint(text, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid vsock port: %w", err)
	}
	return uint32(port), nil
}
