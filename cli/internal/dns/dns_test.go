package dns

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_IPLiteral(t *testing.T) {
	r := NewResolver()
	r.lookup = func(context.Context, string, string) ([]string, error) {
		t.Fatal("lookup must not run for IP literals")
		return nil, nil
	}

	ip, err := r.Lookup(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip)
}

func TestLookup_PrefersIPv4FromSystem(t *testing.T) {
	r := NewResolver()
	r.lookup = func(_ context.Context, server, _ string) ([]string, error) {
		assert.Empty(t, server)
		return []string{"::1", "10.0.0.7"}, nil
	}

	ip, err := r.Lookup(context.Background(), "meet.local")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", ip)
}

func TestLookup_FallsBackToPublicRace(t *testing.T) {
	var public atomic.Int32
	r := NewResolver()
	r.Servers = []string{"a", "b", "c"}
	r.lookup = func(_ context.Context, server, _ string) ([]string, error) {
		switch server {
		case "":
			return nil, errors.New("captive resolver")
		case "b":
			public.Add(1)
			return []string{"192.0.2.1"}, nil
		default:
			public.Add(1)
			return nil, errors.New("refused")
		}
	}

	ip, err := r.Lookup(context.Background(), "meet.example")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", ip)
	assert.Positive(t, public.Load())
}

func TestLookup_AllFail(t *testing.T) {
	r := NewResolver()
	r.Servers = []string{"a", "b"}
	r.RaceTimeout = time.Second
	r.lookup = func(context.Context, string, string) ([]string, error) {
		return nil, errors.New("nope")
	}

	_, err := r.Lookup(context.Background(), "meet.example")
	assert.ErrorContains(t, err, "all 2 public DNS servers failed")
}

func TestDialContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()

	_, port, _ := net.SplitHostPort(ln.Addr().String())
	r := NewResolver()
	r.lookup = func(context.Context, string, string) ([]string, error) {
		return []string{"127.0.0.1"}, nil
	}

	conn, err := r.DialContext(context.Background(), "tcp", net.JoinHostPort("signal.test", port))
	require.NoError(t, err)
	conn.Close()
}
