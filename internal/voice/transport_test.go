package voice

import (
	"context"
	"errors"
	"testing"

	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog"

	"github.com/friendsincode/guildplay/internal/playback"
)

func noConns(snowflake.ID) voice.Conn { return nil }

func TestManagerReusesTransport(t *testing.T) {
	m := NewManager(noConns, DefaultJoinPolicy(), zerolog.Nop())
	if m.For("1") != m.For("1") {
		t.Fatal("transport not reused per guild")
	}
	if m.For("1") == m.For("2") {
		t.Fatal("guilds share a transport")
	}
}

func TestTransportRejectsBadIDs(t *testing.T) {
	m := NewManager(noConns, DefaultJoinPolicy(), zerolog.Nop())
	if err := m.For("not-a-guild").Connect(context.Background(), "123"); err == nil {
		t.Fatal("expected error for invalid guild id")
	}
	if err := m.For("123").Connect(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for invalid channel id")
	}
}

type otherPlayer struct{}

func (otherPlayer) Release() error { return nil }

func TestTransportPlayRequiresConnection(t *testing.T) {
	m := NewManager(noConns, DefaultJoinPolicy(), zerolog.Nop())
	tr := m.For("123")
	if tr.IsConnected() {
		t.Fatal("new transport reports connected")
	}
	if err := tr.Play(&Player{}, func(error) {}); !errors.Is(err, playback.ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
	if err := tr.Play(otherPlayer{}, func(error) {}); err == nil {
		t.Fatal("foreign player accepted")
	}
	m.MarkDisconnected("123")
	if err := tr.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestTransportConnectWithoutVoice(t *testing.T) {
	m := NewManager(nil, DefaultJoinPolicy(), zerolog.Nop())
	err := m.For("100").Connect(context.Background(), "200")
	if !errors.Is(err, playback.ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
}
