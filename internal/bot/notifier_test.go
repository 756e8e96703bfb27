package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog"
)

type sentMessage struct {
	channel snowflake.ID
	content string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	fail bool
}

func (s *fakeSender) CreateMessage(channelID snowflake.ID, m discord.MessageCreate, _ ...rest.RequestOpt) (*discord.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("discord unavailable")
	}
	s.sent = append(s.sent, sentMessage{channelID, m.Content})
	return &discord.Message{}, nil
}

func (s *fakeSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

func TestNotifierDeliversInOrder(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 1000, 100, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)
	defer func() {
		cancel()
		<-n.Done()
	}()

	n.Notify("1", "dropped, no channel yet")
	n.Remember("1", 42)
	n.Notify("1", "first")
	n.Notify("1", "second")

	deadline := time.Now().Add(2 * time.Second)
	for len(sender.messages()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("sent = %+v", sender.messages())
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := sender.messages()
	if len(got) != 2 || got[0].content != "first" || got[1].content != "second" || got[0].channel != 42 {
		t.Fatalf("sent = %+v", got)
	}
}

func TestNotifierSurvivesSendFailure(t *testing.T) {
	sender := &fakeSender{fail: true}
	n := NewNotifier(sender, 1000, 100, zerolog.Nop())
	n.Remember("1", 7)
	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)

	n.Notify("1", "lost")
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-n.Done():
	case <-time.After(time.Second):
		t.Fatal("notifier did not stop")
	}
	if ch, ok := n.Channel("1"); !ok || ch != 7 {
		t.Fatalf("channel = %v, %v", ch, ok)
	}
}
