package eventlog_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/toy-file-chat/internal/eventlog"
	"github.com/omochice/toy-file-chat/pkg/protocol"
)

func chat(sender, text string) protocol.Inbound {
	return protocol.Inbound{Sender: sender, Content: protocol.Chat{Text: text}}
}

func TestLog_NewestFirst(t *testing.T) {
	log := eventlog.New()
	const n = 5

	for i := 0; i < n; i++ {
		log.Prepend(chat("alice", fmt.Sprintf("msg %d", i)))
	}

	require.Equal(t, n, log.Len())
	snap := log.Snapshot()
	require.Len(t, snap, n)
	for i, e := range snap {
		want := fmt.Sprintf("msg %d", n-1-i)
		assert.Equal(t, want, e.Message.Content.(protocol.Chat).Text)
		assert.Equal(t, uint64(n-i), e.Seq)
	}

	newest, ok := log.At(0)
	require.True(t, ok)
	assert.Equal(t, "msg 4", newest.Message.Content.(protocol.Chat).Text)

	_, ok = log.At(n)
	assert.False(t, ok)
	_, ok = log.At(-1)
	assert.False(t, ok)
}

func TestLog_EntriesImmutable(t *testing.T) {
	log := eventlog.New()
	data := []byte{1, 2, 3}
	first := log.Prepend(protocol.Inbound{Sender: "bob", Content: protocol.File{Filename: "a.txt", Data: data}})
	before := log.Snapshot()

	data[0] = 99
	for i := 0; i < 3; i++ {
		log.Prepend(chat("alice", "later"))
	}

	after := log.Snapshot()
	require.Len(t, after, 4)
	assert.Equal(t, before[0], after[3], "populated entries must not change")

	got, ok := log.Find(first.ID)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, got.Message.Content.(protocol.File).Data)
}

func TestLog_Find(t *testing.T) {
	log := eventlog.New()
	e := log.Prepend(chat("alice", "hi"))
	log.Prepend(chat("bob", "yo"))

	got, ok := log.Find(e.ID)
	require.True(t, ok)
	assert.Equal(t, e, got)

	_, ok = log.Find(uuid.New())
	assert.False(t, ok)
}

func TestLog_Since(t *testing.T) {
	log := eventlog.New()
	for _, text := range []string{"a", "b", "c"} {
		log.Prepend(chat("alice", text))
	}

	got := log.Since(1)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Message.Content.(protocol.Chat).Text)
	assert.Equal(t, "c", got[1].Message.Content.(protocol.Chat).Text)

	assert.Empty(t, log.Since(3))
	assert.Empty(t, log.Since(10))
}

func TestLog_Changed(t *testing.T) {
	log := eventlog.New()
	ch := log.Changed()

	select {
	case <-ch:
		t.Fatal("Changed() closed before any Prepend")
	default:
	}

	log.Prepend(chat("alice", "hi"))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Changed() not closed after Prepend")
	}

	assert.NotEqual(t, ch, log.Changed(), "a fresh channel is handed out after each change")
}

func TestLog_ConcurrentPrepend(t *testing.T) {
	log := eventlog.New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				log.Prepend(chat("alice", "x"))
				_ = log.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, log.Len())
	snap := log.Snapshot()
	for i := 1; i < len(snap); i++ {
		assert.Greater(t, snap[i-1].Seq, snap[i].Seq)
	}
}
