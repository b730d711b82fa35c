package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// consume reads batches until the channel is closed and empty.
func consume(ch *Channel, fn func(Event)) {
	for {
		batch, done := ch.Take()
		for _, e := range batch {
			fn(e)
		}
		if done {
			return
		}
		if len(batch) == 0 {
			<-ch.Ready()
		}
	}
}

func TestChannel_DeliversEverythingAfterClose(t *testing.T) {
	ch := NewChannel(0)

	const producers, perProducer = 8, 500
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				ch.Emit(Event{Kind: Counter, Name: fmt.Sprintf("p%d", p), Value: float64(i)})
			}
		}(p)
	}

	lastSeen := map[string]float64{}
	count := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		consume(ch, func(e Event) {
			if last, ok := lastSeen[e.Name]; ok && e.Value <= last {
				t.Errorf("out of order for %s: %v after %v", e.Name, e.Value, last)
			}
			lastSeen[e.Name] = e.Value
			count++
		})
	}()

	wg.Wait()
	ch.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish after Close")
	}

	assert.Equal(t, producers*perProducer, count)
	assert.Equal(t, int64(producers*perProducer), ch.Emitted())
	assert.Zero(t, ch.Dropped())
	assert.Zero(t, ch.Len())
}

func TestChannel_EmitAfterCloseIsDropped(t *testing.T) {
	ch := NewChannel(0)
	ch.Emit(Event{Name: "a"})
	ch.Close()
	ch.Emit(Event{Name: "b"})

	var got []string
	consume(ch, func(e Event) { got = append(got, e.Name) })

	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, int64(1), ch.Dropped())
}

func TestChannel_Pressure(t *testing.T) {
	ch := NewChannel(3)
	for i := 0; i < 3; i++ {
		ch.Emit(Event{Name: "x"})
	}
	assert.False(t, ch.Pressured())
	ch.Emit(Event{Name: "x"})
	assert.True(t, ch.Pressured())
	assert.Equal(t, 3, ch.HighWater())
	assert.Equal(t, int64(4), ch.Peak())

	batch, done := ch.Take()
	assert.Len(t, batch, 4)
	assert.False(t, done)
	assert.False(t, ch.Pressured())
	assert.Equal(t, int64(4), ch.Peak(), "peak is sticky")
}

func TestChannel_ReadySignals(t *testing.T) {
	ch := NewChannel(0)
	select {
	case <-ch.Ready():
		t.Fatal("empty channel signalled")
	default:
	}

	ch.Emit(Event{Name: "a"})
	ch.Emit(Event{Name: "b"})
	select {
	case <-ch.Ready():
	default:
		t.Fatal("no signal after Emit")
	}

	batch, done := ch.Take()
	assert.Len(t, batch, 2)
	assert.False(t, done)

	ch.Close()
	<-ch.Ready()
	batch, done = ch.Take()
	assert.Empty(t, batch)
	assert.True(t, done)
}

func TestHelpers(t *testing.T) {
	var got []Event
	e := EmitterFunc(func(ev Event) { got = append(got, ev) })

	EmitCounter(e, "c", 3)
	EmitRate(e, "r")
	EmitHistogram(e, "h", 1.5)
	Discard.Emit(Event{})

	require.Len(t, got, 3)
	assert.Equal(t, Event{Kind: Counter, Name: "c", Value: 3, Time: got[0].Time}, got[0])
	assert.Equal(t, Rate, got[1].Kind)
	assert.Equal(t, 1.5, got[2].Value)
	assert.Equal(t, "histogram", got[2].Kind.String())

	k, ok := ParseKind("rate")
	assert.True(t, ok)
	assert.Equal(t, Rate, k)
	_, ok = ParseKind("gauge")
	assert.False(t, ok)
}
