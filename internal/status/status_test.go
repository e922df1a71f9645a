package status

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSignal_ExpiresAfterWindow(t *testing.T) {
	c := New(30 * time.Millisecond)
	defer c.Close()

	c.Signal(Success, TopicHealth, "API health check successful!")
	sig, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, Success, sig.Kind)
	assert.Equal(t, TopicHealth, sig.Topic)

	require.Eventually(t, func() bool {
		_, ok := c.Current()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestSignal_NewerSupersedesOlderTimer(t *testing.T) {
	c := New(80 * time.Millisecond)
	defer c.Close()

	var cleared atomic.Int32
	c.OnClear(func(Signal) { cleared.Add(1) })

	c.Signal(Pending, TopicExport, "exporting")
	time.Sleep(50 * time.Millisecond)
	c.Signal(Success, TopicExport, "exported")

	// The first timer would have fired by now had it not been superseded.
	time.Sleep(50 * time.Millisecond)
	sig, ok := c.Current()
	require.True(t, ok, "newer signal must outlive the older timer")
	assert.Equal(t, "exported", sig.Text)

	require.Eventually(t, func() bool {
		_, ok := c.Current()
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), cleared.Load())
}

func TestExpire_NotifiesEveryListener(t *testing.T) {
	c := New(20 * time.Millisecond)
	defer c.Close()

	got := make(chan Signal, 2)
	c.OnClear(func(s Signal) { got <- s })
	// Listeners run without the lock, so registering from inside one is fine.
	c.OnClear(func(s Signal) {
		c.OnClear(func(Signal) {})
		got <- s
	})

	c.Signal(Success, TopicClipboard, "Copied query to clipboard")
	for i := 0; i < 2; i++ {
		select {
		case s := <-got:
			assert.Equal(t, "Copied query to clipboard", s.Text)
			assert.Equal(t, TopicClipboard, s.Topic)
		case <-time.After(time.Second):
			t.Fatalf("listener %d not notified", i)
		}
	}
}

func TestClear_StopsTimerWithoutNotify(t *testing.T) {
	c := New(20 * time.Millisecond)
	var cleared atomic.Int32
	c.OnClear(func(Signal) { cleared.Add(1) })

	c.Signal(Error, TopicSession, "reset failed")
	c.Clear()
	_, ok := c.Current()
	assert.False(t, ok)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), cleared.Load())
}

func TestSignal_UsesClock(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := New(time.Minute, WithClock(func() time.Time { return at }))
	defer c.Close()

	sig := c.Signal(Success, TopicHealth, "")
	assert.Equal(t, at, sig.CreatedAt)
	assert.Equal(t, time.Minute, c.Window())
}

func TestNew_DefaultWindow(t *testing.T) {
	c := New(0)
	assert.Equal(t, DefaultWindow, c.Window())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "error", Error.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "none", Kind(0).String())
}
