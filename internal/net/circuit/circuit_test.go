package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_OpensAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(Config{ConsecutiveFailures: 3, MaxRequests: 1, Timeout: time.Hour})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := m.Execute("quote.example", func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, m.State("quote.example"))

	called := false
	err := m.Execute("quote.example", func() error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called, "open breaker must not invoke the call")
	assert.ErrorIs(t, err, ErrOpen)

	var oe *OpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "quote.example", oe.Host)

	// other hosts are unaffected
	assert.NoError(t, m.Execute("news.example", func() error { return nil }))
	assert.Equal(t, gobreaker.StateClosed, m.State("news.example"))
}

func TestManager_HalfOpenRecovers(t *testing.T) {
	m := NewManager(Config{ConsecutiveFailures: 1, MaxRequests: 1, Timeout: 20 * time.Millisecond})

	_ = m.Execute("h", func() error { return errors.New("fail") })
	assert.Equal(t, gobreaker.StateOpen, m.State("h"))

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, m.State("h"))

	require.NoError(t, m.Execute("h", func() error { return nil }))
	assert.Equal(t, gobreaker.StateClosed, m.State("h"))
}

func TestManager_IsFailureFilter(t *testing.T) {
	notCounted := errors.New("page had no price")
	m := NewManager(Config{
		ConsecutiveFailures: 1,
		Timeout:             time.Hour,
		IsFailure:           func(err error) bool { return !errors.Is(err, notCounted) },
	})

	for i := 0; i < 5; i++ {
		_ = m.Execute("h", func() error { return notCounted })
	}
	assert.Equal(t, gobreaker.StateClosed, m.State("h"))

	st := m.Stats()["h"]
	assert.Equal(t, "closed", st.State)
	assert.Equal(t, uint32(5), st.Requests)
}
