package events

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/agentcore/pkg/session"
)

func TestPumpEmitsExactlyOneFinish(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewStreamWriter(rec)
	require.NoError(t, err)

	ch := make(chan Event, 4)
	ch <- Message(session.NewMessage(session.RoleAssistant, session.TextContent{Text: "hi"}), session.TokenState{})
	ch <- Finish(FinishStop, session.TokenState{})
	close(ch)

	err = sw.Pump(ch, nil, time.Hour)
	require.NoError(t, err)

	body := rec.Body.String()
	assert.Equal(t, 1, countOccurrences(body, `"type":"Finish"`))
	assert.Contains(t, body, `"type":"Message"`)
}

func TestPumpInjectsPingsOnIdle(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewStreamWriter(rec)
	require.NoError(t, err)

	ch := make(chan Event, 1)
	done := make(chan struct{})
	go func() {
		time.Sleep(25 * time.Millisecond)
		ch <- Finish(FinishStop, session.TokenState{})
		close(done)
	}()

	err = sw.Pump(ch, nil, 5*time.Millisecond)
	require.NoError(t, err)
	<-done

	assert.Contains(t, rec.Body.String(), `"type":"Ping"`)
}

func TestBusEmitRespectsCapacity(t *testing.T) {
	bus := NewBus(1)
	require.NoError(t, bus.Emit(context.Background(), Ping()))

	errc := make(chan error, 1)
	go func() { errc <- bus.Emit(context.Background(), Ping()) }()

	select {
	case <-errc:
		t.Fatal("second Emit should have blocked on a full channel")
	case <-time.After(20 * time.Millisecond):
	}

	<-bus.Events()
	require.NoError(t, <-errc)
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
			i += len(substr) - 1
		}
	}
	return count
}
