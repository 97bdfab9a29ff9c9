package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"abuse-gateway/internal/models"
)

func TestRecorderFillsEventMetadata(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := NewRecorder(nil, nil, zap.New(core))
	defer r.Close()

	r.Record(models.SecurityEvent{
		EventType: models.EventRateLimited,
		Identity:  "203.0.113.7",
		Policy:    "login",
	})

	entries := logs.FilterMessage("Security event").All()
	assert.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.NotEmpty(t, fields["event_id"], "missing id must be generated")
	assert.Equal(t, string(models.EventRateLimited), fields["event_type"])
	assert.Equal(t, "203.0.113.7", fields["identity"])
}

func TestRecorderCloseIsIdempotent(t *testing.T) {
	r := NewRecorder(nil, nil, zap.NewNop())

	for i := 0; i < 100; i++ {
		r.Record(models.SecurityEvent{EventType: models.EventLockedOut, Identity: "user-1"})
	}

	r.Close()
	r.Close()
}

func TestRecorderNeverBlocksWhenFull(t *testing.T) {
	r := NewRecorder(nil, nil, zap.NewNop())
	defer r.Close()

	// Far beyond the buffer size; overflow is dropped, not blocked on.
	for i := 0; i < bufferSize*3; i++ {
		r.Record(models.SecurityEvent{EventType: models.EventFailOpenAdmit})
	}
}
