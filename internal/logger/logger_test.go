package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rejection struct{}

func (rejection) Error() string  { return "booking is not Ongoing" }
func (rejection) Expected() bool { return true }

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var line map[string]any
		require.NoError(t, dec.Decode(&line))
		lines = append(lines, line)
	}
	return lines
}

func TestWith_AddsContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	InitializeWriter(&buf, "debug", "json")
	defer Initialize("info", "text")

	ctx := With(context.Background(), "request_id", "req-1")
	ctx = With(ctx, "user_id", 7)
	InfoContext(ctx, "booking created", "booking_id", 42)
	Info("no context")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "req-1", lines[0]["request_id"])
	assert.EqualValues(t, 7, lines[0]["user_id"])
	assert.EqualValues(t, 42, lines[0]["booking_id"])
	assert.NotContains(t, lines[1], "request_id")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitializeWriter(&buf, "warn", "json")
	defer Initialize("info", "text")

	Debug("hidden")
	Info("hidden")
	Warn("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "WARN", lines[0]["level"])
}

func TestExitMethodWithError_Level(t *testing.T) {
	var buf bytes.Buffer
	InitializeWriter(&buf, "debug", "json")
	defer Initialize("info", "text")

	ExitMethodWithError("bookingService.EndTrip", fmt.Errorf("end trip: %w", rejection{}))
	ExitMethodWithError("bookingRepository.Update", errors.New("connection reset"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, "ERROR", lines[1]["level"])
}
