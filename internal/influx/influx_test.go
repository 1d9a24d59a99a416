package influx

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squad-clash/core/internal/battle"
	"squad-clash/core/internal/economy"
	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/net/proto"
	"squad-clash/core/internal/runner"
)

type recordingWriter struct {
	points []*write.Point
	err    error
}

func (w *recordingWriter) WritePoint(_ context.Context, points ...*write.Point) error {
	if w.err != nil {
		return w.err
	}
	w.points = append(w.points, points...)
	return nil
}

var at = time.Unix(1700000000, 0)

func sampleReport() runner.Report {
	return runner.Report{
		Seed:      "seed-7",
		Ticks:     640,
		Executed:  12,
		Completed: true,
		Round:     3,
		Checksum:  "ff00",
		Results: []battle.Result{
			{Round: 1, Winner: ecs.TeamLeft, Reason: battle.ReasonEliminated, Duration: 9 * time.Second, Survivors: 2},
			{Round: 2, Winner: ecs.TeamRight, Reason: battle.ReasonTimeout, Duration: 90 * time.Second, Survivors: 5},
		},
		Stats: []economy.PlayerStats{
			{PlayerID: "p1", Gold: 40, SupplyUsed: 6, SupplyCap: 10},
			{PlayerID: "p2", Gold: 95, SupplyUsed: 8, SupplyCap: 10},
		},
	}
}

func TestRunPoints(t *testing.T) {
	points := RunPoints("run-9", sampleReport(), at)
	require.Len(t, points, 5)

	assert.Equal(t, MeasurementRun, points[0].Name())
	assert.Equal(t, MeasurementBattle, points[1].Name())
	assert.Equal(t, MeasurementBattle, points[2].Name())
	assert.Equal(t, MeasurementPlayer, points[3].Name())

	line := write.PointToLineProtocol(points[2], time.Second)
	assert.Contains(t, line, "winner=right")
	assert.Contains(t, line, "reason=timeout")
	assert.Contains(t, line, "duration_ms=90000i")
	assert.Contains(t, line, "survivors=5i")
	assert.True(t, strings.HasSuffix(line, " 1700000000\n") || strings.HasSuffix(line, " 1700000000"))

	player := write.PointToLineProtocol(points[4], time.Second)
	assert.Contains(t, player, "player=p2")
	assert.Contains(t, player, "gold=95i")
	assert.Contains(t, player, "round=3i")
}

func TestRecordRunUsesWriter(t *testing.T) {
	writer := &recordingWriter{}
	sink := New(writer, zerolog.Nop())

	require.NoError(t, sink.RecordRun(context.Background(), "run-1", sampleReport(), at))
	assert.Len(t, writer.points, 5)

	writer.err = errors.New("boom")
	assert.Error(t, sink.RecordRun(context.Background(), "run-2", sampleReport(), at))
}

func TestBackupWritesGzipLineProtocol(t *testing.T) {
	var buf bytes.Buffer
	sink := NewBackup(&buf, zerolog.Nop())

	msg := proto.RoundEnd{
		Winner:    ecs.TeamLeft,
		Reason:    string(battle.ReasonCommandDestroyed),
		Round:     2,
		Survivors: []proto.Survivor{{}, {}},
		Stats:     []economy.PlayerStats{{PlayerID: "p1", Gold: 10}},
	}
	require.NoError(t, sink.Write(context.Background(), RoundEndPoints("match", msg, at)...))
	require.NoError(t, sink.Close())

	reader, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], MeasurementBattle+","))
	assert.Contains(t, lines[0], "reason=command_destroyed")
	assert.Contains(t, lines[0], "survivors=2i")
	assert.True(t, strings.HasPrefix(lines[1], MeasurementPlayer+","))

	assert.Error(t, sink.Write(context.Background(), RoundEndPoints("match", msg, at)...))
}

func TestDisabledConfigYieldsNilSink(t *testing.T) {
	sink, err := Open(context.Background(), Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, sink)
	assert.NoError(t, sink.RecordRun(context.Background(), "run", sampleReport(), at))
	assert.NoError(t, sink.Close())
}

func TestOpenRequiresAddress(t *testing.T) {
	_, err := Open(context.Background(), Config{Enabled: true}, zerolog.Nop())
	assert.Error(t, err)
}
