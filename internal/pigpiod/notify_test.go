package pigpiod_test

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/dali-core/internal/dali"
	"github.com/nerrad567/dali-core/internal/pigpiod"
)

const (
	testRxGpio = 6
	rxBit      = uint32(1) << testRxGpio
)

// Notification flags mirrored from the socket protocol.
const (
	flagWatchdog = 1 << 5
	flagAlive    = 1 << 6
)

func openStream(t *testing.T, daemon *fakeDaemon, client *pigpiod.Client) *pigpiod.EdgeStream {
	t.Helper()
	stream, err := client.OpenEdgeStream(context.Background(), testRxGpio)
	if err != nil {
		t.Fatalf("OpenEdgeStream() error = %v", err)
	}
	t.Cleanup(func() { stream.Close() })

	// The stream must have enabled reports for our pin
	nb := daemon.waitForCommand(cmdNB)
	if nb.p2 != rxBit {
		t.Errorf("NB bits = %#x, want %#x", nb.p2, rxBit)
	}

	return stream
}

func waitEdge(t *testing.T, edges <-chan dali.Edge) dali.Edge {
	t.Helper()
	select {
	case e, ok := <-edges:
		if !ok {
			t.Fatal("edge channel closed unexpectedly")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for edge")
		return dali.Edge{}
	}
}

func TestEdgeStreamDeliversEdges(t *testing.T) {
	daemon := startFakeDaemon(t)
	client := connectClient(t, daemon)
	stream := openStream(t, daemon, client)

	// Snapshot: line idle high. Not an edge.
	daemon.sendReport(0, 0, 1000, rxBit)
	// Falling edge 500us later, rising edge one half-bit after that.
	daemon.sendReport(1, 0, 1500, 0)
	daemon.sendReport(2, 0, 1917, rxBit)

	falling := waitEdge(t, stream.Edges())
	if falling.Level != dali.Low {
		t.Errorf("first edge level = %v, want Low", falling.Level)
	}
	if falling.Overrun {
		t.Error("first edge flagged as overrun")
	}

	rising := waitEdge(t, stream.Edges())
	if rising.Level != dali.High {
		t.Errorf("second edge level = %v, want High", rising.Level)
	}

	// Edge spacing must come from pigpiod ticks, not network arrival time
	if got := rising.Timestamp.Sub(falling.Timestamp); got != 417*time.Microsecond {
		t.Errorf("edge interval = %v, want 417us", got)
	}
}

func TestEdgeStreamSeqnoGapFlagsOverrun(t *testing.T) {
	daemon := startFakeDaemon(t)
	client := connectClient(t, daemon)
	stream := openStream(t, daemon, client)

	daemon.sendReport(0, 0, 1000, rxBit) // Snapshot
	daemon.sendReport(1, 0, 1500, 0)
	// Sequence 2 lost by the daemon
	daemon.sendReport(3, 0, 2000, rxBit)

	first := waitEdge(t, stream.Edges())
	if first.Overrun {
		t.Error("edge before the gap flagged as overrun")
	}

	second := waitEdge(t, stream.Edges())
	if !second.Overrun {
		t.Error("edge after sequence gap not flagged as overrun")
	}

	stats := stream.Stats()
	if stats.SeqGaps != 1 {
		t.Errorf("SeqGaps = %d, want 1", stats.SeqGaps)
	}
}

func TestEdgeStreamIgnoresKeepalives(t *testing.T) {
	daemon := startFakeDaemon(t)
	client := connectClient(t, daemon)
	stream := openStream(t, daemon, client)

	daemon.sendReport(0, 0, 1000, rxBit) // Snapshot
	daemon.sendReport(1, flagAlive, 60_000_000, rxBit)
	daemon.sendReport(2, flagWatchdog, 120_000_000, rxBit)
	daemon.sendReport(3, 0, 120_000_500, 0)

	// Keepalives advance the sequence without producing edges, so the
	// real edge that follows must arrive clean.
	edge := waitEdge(t, stream.Edges())
	if edge.Level != dali.Low {
		t.Errorf("edge level = %v, want Low", edge.Level)
	}
	if edge.Overrun {
		t.Error("edge after keepalives flagged as overrun")
	}
}

func TestEdgeStreamUnchangedLevelIsNotAnEdge(t *testing.T) {
	daemon := startFakeDaemon(t)
	client := connectClient(t, daemon)
	stream := openStream(t, daemon, client)

	daemon.sendReport(0, 0, 1000, rxBit) // Snapshot
	// Another GPIO on the shared handle changed; ours is still high.
	daemon.sendReport(1, 0, 1200, rxBit|(1<<9))
	daemon.sendReport(2, 0, 1500, 1<<9) // Now ours falls

	edge := waitEdge(t, stream.Edges())
	if edge.Level != dali.Low {
		t.Errorf("edge level = %v, want Low", edge.Level)
	}

	stats := stream.Stats()
	if stats.EdgesRx != 1 {
		t.Errorf("EdgesRx = %d, want 1", stats.EdgesRx)
	}
}

func TestEdgeStreamCloseClosesChannel(t *testing.T) {
	daemon := startFakeDaemon(t)
	client := connectClient(t, daemon)
	stream := openStream(t, daemon, client)

	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case _, ok := <-stream.Edges():
		if ok {
			t.Error("expected closed channel, got edge")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("edge channel not closed after Close()")
	}

	// Close must release the notification handle
	daemon.waitForCommand(cmdNC)
}
