package masterconn

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yynetease/moosefs/chunkdataplane/internal/collab/collabtest"
	"github.com/yynetease/moosefs/chunkdataplane/internal/wire"
)

// fakeMaster is a minimal loopback TCP listener standing in for the
// metadata master, used to exercise the real framing/dispatch path
// end-to-end without a live MooseFS master.
func fakeMaster(t *testing.T) (addr string, accept func() net.Conn, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	connCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			connCh <- c
		}
	}()
	return ln.Addr().String(), func() net.Conn {
		select {
		case c := <-connCh:
			return c
		case <-time.After(2 * time.Second):
			t.Fatal("master never accepted connection")
			return nil
		}
	}, func() { ln.Close() }
}

func newTestConn(t *testing.T, addr string) (*Conn, *collabtest.FakeHDD) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.MasterHost = host
	cfg.MasterPort = port
	cfg.Workers = 2
	cfg.JobQueueDepth = 16

	hdd := collabtest.NewFakeHDD()
	conn := New(cfg, hdd, collabtest.FakeReplicator{})
	return conn, hdd
}

func readFrame(t *testing.T, r io.Reader) (wire.Header, []byte) {
	t.Helper()
	var hdr [wire.HeaderSize]byte
	_, err := io.ReadFull(r, hdr[:])
	require.NoError(t, err)
	h, err := wire.DecodeHeader(hdr[:])
	require.NoError(t, err)
	body := make([]byte, h.Size)
	if h.Size > 0 {
		_, err = io.ReadFull(r, body)
		require.NoError(t, err)
	}
	return h, body
}

func writeFrame(t *testing.T, w io.Writer, msgType uint32, body []byte) {
	t.Helper()
	buf := make([]byte, wire.HeaderSize+len(body))
	wire.EncodeHeader(buf, wire.Header{Type: msgType, Size: uint32(len(body))})
	copy(buf[wire.HeaderSize:], body)
	_, err := w.Write(buf)
	require.NoError(t, err)
}

func TestCreateRoundTrip(t *testing.T) {
	addr, accept, closeFn := fakeMaster(t)
	defer closeFn()
	conn, hdd := newTestConn(t, addr)
	hdd.Seed(0x1234, 1, []byte("data"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Serve(ctx)

	master := accept()
	defer master.Close()

	// First frame off the wire is the registration packet.
	h, _ := readFrame(t, master)
	require.EqualValues(t, wire.CSTOMA_REGISTER, h.Type)

	body := make([]byte, 12)
	binary.BigEndian.PutUint64(body[0:8], 0x1234)
	binary.BigEndian.PutUint32(body[8:12], 1)
	writeFrame(t, master, wire.MATOCS_CREATE, body)

	h, respBody := readFrame(t, master)
	require.EqualValues(t, wire.CSTOMA_CREATE, h.Type)
	require.Len(t, respBody, 9)
	require.EqualValues(t, 0x1234, binary.BigEndian.Uint64(respBody[0:8]))
	require.EqualValues(t, 0, respBody[8])
}

func TestReplicateMultiSourceFraming(t *testing.T) {
	addr, accept, closeFn := fakeMaster(t)
	defer closeFn()
	conn, _ := newTestConn(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Serve(ctx)

	master := accept()
	defer master.Close()
	readFrame(t, master) // register

	body := make([]byte, 12+2*18)
	binary.BigEndian.PutUint64(body[0:8], 99)
	binary.BigEndian.PutUint32(body[8:12], 3)
	writeFrame(t, master, wire.MATOCS_REPLICATE, body)

	h, respBody := readFrame(t, master)
	require.EqualValues(t, wire.CSTOMA_REPLICATE, h.Type)
	require.Len(t, respBody, 13)
}

func TestUnknownMessageKillsConnection(t *testing.T) {
	addr, accept, closeFn := fakeMaster(t)
	defer closeFn()
	conn, _ := newTestConn(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Serve(ctx)

	master := accept()
	defer master.Close()
	readFrame(t, master) // register

	writeFrame(t, master, 0xDEADBEEF, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn.Killed() || conn.Mode() == ModeFree {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("connection never transitioned to KILL on unknown message type")
}

func TestStructureLogRotate(t *testing.T) {
	dir := t.TempDir()
	oldwd, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(oldwd)

	sink := newStructureLogSink(2)
	require.NoError(t, sink.Append(1, "line-a"))
	require.NoError(t, sink.Rotate())
	require.NoError(t, sink.Append(2, "line-b"))
	require.NoError(t, sink.Rotate())

	_, err := os.Stat("changelog_csback.2.mfs")
	require.NoError(t, err, "oldest backlog should have been shifted to slot 2")
	_, err = os.Stat("changelog_csback.0.mfs")
	require.True(t, os.IsNotExist(err), "slot 0 should be empty immediately after rotate")
}

func TestDecodeStructureLogRequest(t *testing.T) {
	u32 := make([]byte, 4+len("hello")+1)
	binary.BigEndian.PutUint32(u32[0:4], 7)
	copy(u32[4:], "hello")
	req, err := wire.DecodeStructureLogRequest(u32)
	require.NoError(t, err)
	require.False(t, req.Is64Bit)
	require.EqualValues(t, 7, req.Version)
	require.Equal(t, "hello", req.Line)

	u64 := make([]byte, 1+8+len("world")+1)
	u64[0] = 0xFF
	binary.BigEndian.PutUint64(u64[1:9], 0xDEADBEEF)
	copy(u64[9:], "world")
	req, err = wire.DecodeStructureLogRequest(u64)
	require.NoError(t, err)
	require.True(t, req.Is64Bit)
	require.EqualValues(t, 0xDEADBEEF, req.Version)
	require.Equal(t, "world", req.Line)

	noNul := make([]byte, 4+len("oops"))
	binary.BigEndian.PutUint32(noNul[0:4], 1)
	copy(noNul[4:], "oops")
	_, err = wire.DecodeStructureLogRequest(noNul)
	require.Error(t, err, "missing trailing NUL must be rejected")
}

func TestCheckHDDReportsPushesTelemetry(t *testing.T) {
	addr, accept, closeFn := fakeMaster(t)
	defer closeFn()
	conn, hdd := newTestConn(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Serve(ctx)

	master := accept()
	defer master.Close()
	readFrame(t, master) // register

	hdd.InjectError()
	hdd.MarkDamaged(0xAAAA)
	hdd.MarkLost(0xBBBB)
	hdd.Seed(0x9999, 1, []byte("x")) // Seed flips spaceChanged, triggering a SPACE push

	deadline := time.Now().Add(2 * time.Second)
	for conn.Mode() != ModeHeader && conn.Mode() != ModeData {
		if time.Now().After(deadline) {
			t.Fatal("connection never reached HEADER/DATA before telemetry push")
		}
		time.Sleep(5 * time.Millisecond)
	}
	conn.CheckHDDReports()

	seen := map[uint32]bool{}
	for i := 0; i < 4; i++ {
		h, body := readFrame(t, master)
		seen[h.Type] = true
		switch h.Type {
		case wire.CSTOMA_SPACE:
			require.Len(t, body, 8+8+4+8+8+4)
		case wire.CSTOMA_ERROR_OCCURRED:
			require.Empty(t, body)
		case wire.CSTOMA_CHUNK_DAMAGED:
			require.Len(t, body, 8)
			require.EqualValues(t, 0xAAAA, binary.BigEndian.Uint64(body))
		case wire.CSTOMA_CHUNK_LOST:
			require.Len(t, body, 8)
			require.EqualValues(t, 0xBBBB, binary.BigEndian.Uint64(body))
		default:
			t.Fatalf("unexpected telemetry frame type %d", h.Type)
		}
	}
	require.True(t, seen[uint32(wire.CSTOMA_SPACE)])
	require.True(t, seen[uint32(wire.CSTOMA_ERROR_OCCURRED)])
	require.True(t, seen[uint32(wire.CSTOMA_CHUNK_DAMAGED)])
	require.True(t, seen[uint32(wire.CSTOMA_CHUNK_LOST)])
}

func TestRegisterVersionSelection(t *testing.T) {
	addr, accept, closeFn := fakeMaster(t)
	defer closeFn()
	conn, _ := newTestConn(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Serve(ctx)

	master := accept()
	defer master.Close()

	h, body := readFrame(t, master)
	require.EqualValues(t, wire.CSTOMA_REGISTER, h.Type)
	require.Equal(t, byte(wire.RegisterV4), body[0], "first-ever registration must use v4")
}
