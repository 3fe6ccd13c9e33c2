package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/callsig/internal/model"
	"github.com/rcliao/callsig/internal/packet"
	"github.com/rcliao/callsig/internal/store"
	"github.com/rcliao/callsig/internal/wire"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func line(class, method, argType, ret string) string {
	return fmt.Sprintf(`{"method_name":%q,"call_info_argc":"1","call_info_kw_args":"",`+
		`"args_info":"REQ,%s,x","visibility":"PUBLIC","path":"/app/lib/app.rb","lineno":3,`+
		`"receiver_name":%q,"return_type_name":%q}`, method, argType, class, ret)
}

func record(t *testing.T, class, method, argType, ret string) model.Record {
	t.Helper()
	rec, err := wire.Decode([]byte(line(class, method, argType, ret)))
	require.NoError(t, err)
	return rec
}

func newSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// startServer runs Serve on a loopback listener until the test ends.
func startServer(t *testing.T, st store.Store) (*Server, string, func()) {
	t.Helper()
	srv, err := New(context.Background(), Options{ShutdownGrace: time.Second}, st, quiet)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(10 * time.Second):
				t.Error("server did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return srv, ln.Addr().String(), stop
}

func send(t *testing.T, addr string, lines ...string) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if !assert.NoError(t, err) {
		return
	}
	defer conn.Close()
	for _, l := range lines {
		if _, err := io.WriteString(conn, l+"\n"); !assert.NoError(t, err) {
			return
		}
	}
}

func TestSessionLearnsAndFlushes(t *testing.T) {
	st := newSQLite(t)
	srv, addr, stop := startServer(t, st)

	send(t, addr,
		line("App", "greet", "String", "String"),
		line("App", "greet", "Symbol", "String"),
		wire.BreakLine,
		line("App", "ignored", "String", "String"),
	)
	stop()

	m := record(t, "App", "greet", "String", "String").Method
	sig, err := st.Signature(context.Background(), m)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.True(t, sig.Accept(record(t, "App", "greet", "Symbol", "String")))
	assert.False(t, sig.Accept(record(t, "App", "greet", "Integer", "String")))

	ignored := record(t, "App", "ignored", "String", "String").Method
	sig, err = st.Signature(context.Background(), ignored)
	require.NoError(t, err)
	assert.Nil(t, sig, "lines after the break line must not be read")

	assert.Equal(t, 0, srv.Learned().Len())
	assert.Equal(t, 1, srv.Known().Len())
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	st := newSQLite(t)
	srv, addr, stop := startServer(t, st)

	send(t, addr,
		"not json",
		`{"method_name":"x"}`,
		line("#<Class:0x0001>", "anon", "String", "String"),
		line("App", "ok", "String", "NilClass"),
	)
	stop()

	assert.Equal(t, []model.MethodInfo{record(t, "App", "ok", "String", "NilClass").Method}, srv.Known().Methods())
}

// Three agents each report 1000 distinct methods at the same time.
func TestConcurrentSessions(t *testing.T) {
	st := newSQLite(t)
	srv, addr, stop := startServer(t, st)

	const agents, perAgent = 3, 1000
	var wg sync.WaitGroup
	for a := range agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lines := make([]string, 0, perAgent)
			for i := range perAgent {
				lines = append(lines, line(fmt.Sprintf("Agent%d", a), fmt.Sprintf("m%d", i), "String", "Integer"))
			}
			send(t, addr, lines...)
		}()
	}
	wg.Wait()
	stop()

	assert.Equal(t, agents*perAgent, srv.Known().Len())
	ctx := context.Background()
	for a := range agents {
		class := model.ClassInfo{FQN: fmt.Sprintf("Agent%d", a)}
		methods, err := st.RegisteredMethods(ctx, class)
		require.NoError(t, err)
		assert.Len(t, methods, perAgent)
	}
	sig, err := st.Signature(ctx, record(t, "Agent2", "m999", "String", "Integer").Method)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.True(t, sig.Accept(record(t, "Agent2", "m999", "String", "Integer")))
}

func TestBaselineLoadedFromStore(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)
	rec := record(t, "App", "greet", "String", "String")
	first, err := New(ctx, Options{}, st, quiet)
	require.NoError(t, err)
	first.Learn(rec)
	require.NoError(t, first.Flush(ctx))

	srv, err := New(ctx, Options{}, st, quiet)
	require.NoError(t, err)
	assert.True(t, srv.Known().Accept(rec))

	srv.Learn(rec)
	assert.Equal(t, 0, srv.Learned().Len(), "known records are not relearned")
	srv.Learn(record(t, "App", "greet", "Integer", "String"))
	assert.Equal(t, 1, srv.Learned().Len())
}

type failingStore struct {
	store.Store
}

func (failingStore) RegisteredGems(context.Context) ([]model.GemInfo, error) { return nil, nil }

func (failingStore) ReadPacket(context.Context, packet.Packet) error {
	return errors.New("disk full")
}

func TestFlushErrorDropsBatch(t *testing.T) {
	ctx := context.Background()
	srv, err := New(ctx, Options{}, failingStore{}, quiet)
	require.NoError(t, err)

	srv.Learn(record(t, "App", "greet", "String", "String"))
	err = srv.Flush(ctx)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 0, srv.Learned().Len())
	assert.Equal(t, 0, srv.Known().Len())

	assert.NoError(t, srv.Flush(ctx), "empty flush is a no-op")
}

func TestShutdownCutsIdleSession(t *testing.T) {
	st := newSQLite(t)
	srv, err := New(context.Background(), Options{ShutdownGrace: 50 * time.Millisecond}, st, quiet)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, line("App", "greet", "String", "String")+"\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Learned().Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("idle session kept the server alive")
	}
	sig, err := st.Signature(context.Background(), record(t, "App", "greet", "String", "String").Method)
	require.NoError(t, err)
	assert.NotNil(t, sig, "cut session still flushes")
}

func TestFlushThroughDiffStoreIsExported(t *testing.T) {
	ctx := context.Background()
	received, err := store.NewBadgerStore(store.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	d := store.NewDiffStore(received, newSQLite(t))
	t.Cleanup(func() { received.Close() })

	srv, err := New(ctx, Options{}, d, quiet)
	require.NoError(t, err)
	rec := record(t, "App", "greet", "String", "String")
	srv.Learn(rec)
	require.NoError(t, srv.Flush(ctx))
	assert.True(t, srv.Known().Accept(rec))

	packets, err := d.FormPackets(ctx, nil)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	entries, err := packets[0].Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Contract.Accept(rec))

	gems, err := received.RegisteredGems(ctx)
	require.NoError(t, err)
	assert.Empty(t, gems, "learnings stay out of the received baseline")

	files, err := store.ExportDir(ctx, d, filepath.Join(t.TempDir(), "out"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"_local.rmc"}, files)
}
