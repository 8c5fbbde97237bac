package duplex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
)

// connPair returns two connected endpoints over network ("tcp" or "unix").
// Both are closed when the test ends.
func connPair(t testing.TB, network string) (client, server net.Conn) {
	t.Helper()

	addr := "127.0.0.1:0"
	if network == "unix" {
		addr = filepath.Join(t.TempDir(), "duplex.sock")
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		t.Skipf("listen %s: %v", network, err)
	}
	defer ln.Close()

	errChan := make(chan error, 1)
	go func() {
		var err error
		server, err = ln.Accept()
		errChan <- err
	}()

	client, err = net.Dial(network, ln.Addr().String())
	if err != nil {
		t.Fatalf("dial %s: %v", network, err)
	}
	if err := <-errChan; err != nil {
		client.Close()
		t.Fatalf("accept %s: %v", network, err)
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func randomPayload(seed uint64, n int) []byte {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(rng.Uint32())
	}
	return p
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(closeWriter); ok {
		cw.CloseWrite()
		return
	}
	c.Close()
}

// =============================================================================
// Splice
// =============================================================================

func TestSplice(t *testing.T) {
	for _, network := range []string{"tcp", "unix", "pipe"} {
		t.Run(network, func(t *testing.T) {
			var srcPeer, src, dst, dstPeer net.Conn
			if network == "pipe" {
				srcPeer, src = net.Pipe()
				dst, dstPeer = net.Pipe()
				t.Cleanup(func() {
					srcPeer.Close()
					src.Close()
					dst.Close()
					dstPeer.Close()
				})
			} else {
				srcPeer, src = connPair(t, network)
				dst, dstPeer = connPair(t, network)
			}

			payload := randomPayload(1, 1<<20)
			go func() {
				srcPeer.Write(payload)
				closeWrite(srcPeer)
			}()

			got := make(chan []byte, 1)
			go func() {
				data, _ := io.ReadAll(dstPeer)
				got <- data
			}()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			n, err := Splice(ctx, dst, src, make([]byte, 4096))
			if err != nil {
				t.Fatalf("Splice failed: %v", err)
			}
			if n != int64(len(payload)) {
				t.Errorf("Splice returned %d, want %d", n, len(payload))
			}
			closeWrite(dst)

			data := <-got
			if xxhash.Sum64(data) != xxhash.Sum64(payload) {
				t.Errorf("spliced content mismatch: got %d bytes, want %d", len(data), len(payload))
			}
		})
	}
}

func TestSplice_ContextDeadline(t *testing.T) {
	for _, network := range []string{"tcp", "pipe"} {
		t.Run(network, func(t *testing.T) {
			var src, dst net.Conn
			if network == "pipe" {
				var srcPeer, dstPeer net.Conn
				srcPeer, src = net.Pipe()
				dst, dstPeer = net.Pipe()
				t.Cleanup(func() {
					srcPeer.Close()
					src.Close()
					dst.Close()
					dstPeer.Close()
				})
			} else {
				_, src = connPair(t, network)
				dst, _ = connPair(t, network)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			start := time.Now()
			n, err := Splice(ctx, dst, src, nil)
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("Splice err = %v, want context.DeadlineExceeded", err)
			}
			if n != 0 {
				t.Errorf("Splice wrote %d bytes from an idle source", n)
			}
			if elapsed := time.Since(start); elapsed > 5*time.Second {
				t.Errorf("Splice took %v to observe the deadline", elapsed)
			}
		})
	}
}

func TestSplice_Nil(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	if _, err := Splice(context.Background(), nil, a, nil); err != io.ErrUnexpectedEOF {
		t.Errorf("Splice(nil dst) err = %v", err)
	}
	if _, err := Splice(context.Background(), b, nil, nil); err != io.ErrUnexpectedEOF {
		t.Errorf("Splice(nil src) err = %v", err)
	}
}

// =============================================================================
// Relay
// =============================================================================

func TestRelay_HalfClose(t *testing.T) {
	for _, network := range []string{"tcp", "unix"} {
		t.Run(network, func(t *testing.T) {
			client, relayA := connPair(t, network)
			relayB, backend := connPair(t, network)

			// Backend answers only after the client half-closes.
			go func() {
				req, _ := io.ReadAll(backend)
				if string(req) == "ping" {
					backend.Write([]byte("pong"))
				}
				closeWrite(backend)
			}()

			type result struct {
				aToB, bToA int64
				err        error
			}
			res := make(chan result, 1)
			go func() {
				aToB, bToA, err := Relay(context.Background(), relayA, relayB, NewBufferPool(1024))
				res <- result{aToB, bToA, err}
			}()

			client.Write([]byte("ping"))
			closeWrite(client)

			resp, err := io.ReadAll(client)
			if err != nil {
				t.Fatalf("client read failed: %v", err)
			}
			if string(resp) != "pong" {
				t.Errorf("client got %q, want %q", resp, "pong")
			}

			select {
			case r := <-res:
				if r.err != nil || r.aToB != 4 || r.bToA != 4 {
					t.Errorf("Relay = (%d, %d, %v), want (4, 4, nil)", r.aToB, r.bToA, r.err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("Relay did not return")
			}
		})
	}
}

func TestRelay_Cancel(t *testing.T) {
	_, relayA := connPair(t, "tcp")
	relayB, _ := connPair(t, "tcp")

	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan error, 1)
	go func() {
		_, _, err := Relay(ctx, relayA, relayB, nil)
		res <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-res:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Relay err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Relay ignored cancellation")
	}
}

func TestRelay_Nil(t *testing.T) {
	if _, _, err := Relay(context.Background(), nil, nil, nil); err != io.ErrUnexpectedEOF {
		t.Errorf("Relay(nil) err = %v", err)
	}
}

// =============================================================================
// Examples
// =============================================================================

func ExampleCopy() {
	var out strings.Builder
	n, err := Copy(&out, strings.NewReader("hello, duplex"), make([]byte, 4))
	fmt.Println(n, err, out.String())
	// Output: 13 <nil> hello, duplex
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkSplice_TCP(b *testing.B) {
	payload := randomPayload(2, 1<<20)
	buf := make([]byte, DefaultBufferSize)
	b.SetBytes(int64(len(payload)))
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		srcPeer, src := connPair(b, "tcp")
		dst, dstPeer := connPair(b, "tcp")
		go func() {
			srcPeer.Write(payload)
			closeWrite(srcPeer)
		}()
		go io.Copy(io.Discard, dstPeer)
		b.StartTimer()

		if _, err := Splice(context.Background(), dst, src, buf); err != nil {
			b.Fatal(err)
		}
	}
}
