package pool

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"weak"

	"github.com/adamwoolhether/rxhttp/client/config"
	"github.com/adamwoolhether/rxhttp/client/errs"
	"github.com/adamwoolhether/rxhttp/client/transport"
)

func countingFactory(n *atomic.Int32) Factory {
	return func() (*transport.Transport, error) {
		n.Add(1)
		return transport.New(config.Default())
	}
}

func newGet(t *testing.T, url string) *http.Request {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func okServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pooled"))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestPool_GetReusesTransport(t *testing.T) {
	srv := okServer(t)

	var created atomic.Int32
	p, err := New(config.Default(), config.Pool{}, WithFactory(countingFactory(&created)))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if p.Idle() != 0 {
		t.Fatalf("exp empty pool, got %d idle", p.Idle())
	}

	resp, err := p.Send(newGet(t, srv.URL))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if created.Load() != 1 {
		t.Fatalf("exp one transport created, got %d", created.Load())
	}
	if p.Idle() != 0 {
		t.Fatal("checked out transport must not be idle")
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil || string(b) != "pooled" {
		t.Fatalf("unexpected body %q, %v", b, err)
	}
	resp.Body.Close()

	if p.Idle() != 1 {
		t.Fatalf("exp transport back in the pool, got %d idle", p.Idle())
	}

	resp, err = p.Send(newGet(t, srv.URL))
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	resp.Body.Close()

	if created.Load() != 1 {
		t.Errorf("exp reuse, got %d creations", created.Load())
	}
}

func TestPool_ReleaseExactlyOnce(t *testing.T) {
	srv := okServer(t)

	tests := map[string]func(io.ReadCloser){
		"readThenClose": func(b io.ReadCloser) {
			io.ReadAll(b)
			b.Close()
			b.Close()
		},
		"closeEarly": func(b io.ReadCloser) {
			b.Close()
			b.Close()
		},
		"readPastEOF": func(b io.ReadCloser) {
			io.ReadAll(b)
			b.Read(make([]byte, 8))
			b.Close()
		},
	}

	for name, consume := range tests {
		t.Run(name, func(t *testing.T) {
			p, err := New(config.Default(), config.Pool{})
			if err != nil {
				t.Fatal(err)
			}
			defer p.Close()

			resp, err := p.Send(newGet(t, srv.URL))
			if err != nil {
				t.Fatal(err)
			}
			consume(resp.Body)

			if p.Idle() != 1 {
				t.Errorf("exp exactly one idle transport, got %d", p.Idle())
			}
		})
	}
}

func TestPool_Capacity(t *testing.T) {
	t.Run("uncapped", func(t *testing.T) {
		var created atomic.Int32
		p, err := New(config.Default(), config.Pool{Preload: 1}, WithFactory(countingFactory(&created)))
		if err != nil {
			t.Fatal(err)
		}
		defer p.Close()

		for range 3 {
			if _, err := p.Acquire(); err != nil {
				t.Fatalf("acquire: %v", err)
			}
		}
		if created.Load() != 3 {
			t.Errorf("exp 3 transports, got %d", created.Load())
		}
	})

	t.Run("capped", func(t *testing.T) {
		p, err := New(config.Default(), config.Pool{Preload: 1, MaxConnections: 2})
		if err != nil {
			t.Fatal(err)
		}
		defer p.Close()

		first, err := p.Acquire()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := p.Acquire(); err != nil {
			t.Fatal(err)
		}

		if _, err := p.Acquire(); !errors.Is(err, errs.ErrTooManyConnections) {
			t.Fatalf("exp too many connections, got %v", err)
		}

		p.Release(first)
		if _, err := p.Acquire(); err != nil {
			t.Errorf("exp released transport to be reusable, got %v", err)
		}
	})

	t.Run("preloadAboveCap", func(t *testing.T) {
		if _, err := New(config.Default(), config.Pool{Preload: 3, MaxConnections: 2}); err == nil {
			t.Error("exp error")
		}
	})
}

func TestPool_AtMostOneOwner(t *testing.T) {
	srv := okServer(t)

	p, err := New(config.Default(), config.Pool{Preload: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	var (
		mu     sync.Mutex
		owners = make(map[*transport.Transport]bool)
		wg     sync.WaitGroup
	)

	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for j := range 25 {
				resp, err := p.Send(newGet(t, srv.URL))
				if err != nil {
					t.Errorf("send: %v", err)
					return
				}
				s := resp.Body.(*Stream)
				tr := s.lease.t.Load()

				mu.Lock()
				if owners[tr] {
					t.Errorf("transport %s owned twice", tr.ID)
				}
				owners[tr] = true
				mu.Unlock()

				// Alternate between consuming the body and dropping it early.
				if (i+j)%2 == 0 {
					io.ReadAll(s.body)
				}

				mu.Lock()
				delete(owners, tr)
				mu.Unlock()

				s.Close()
			}
		}()
	}
	wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[*transport.Transport]bool)
	for _, tr := range p.idle {
		if seen[tr] {
			t.Fatalf("transport %s is idle twice", tr.ID)
		}
		seen[tr] = true
	}
	if len(p.idle) != p.created {
		t.Errorf("exp every transport idle, got %d idle of %d", len(p.idle), p.created)
	}
}

func TestPool_ClosedPoolDiscards(t *testing.T) {
	srv := okServer(t)

	p, err := New(config.Default(), config.Pool{Preload: 2})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Send(newGet(t, srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	p.Close()
	resp.Body.Close()

	if p.Idle() != 0 || p.Created() != 0 {
		t.Errorf("exp nothing left, got %d idle of %d", p.Idle(), p.Created())
	}
	if _, err := p.Acquire(); err == nil {
		t.Error("exp acquire on a closed pool to fail")
	}
}

func TestLease_PoolGone(t *testing.T) {
	tr, err := transport.New(config.Default())
	if err != nil {
		t.Fatal(err)
	}

	p := &Pool{}
	l := &lease{pool: weak.Make(p)}
	l.t.Store(tr)

	p = nil
	runtime.GC()

	if l.pool.Value() != nil {
		t.Fatal("exp the pool to be collected")
	}

	// Releasing into a collected pool must discard quietly.
	l.release()
	if l.t.Load() != nil {
		t.Error("exp lease to be empty")
	}
}
