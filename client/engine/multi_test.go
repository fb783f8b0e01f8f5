package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/adamwoolhether/rxhttp/client/config"
	"github.com/adamwoolhether/rxhttp/client/errs"
)

// recorder is a Handler that keeps everything it was given.
type recorder struct {
	lines   []string
	body    bytes.Buffer
	out     io.Reader
	pauseAt int
	paused  int
	failOn  string
}

func (r *recorder) HeaderLine(line []byte) error {
	if r.failOn != "" && strings.HasPrefix(string(line), r.failOn) {
		return errors.New("rejected line")
	}
	r.lines = append(r.lines, string(line))
	return nil
}

func (r *recorder) ReadBody(p []byte) (int, error) {
	if r.out == nil {
		return 0, nil
	}
	return r.out.Read(p)
}

func (r *recorder) WriteBody(p []byte) (int, error) {
	r.body.Write(p)
	if r.pauseAt > 0 && r.body.Len() >= r.pauseAt*(r.paused+1) {
		r.paused++
		return len(p), ErrPause
	}
	return len(p), nil
}

// drive runs the owner loop until tok finishes.
func drive(t *testing.T, m *Multi, tok Token, onIdle func()) Result {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := m.Wait(nil, 20*time.Millisecond); err != nil {
			t.Fatalf("wait: %v", err)
		}
		results, err := m.Perform()
		if err != nil {
			t.Fatalf("perform: %v", err)
		}
		for _, r := range results {
			if r.Token == tok {
				return r
			}
		}
		if onIdle != nil {
			onIdle()
		}
	}

	t.Fatal("transfer did not finish in time")
	return Result{}
}

func newDescriptor(t *testing.T, method, rawURL string) *Descriptor {
	t.Helper()

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}

	return &Descriptor{
		Method:        method,
		URL:           u,
		Header:        http.Header{},
		ContentLength: -1,
		Options:       config.Default(),
	}
}

func TestMulti_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "a=1")
		w.Header().Add("Set-Cookie", "b=2")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, "short and stout")
	}))
	defer srv.Close()

	m, err := NewMulti()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	rec := &recorder{}
	if err := m.Add(newDescriptor(t, http.MethodGet, srv.URL), rec, 7); err != nil {
		t.Fatal(err)
	}

	res := drive(t, m, 7, nil)
	if res.Err != nil {
		t.Fatalf("unexpected transfer error: %v", res.Err)
	}

	if rec.lines[0] != "HTTP/1.1 418 I'm a teapot\r\n" {
		t.Errorf("unexpected status line %q", rec.lines[0])
	}
	if last := rec.lines[len(rec.lines)-1]; last != "\r\n" {
		t.Errorf("exp blank terminator, got %q", last)
	}

	var cookies []string
	for _, l := range rec.lines {
		if strings.HasPrefix(l, "Set-Cookie:") {
			cookies = append(cookies, l)
		}
	}
	if diff := cmp.Diff([]string{"Set-Cookie: a=1\r\n", "Set-Cookie: b=2\r\n"}, cookies); diff != "" {
		t.Errorf("cookie lines mismatch (-exp +got):\n%s", diff)
	}

	if rec.body.String() != "short and stout" {
		t.Errorf("unexpected body %q", rec.body.String())
	}
}

func TestMulti_PullsRequestBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.Write(bytes.ToUpper(b))
	}))
	defer srv.Close()

	m, err := NewMulti()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	d := newDescriptor(t, http.MethodPost, srv.URL)
	d.HasBody = true
	d.ContentLength = int64(len("payload"))

	rec := &recorder{out: strings.NewReader("payload")}
	if err := m.Add(d, rec, 1); err != nil {
		t.Fatal(err)
	}

	if res := drive(t, m, 1, nil); res.Err != nil {
		t.Fatalf("unexpected transfer error: %v", res.Err)
	}
	if rec.body.String() != "PAYLOAD" {
		t.Errorf("exp echoed body, got %q", rec.body.String())
	}
}

func TestMulti_CallAfterDoneReturns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m, err := NewMulti()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if err := m.Add(newDescriptor(t, http.MethodGet, srv.URL), &recorder{}, 3); err != nil {
		t.Fatal(err)
	}
	x := m.transfers[3]

	if res := drive(t, m, 3, nil); res.Err != nil {
		t.Fatalf("unexpected transfer error: %v", res.Err)
	}

	// A late outbound read must not wait on an owner that forgot x.
	read := make(chan error, 1)
	go func() {
		_, err := (&pullBody{m: m, x: x}).Read(make([]byte, 8))
		read <- err
	}()

	select {
	case err := <-read:
		if !errors.Is(err, errs.ErrCancelled) {
			t.Errorf("exp ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read after completion blocked")
	}
}

func TestMulti_PauseUnpause(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 64<<10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	m, err := NewMulti(WithChunkSize(4 << 10))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	rec := &recorder{pauseAt: 16 << 10}
	if err := m.Add(newDescriptor(t, http.MethodGet, srv.URL), rec, 3); err != nil {
		t.Fatal(err)
	}

	unpauses := 0
	res := drive(t, m, 3, func() {
		if m.transfers[3] != nil && m.transfers[3].paused {
			unpauses++
			if err := m.Unpause(3); err != nil {
				t.Fatalf("unpause: %v", err)
			}
		}
	})
	if res.Err != nil {
		t.Fatalf("unexpected transfer error: %v", res.Err)
	}
	if rec.body.Len() != len(payload) {
		t.Errorf("exp %d bytes, got %d", len(payload), rec.body.Len())
	}
	if unpauses == 0 {
		t.Error("expected the transfer to pause at least once")
	}
}

func TestMulti_HeaderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m, err := NewMulti()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	rec := &recorder{failOn: "HTTP/"}
	if err := m.Add(newDescriptor(t, http.MethodGet, srv.URL), rec, 9); err != nil {
		t.Fatal(err)
	}

	res := drive(t, m, 9, nil)
	if res.Err == nil || res.Err.Error() != "rejected line" {
		t.Fatalf("exp handler error, got %v", res.Err)
	}
	if _, ok := m.transfers[9]; ok {
		t.Error("failed transfer must be removed")
	}
}

func TestMulti_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	m, err := NewMulti()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if err := m.Add(newDescriptor(t, http.MethodGet, addr), &recorder{}, 2); err != nil {
		t.Fatal(err)
	}

	res := drive(t, m, 2, nil)
	if !errors.Is(res.Err, errs.ErrTransferEngine) {
		t.Fatalf("exp transfer engine error, got %v", res.Err)
	}
}

func TestMulti_UnknownToken(t *testing.T) {
	m, err := NewMulti()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if err := m.Unpause(42); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("exp ErrUnknownToken, got %v", err)
	}
	if err := m.Remove(42); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("exp ErrUnknownToken, got %v", err)
	}
}

func TestMulti_RemoveStopsDelivery(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	m, err := NewMulti()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	rec := &recorder{}
	if err := m.Add(newDescriptor(t, http.MethodGet, srv.URL), rec, 5); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(rec.lines) == 0 && time.Now().Before(deadline) {
		m.Wait(nil, 20*time.Millisecond)
		m.Perform()
	}
	if len(rec.lines) == 0 {
		t.Fatal("headers never arrived")
	}

	if err := m.Remove(5); err != nil {
		t.Fatalf("remove: %v", err)
	}

	m.Wait(nil, 50*time.Millisecond)
	results, _ := m.Perform()
	for _, r := range results {
		if r.Token == 5 {
			t.Errorf("removed transfer must not report completion, got %+v", r)
		}
	}
}

func TestMulti_WaitWake(t *testing.T) {
	m, err := NewMulti()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	wake := make(chan struct{}, 1)
	wake <- struct{}{}

	got, err := m.Wait(wake, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Woken {
		t.Errorf("exp woken readiness, got %+v", got)
	}

	start := time.Now()
	got, _ = m.Wait(wake, 30*time.Millisecond)
	if got.Woken || got.Events {
		t.Errorf("exp timeout readiness, got %+v", got)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("wait returned before its timeout")
	}
}
