package input

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/depthrelay/logging"
)

func TestKeyName(t *testing.T) {
	for _, tc := range []struct {
		in   byte
		name string
		ok   bool
	}{
		{' ', KeySpace, true},
		{'+', KeyPlus, true},
		{'=', KeyPlus, true},
		{'-', KeyMinus, true},
		{'_', KeyMinus, true},
		{'P', KeyPlane, true},
		{'f', KeyFilter, true},
		{0x03, KeyQuit, true},
		{'x', "x", true},
		{'\n', "", false},
		{0x1b, "", false},
	} {
		name, ok := KeyName(tc.in)
		test.That(t, ok, test.ShouldEqual, tc.ok)
		test.That(t, name, test.ShouldEqual, tc.name)
	}
}

func collect(events chan<- Event, d Disposition) Handler {
	return func(ev Event) Disposition {
		events <- ev
		return d
	}
}

func TestTerminalSource(t *testing.T) {
	logger := logging.NewTestLogger(t)
	r, w := io.Pipe()
	ts := NewTerminalSource(r, logger)

	events := make(chan Event, 10)
	test.That(t, ts.Start(context.Background(), collect(events, Handled)), test.ShouldBeNil)
	test.That(t, ts.Start(context.Background(), collect(events, Handled)), test.ShouldNotBeNil)

	go func() {
		//nolint:errcheck
		w.Write([]byte(" p\n+q"))
	}()

	var names []string
	for i := 0; i < 4; i++ {
		select {
		case ev := <-events:
			test.That(t, ev.Category, test.ShouldEqual, Navigation)
			test.That(t, ev.Type, test.ShouldEqual, KeyPress)
			names = append(names, ev.Key)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for key")
		}
	}
	test.That(t, names, test.ShouldResemble, []string{KeySpace, KeyPlane, KeyPlus, KeyQuit})

	test.That(t, ts.Close(), test.ShouldBeNil)
	test.That(t, w.Close(), test.ShouldBeNil)
	test.That(t, ts.Close(), test.ShouldBeNil)
}

func TestHTTPSourceRoutes(t *testing.T) {
	logger := logging.NewTestLogger(t)
	hs := NewHTTPSource("127.0.0.1:0", func() interface{} {
		return map[string]interface{}{"clipping_distance": 1.2}
	}, logger)
	server := httptest.NewServer(hs.Handler())
	defer server.Close()

	// nothing to deliver to before Start
	resp, err := http.Post(server.URL+"/key/p", "", nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusServiceUnavailable)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)

	events := make(chan Event, 10)
	test.That(t, hs.Start(context.Background(), collect(events, Handled)), test.ShouldBeNil)
	defer func() {
		test.That(t, hs.Close(), test.ShouldBeNil)
	}()

	resp, err = http.Post(server.URL+"/key/minus", "", nil)
	test.That(t, err, test.ShouldBeNil)
	var body eventResponse
	test.That(t, json.NewDecoder(resp.Body).Decode(&body), test.ShouldBeNil)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)
	test.That(t, body.Disposition, test.ShouldEqual, "handled")
	ev := <-events
	test.That(t, ev.Type, test.ShouldEqual, KeyPress)
	test.That(t, ev.Key, test.ShouldEqual, KeyMinus)

	resp, err = http.Post(server.URL+"/click?x=640.5&y=360", "", nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)
	ev = <-events
	test.That(t, ev.Type, test.ShouldEqual, PointerRelease)
	test.That(t, ev.X, test.ShouldEqual, 640.5)
	test.That(t, ev.Y, test.ShouldEqual, 360.)
	test.That(t, ev.Button, test.ShouldEqual, 1)

	resp, err = http.Post(server.URL+"/click?x=abc&y=1", "", nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)

	resp, err = http.Get(server.URL + "/state")
	test.That(t, err, test.ShouldBeNil)
	var state map[string]interface{}
	test.That(t, json.NewDecoder(resp.Body).Decode(&state), test.ShouldBeNil)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)
	test.That(t, state["clipping_distance"], test.ShouldEqual, 1.2)
}

func TestHTTPSourceListens(t *testing.T) {
	logger := logging.NewTestLogger(t)
	hs := NewHTTPSource("127.0.0.1:0", nil, logger)
	events := make(chan Event, 1)
	test.That(t, hs.Start(context.Background(), collect(events, Ignored)), test.ShouldBeNil)

	resp, err := http.Post("http://"+hs.Addr()+"/key/x", "", nil)
	test.That(t, err, test.ShouldBeNil)
	var body eventResponse
	test.That(t, json.NewDecoder(resp.Body).Decode(&body), test.ShouldBeNil)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)
	test.That(t, body.Disposition, test.ShouldEqual, "ignored")
	test.That(t, (<-events).Key, test.ShouldEqual, "x")

	resp, err = http.Get("http://" + hs.Addr() + "/state")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusNotFound)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)

	test.That(t, hs.Close(), test.ShouldBeNil)
}
