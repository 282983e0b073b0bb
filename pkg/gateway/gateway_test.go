/*
Copyright 2026 The Mahavishnu Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	graph "github.com/lesleslie/mahavishnu-sub005/pkg/dependency"
	"github.com/lesleslie/mahavishnu-sub005/pkg/eventbus"
	"github.com/lesleslie/mahavishnu-sub005/pkg/pool"
)

func TestGateway(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Subscription Gateway Suite")
}

func dialWS(url string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws", nil)
	return conn, err
}

var _ = Describe("Server", func() {
	var (
		httpSrv  *httptest.Server
		registry *pool.Registry
		bus      *eventbus.Bus
		manager  *graph.Manager
	)

	BeforeEach(func() {
		bus = eventbus.New(eventbus.DefaultQueueSize)
		registry = pool.NewRegistry(nil)
		manager = graph.NewManager(graph.NewEventEmitter(nil))

		srv := NewServer(Config{Manager: manager, Registry: registry, Bus: bus, PingInterval: 50 * time.Millisecond})
		httpSrv = httptest.NewServer(srv.Router())
	})

	AfterEach(func() {
		httpSrv.Close()
	})

	It("sends a welcome frame immediately after connecting", func() {
		conn, err := dialWS(httpSrv.URL)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		var welcome WelcomeFrame
		Expect(conn.ReadJSON(&welcome)).To(Succeed())
		Expect(welcome.Type).To(Equal(FrameWelcome))
		Expect(welcome.Version).To(Equal(ProtocolVersion))
		Expect(welcome.Capabilities).To(ContainElement("subscribe"))
	})

	It("subscribes to a pool channel and receives subsequently published events", func() {
		conn, err := dialWS(httpSrv.URL)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		var welcome WelcomeFrame
		Expect(conn.ReadJSON(&welcome)).To(Succeed())

		Expect(conn.WriteJSON(RequestFrame{
			Type:  FrameRequest,
			Event: RequestSubscribe,
			Data:  map[string]any{"channel": eventbus.PoolChannel("pool-a")},
			ID:    "req-1",
		})).To(Succeed())

		var resp ResponseFrame
		Expect(conn.ReadJSON(&resp)).To(Succeed())
		Expect(resp.ID).To(Equal("req-1"))
		Expect(resp.Status).To(Equal("subscribed"))

		bus.Publish(eventbus.PoolChannel("pool-a"), "worker.added", map[string]any{"worker_id": "w1"})

		var evt EventFrame
		Expect(conn.ReadJSON(&evt)).To(Succeed())
		Expect(evt.Type).To(Equal(FrameEvent))
		Expect(evt.Event).To(Equal("worker.added"))
	})

	It("rejects a request missing a required field with an error frame", func() {
		conn, err := dialWS(httpSrv.URL)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		var welcome WelcomeFrame
		Expect(conn.ReadJSON(&welcome)).To(Succeed())

		Expect(conn.WriteJSON(map[string]any{"type": "request", "event": "subscribe"})).To(Succeed())

		var errFrame ErrorFrame
		Expect(conn.ReadJSON(&errFrame)).To(Succeed())
		Expect(errFrame.Type).To(Equal(FrameError))
	})

	It("answers get_pool_status for a registered pool", func() {
		_, err := registry.RegisterPool("pool-a", "generic", 1, 3)
		Expect(err).NotTo(HaveOccurred())

		conn, err := dialWS(httpSrv.URL)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		var welcome WelcomeFrame
		Expect(conn.ReadJSON(&welcome)).To(Succeed())

		Expect(conn.WriteJSON(RequestFrame{
			Type: FrameRequest, Event: RequestGetPoolStatus,
			Data: map[string]any{"pool_id": "pool-a"}, ID: "req-2",
		})).To(Succeed())

		var resp ResponseFrame
		Expect(conn.ReadJSON(&resp)).To(Succeed())
		Expect(resp.ID).To(Equal("req-2"))
		Expect(resp.Data).NotTo(BeNil())
	})

	It("exposes a health endpoint", func() {
		resp, err := httpSrv.Client().Get(httpSrv.URL + "/healthz")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(200))
	})

	It("returns a single error for an empty batch request", func() {
		resp, err := httpSrv.Client().Post(httpSrv.URL+"/batch", "application/json", strings.NewReader("[]"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(400))
	})

	It("terminates a session after missed pongs beyond the default tolerance", func() {
		conn, err := dialWS(httpSrv.URL)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		var welcome WelcomeFrame
		Expect(conn.ReadJSON(&welcome)).To(Succeed())

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		// The client never answers pings, so the server eventually closes
		// the connection once its missed-pong tolerance is exceeded. The
		// ping frames sent before that are read and discarded.
		var readErr error
		for readErr == nil {
			_, _, readErr = conn.ReadMessage()
		}
		Expect(readErr).To(HaveOccurred())
		// A closed connection, not the read deadline, ends the loop.
		Expect(readErr).To(BeAssignableToTypeOf(&websocket.CloseError{}))
	})

	It("Shutdown sends a goodbye frame and completes within a bounded timeout", func() {
		srv := NewServer(Config{Manager: manager, Registry: registry, Bus: bus})
		ts := httptest.NewServer(srv.Router())
		defer ts.Close()

		conn, err := dialWS(ts.URL)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		var welcome WelcomeFrame
		Expect(conn.ReadJSON(&welcome)).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		Expect(srv.Shutdown(ctx)).To(Succeed())
	})
})
