package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kiosk-core/internal/domain/cart"
	"github.com/xenking/kiosk-core/internal/domain/identity"
	"github.com/xenking/kiosk-core/internal/domain/operator"
	"github.com/xenking/kiosk-core/internal/domain/payment"
	"github.com/xenking/kiosk-core/internal/domain/session"
	"github.com/xenking/kiosk-core/internal/gateway"
	"github.com/xenking/kiosk-core/pkg/httpmiddleware"
)

const (
	pepper           = "test-pepper"
	testOperatorCode = "4242"
)

// --- Test doubles ---

type memStore struct {
	mu     sync.Mutex
	snaps  map[string]session.Snapshot
	events map[string][]session.Event
}

func newMemStore() *memStore {
	return &memStore{
		snaps:  make(map[string]session.Snapshot),
		events: make(map[string][]session.Event),
	}
}

func (s *memStore) Save(_ context.Context, snap session.Snapshot, ev session.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.ID] = snap
	s.events[snap.ID] = append(s.events[snap.ID], ev)
	return nil
}

func (s *memStore) Archive(context.Context, string, time.Time) error { return nil }

func (s *memStore) Load(_ context.Context, id string) (*session.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return &snap, nil
}

func (s *memStore) Events(_ context.Context, id string, after, upTo uint64) ([]session.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []session.Event
	for _, ev := range s.events[id] {
		if ev.Seq > after && ev.Seq <= upTo {
			out = append(out, ev)
		}
	}
	return out, nil
}

type registry map[string]*operator.Operator

func (r registry) FindByCodeHash(_ context.Context, hash string) (*operator.Operator, error) {
	if op, ok := r[hash]; ok {
		return op, nil
	}
	return nil, operator.ErrNotFound
}

// holdGateway accepts charges and never answers; verdicts are posted to the
// callback endpoint by the test.
type holdGateway struct {
	charges chan payment.ChargeRequest
}

func (g *holdGateway) Charge(_ context.Context, req payment.ChargeRequest) error {
	select {
	case g.charges <- req:
	default:
	}
	return nil
}

func (g *holdGateway) Void(context.Context, string) error { return nil }

// --- Fixture ---

type fixture struct {
	t     *testing.T
	h     http.Handler
	mgr   *session.Manager
	store *memStore
}

type fixtureOpts struct {
	gateway   payment.Gateway
	retention time.Duration
	cfg       Config
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	hash := operator.HashCode([]byte(pepper), testOperatorCode)
	gate := operator.NewGate(registry{hash: {ID: "op-1", Username: "ops", CodeHash: hash}}, []byte(pepper), nil)

	gw := o.gateway
	if gw == nil {
		gw = &holdGateway{charges: make(chan payment.ChargeRequest, 16)}
	}
	orch := payment.NewOrchestrator(gw, payment.Policy{MaxRetries: 2, Timeout: 5 * time.Second}, nil)
	store := newMemStore()
	mgr := session.NewManager(session.Config{
		Pricing:   cart.Pricing{TaxRate: decimal.RequireFromString("0.19"), Places: 2},
		Retention: o.retention,
	}, identity.NewResolver(0.8), gate, orch, store)
	t.Cleanup(mgr.Close)

	if sim, ok := gw.(*gateway.SimulatedGateway); ok {
		sim.Bind(mgr.HandlePaymentResult)
	}
	return &fixture{
		t:     t,
		h:     New(o.cfg, mgr, store, nil).Routes(),
		mgr:   mgr,
		store: store,
	}
}

type snapBody struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Seq      uint64 `json:"seq"`
	Identity struct {
		Variant string `json:"variant"`
		Name    string `json:"name"`
	} `json:"identity"`
	Cart struct {
		Items []struct {
			LineID    string `json:"line_id"`
			ProductID string `json:"product_id"`
			Quantity  int    `json:"quantity"`
		} `json:"items"`
		Totals struct {
			Discount string `json:"discount"`
			Total    string `json:"total"`
		} `json:"totals"`
		Frozen bool `json:"frozen"`
	} `json:"cart"`
	Payment *struct {
		ID      string `json:"id"`
		State   string `json:"state"`
		Attempt int    `json:"attempt"`
	} `json:"payment"`
}

type errBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (f *fixture) do(method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:5000"
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, req)
	return w
}

func decodeSnap(t *testing.T, w *httptest.ResponseRecorder) snapBody {
	t.Helper()
	var s snapBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s), w.Body.String())
	return s
}

func (f *fixture) create() snapBody {
	f.t.Helper()
	w := f.do(http.MethodPost, "/api/sessions", `{}`)
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())
	return decodeSnap(f.t, w)
}

func (f *fixture) addItem(id, product string, qty int, price string) snapBody {
	f.t.Helper()
	body := `{"product_id":"` + product + `","quantity":` + strconv.Itoa(qty) + `,"unit_price":"` + price + `"}`
	w := f.do(http.MethodPost, "/api/sessions/"+id+"/items", body)
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())
	return decodeSnap(f.t, w)
}

// --- Tests ---

func TestCreateSession(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	w := f.do(http.MethodPost, "/api/sessions", `{}`)
	require.Equal(t, http.StatusCreated, w.Code)
	s := decodeSnap(t, w)
	assert.Equal(t, "ACTIVE", s.Status)
	assert.Equal(t, "NO_ID", s.Identity.Variant)
	assert.Equal(t, uint64(1), s.Seq)
	assert.Equal(t, "/api/sessions/"+s.ID, w.Header().Get("Location"))

	w = f.do(http.MethodPost, "/api/sessions", `{"face":{"name":"Ana","confidence":0.95}}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Ana", decodeSnap(t, w).Identity.Name)
}

func TestCreateSession_Rejected(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	for _, tt := range []struct {
		name string
		body string
		code int
	}{
		{"Malformed", `{"face":`, http.StatusBadRequest},
		{"LowConfidence", `{"face":{"name":"Ana","confidence":0.3}}`, http.StatusUnprocessableEntity},
		{"Ambiguous", `{"face":{"name":"Ana","confidence":0.9},"pin":{"code":"1"}}`, http.StatusUnprocessableEntity},
	} {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/sessions", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
	assert.Zero(t, f.mgr.Len())
}

func TestGetSession(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	s := f.create()

	w := f.do(http.MethodGet, "/api/sessions/"+s.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, s.ID, decodeSnap(t, w).ID)

	w = f.do(http.MethodGet, "/api/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	var e errBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.Equal(t, http.StatusNotFound, e.Code)
}

func TestItems(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	id := f.create().ID

	s := f.addItem(id, "water", 2, "10")
	require.Len(t, s.Cart.Items, 1)
	assert.Equal(t, "23.8", s.Cart.Totals.Total)
	line := s.Cart.Items[0].LineID

	w := f.do(http.MethodPatch, "/api/sessions/"+id+"/items/"+line, `{"quantity":5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 5, decodeSnap(t, w).Cart.Items[0].Quantity)

	w = f.do(http.MethodDelete, "/api/sessions/"+id+"/items/"+line+"?units=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decodeSnap(t, w).Cart.Items[0].Quantity)

	w = f.do(http.MethodDelete, "/api/sessions/"+id+"/items/"+line, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeSnap(t, w).Cart.Items)

	t.Run("Errors", func(t *testing.T) {
		base := "/api/sessions/" + id
		for _, tt := range []struct {
			name, method, path, body string
			code                     int
		}{
			{"UnknownLine", http.MethodDelete, base + "/items/nope", "", http.StatusNotFound},
			{"BadUnits", http.MethodDelete, base + "/items/nope?units=x", "", http.StatusBadRequest},
			{"ZeroQuantity", http.MethodPost, base + "/items", `{"product_id":"a","quantity":0,"unit_price":"1"}`, http.StatusUnprocessableEntity},
			{"NegativePrice", http.MethodPost, base + "/items", `{"product_id":"a","quantity":1,"unit_price":"-1"}`, http.StatusUnprocessableEntity},
			{"MissingPrice", http.MethodPost, base + "/items", `{"product_id":"a","quantity":1}`, http.StatusBadRequest},
			{"UnknownSession", http.MethodPost, "/api/sessions/missing/items", `{"product_id":"a","quantity":1,"unit_price":"1"}`, http.StatusNotFound},
		} {
			t.Run(tt.name, func(t *testing.T) {
				w := f.do(tt.method, tt.path, tt.body)
				assert.Equal(t, tt.code, w.Code, w.Body.String())
			})
		}
	})
}

func TestDiscount_RequiresOperator(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	id := f.create().ID
	f.addItem(id, "water", 2, "10")

	w := f.do(http.MethodPost, "/api/sessions/"+id+"/discount", `{"amount":"5"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/api/sessions/"+id+"/discount", `{"amount":"5"}`, HeaderOperatorCode, "0000")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/api/sessions/"+id+"/discount", `{"amount":"500"}`, HeaderOperatorCode, testOperatorCode)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(http.MethodPost, "/api/sessions/"+id+"/discount", `{"amount":"5"}`, HeaderOperatorCode, testOperatorCode)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s := decodeSnap(t, w)
	assert.Equal(t, "5", s.Cart.Totals.Discount)
	assert.Equal(t, "17.85", s.Cart.Totals.Total)
}

func TestSuspendResumeCancel(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	id := f.create().ID
	op := []string{HeaderOperatorCode, testOperatorCode}

	w := f.do(http.MethodPost, "/api/sessions/"+id+"/suspend", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/api/sessions/"+id+"/suspend", "", op...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SUSPENDED", decodeSnap(t, w).Status)

	w = f.do(http.MethodPost, "/api/sessions/"+id+"/items", `{"product_id":"a","quantity":1,"unit_price":"1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodPost, "/api/sessions/"+id+"/resume", "", op...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ACTIVE", decodeSnap(t, w).Status)

	w = f.do(http.MethodPost, "/api/sessions/"+id+"/cancel", "", op...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CLOSED", decodeSnap(t, w).Status)

	w = f.do(http.MethodPost, "/api/sessions/"+id+"/resume", "", op...)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestOperatorRoutesRateLimited(t *testing.T) {
	limit := httpmiddleware.RateLimit(httpmiddleware.NewWindowLimiter(2, time.Minute), nil)
	f := newFixture(t, fixtureOpts{cfg: Config{OperatorLimit: limit}})
	id := f.create().ID

	for range 2 {
		w := f.do(http.MethodPost, "/api/sessions/"+id+"/suspend", "", HeaderOperatorCode, "0000")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := f.do(http.MethodPost, "/api/sessions/"+id+"/suspend", "", HeaderOperatorCode, testOperatorCode)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Reads are not limited.
	w = f.do(http.MethodGet, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckout_Callback(t *testing.T) {
	secret := []byte("callback-secret")
	gw := &holdGateway{charges: make(chan payment.ChargeRequest, 4)}
	f := newFixture(t, fixtureOpts{gateway: gw, cfg: Config{CallbackSecret: secret}})
	id := f.create().ID

	w := f.do(http.MethodPost, "/api/sessions/"+id+"/checkout", `{"method":"CARD"}`)
	assert.Equal(t, http.StatusConflict, w.Code, "empty cart")

	f.addItem(id, "water", 1, "10")
	w = f.do(http.MethodPost, "/api/sessions/"+id+"/checkout", `{"method":"CASH"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/sessions/"+id+"/checkout", `{"method":"CARD"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	s := decodeSnap(t, w)
	require.NotNil(t, s.Payment)
	assert.Equal(t, "PROCESSING", s.Payment.State)
	assert.True(t, s.Cart.Frozen)

	var req payment.ChargeRequest
	select {
	case req = <-gw.charges:
	case <-time.After(2 * time.Second):
		t.Fatal("charge not submitted")
	}
	assert.Equal(t, s.Payment.ID, req.TransactionID)

	w = f.do(http.MethodPost, "/api/sessions/"+id+"/items", `{"product_id":"b","quantity":1,"unit_price":"1"}`)
	assert.Equal(t, http.StatusConflict, w.Code, "frozen cart")

	body := `{"transaction_id":"` + req.TransactionID + `","attempt":1,"outcome":"APPROVED"}`

	w = f.do(http.MethodPost, "/api/payments/callback", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "unsigned")

	w = f.do(http.MethodPost, "/api/payments/callback", body, HeaderSignature, SignCallback([]byte("wrong"), []byte(body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	sig := SignCallback(secret, []byte(body))
	w = f.do(http.MethodPost, "/api/payments/callback", body, HeaderSignature, sig)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"applied"}`, w.Body.String())

	w = f.do(http.MethodGet, "/api/sessions/"+id, "")
	s = decodeSnap(t, w)
	assert.Equal(t, "CLOSED", s.Status)
	assert.Equal(t, "SUCCESS", s.Payment.State)

	w = f.do(http.MethodPost, "/api/payments/callback", body, HeaderSignature, sig)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, w.Body.String())
}

func TestPayment_RetryAndCancel(t *testing.T) {
	f := newFixture(t, fixtureOpts{gateway: gateway.NewSimulatedGateway(time.Millisecond, gateway.DeclineFirst(1), nil)})
	id := f.create().ID
	f.addItem(id, "water", 1, "10")

	w := f.do(http.MethodPost, "/api/sessions/"+id+"/payment/retry", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "no transaction yet")

	w = f.do(http.MethodPost, "/api/sessions/"+id+"/checkout", `{"method":"QR"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var s snapBody
	require.Eventually(t, func() bool {
		s = decodeSnap(t, f.do(http.MethodGet, "/api/sessions/"+id, ""))
		return s.Payment != nil && s.Payment.State == "ERROR"
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, s.Cart.Frozen)

	w = f.do(http.MethodPost, "/api/sessions/"+id+"/payment/retry", `{"transaction_id":"other"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/api/sessions/"+id+"/payment/cancel", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "IDLE", decodeSnap(t, w).Payment.State)

	w = f.do(http.MethodPost, "/api/sessions/"+id+"/payment/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// A new checkout goes through on the retry.
	w = f.do(http.MethodPost, "/api/sessions/"+id+"/checkout", `{"method":"QR"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool {
		s = decodeSnap(t, f.do(http.MethodGet, "/api/sessions/"+id, ""))
		return s.Payment.State == "ERROR"
	}, 2*time.Second, 5*time.Millisecond)

	w = f.do(http.MethodPost, "/api/sessions/"+id+"/payment/retry", `{"transaction_id":"`+s.Payment.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Eventually(t, func() bool {
		s = decodeSnap(t, f.do(http.MethodGet, "/api/sessions/"+id, ""))
		return s.Status == "CLOSED"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, s.Payment.Attempt)
}

func TestPayment_RetryExhausted(t *testing.T) {
	f := newFixture(t, fixtureOpts{gateway: gateway.NewSimulatedGateway(time.Millisecond, gateway.DeclineFirst(10), nil)})
	id := f.create().ID
	f.addItem(id, "water", 1, "10")
	require.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/sessions/"+id+"/checkout", `{"method":"CARD"}`).Code)

	waitError := func(attempt int) {
		require.Eventually(t, func() bool {
			s := decodeSnap(t, f.do(http.MethodGet, "/api/sessions/"+id, ""))
			return s.Payment.State == "ERROR" && s.Payment.Attempt == attempt
		}, 2*time.Second, 5*time.Millisecond)
	}
	waitError(1)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/sessions/"+id+"/payment/retry", "").Code)
	waitError(2)

	w := f.do(http.MethodPost, "/api/sessions/"+id+"/payment/retry", "")
	require.Equal(t, http.StatusConflict, w.Code)
	var body struct {
		Message string   `json:"message"`
		Session snapBody `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Message, "exhausted")
	assert.Equal(t, "SUSPENDED", body.Session.Status)
	assert.Equal(t, "FAILED", body.Session.Payment.State)
}

func TestArchivedSessionServedFromHistory(t *testing.T) {
	f := newFixture(t, fixtureOpts{retention: 10 * time.Millisecond})
	id := f.create().ID

	w := f.do(http.MethodPost, "/api/sessions/"+id+"/cancel", "", HeaderOperatorCode, testOperatorCode)
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool { return f.mgr.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	w = f.do(http.MethodGet, "/api/sessions/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CLOSED", decodeSnap(t, w).Status)
}

// --- Event stream ---

type sseFrame struct {
	id    string
	event string
	data  string
}

func readFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()
	var f sseFrame
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if f.event != "" {
				return f
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			f.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, srv *httptest.Server, path string, hdr ...string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body)
}

func TestEvents_SnapshotThenLive(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	srv := httptest.NewServer(f.h)
	t.Cleanup(srv.Close)
	id := f.create().ID

	r := openStream(t, srv, "/api/sessions/"+id+"/events?snapshot=1")
	first := readFrame(t, r)
	assert.Equal(t, "snapshot", first.event)
	assert.Equal(t, "1", first.id)

	f.addItem(id, "water", 1, "10")
	ev := readFrame(t, r)
	assert.Equal(t, "CART_UPDATED", ev.event)
	assert.Equal(t, "2", ev.id)

	var payload struct {
		Seq  uint64 `json:"seq"`
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal([]byte(ev.data), &payload))
	assert.Equal(t, uint64(2), payload.Seq)
}

func TestEvents_ResumeReplaysFromHistory(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	srv := httptest.NewServer(f.h)
	t.Cleanup(srv.Close)
	id := f.create().ID
	f.addItem(id, "water", 1, "10")
	f.addItem(id, "bread", 1, "3")

	r := openStream(t, srv, "/api/sessions/"+id+"/events", "Last-Event-ID", "1")
	assert.Equal(t, "2", readFrame(t, r).id)
	assert.Equal(t, "3", readFrame(t, r).id)

	f.addItem(id, "milk", 1, "2")
	assert.Equal(t, "4", readFrame(t, r).id)
}

func TestEvents_UnknownSession(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	w := f.do(http.MethodGet, "/api/sessions/missing/events", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMapError(t *testing.T) {
	for _, tt := range []struct {
		err  error
		code int
	}{
		{&badRequest{err: errors.New("x")}, http.StatusBadRequest},
		{&identity.Error{Reason: "x"}, http.StatusUnprocessableEntity},
		{&session.CreationError{Err: &identity.Error{Reason: "x"}}, http.StatusUnprocessableEntity},
		{&session.CreationError{Err: errors.New("db down")}, http.StatusInternalServerError},
		{operator.ErrUnauthorized, http.StatusUnauthorized},
		{errors.Wrap(session.ErrNotFound, "get"), http.StatusNotFound},
		{&session.InvalidStateError{Op: "suspend", Status: session.StatusClosed}, http.StatusConflict},
		{cart.ErrFrozen, http.StatusConflict},
		{payment.ErrRetryExhausted, http.StatusConflict},
		{&cart.InvalidQuantityError{Quantity: -1}, http.StatusUnprocessableEntity},
		{&cart.InvalidQuantityError{Quantity: 1000, Max: 999}, http.StatusUnprocessableEntity},
		{&payment.GatewayError{Reason: "x"}, http.StatusBadGateway},
		{session.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	} {
		assert.Equal(t, tt.code, mapError(tt.err), "%v", tt.err)
	}
}
