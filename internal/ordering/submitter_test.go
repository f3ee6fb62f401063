package ordering

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/boothclub/booth/internal/backend"
	"github.com/boothclub/booth/internal/session"
)

// submitBackend fakes the session and order routes, recording every order
// submission attempt.
type submitBackend struct {
	mu       sync.Mutex
	srv      *httptest.Server
	tokenSeq int
	opens    int

	// rejectTokens maps token -> true when POST /orders must 401 it.
	rejectTokens map[string]bool
	// acceptOnRung, when > 0, rejects auth styles before the nth rung of a
	// single attempt with a 401 even for accepted tokens.
	acceptOnRung int
	rungSeen     int

	keys       []string
	authHeader []string
	nextID     int64
}

func newSubmitBackend(t *testing.T) *submitBackend {
	t.Helper()
	sb := &submitBackend{rejectTokens: map[string]bool{}, nextID: 100}

	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/takeout/open", func(w http.ResponseWriter, r *http.Request) {
		sb.mu.Lock()
		sb.opens++
		sb.tokenSeq++
		token := fmt.Sprintf("tok-%d", sb.tokenSeq)
		sb.mu.Unlock()
		fmt.Fprintf(w, `{"success":true,"data":{"session_token":%q,"session_id":1,"table":{"id":0,"number":""},"channel":"TAKEOUT","abs_ttl_min":30}}`, token)
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		sb.mu.Lock()
		defer sb.mu.Unlock()

		sb.keys = append(sb.keys, r.Header.Get("Idempotency-Key"))
		sb.authHeader = append(sb.authHeader, r.Header.Get("Authorization"))

		token := r.Header.Get("X-Session-Token")
		if sb.rejectTokens[token] {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"success":false,"message":"session expired"}`))
			return
		}

		if sb.acceptOnRung > 0 {
			sb.rungSeen++
			if sb.rungSeen < sb.acceptOnRung {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"success":false,"message":"invalid token"}`))
				return
			}
		}

		sb.nextID++
		fmt.Fprintf(w, `{"success":true,"data":{"order_id":%d}}`, sb.nextID)
	})

	sb.srv = httptest.NewServer(mux)
	t.Cleanup(sb.srv.Close)
	return sb
}

func (sb *submitBackend) submittedTokens() []string {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return append([]string(nil), sb.authHeader...)
}

func newTestSubmitter(t *testing.T, sb *submitBackend) (*Submitter, *session.Store) {
	t.Helper()
	store := session.NewStore(nil)
	client := backend.NewClient(sb.srv.URL, nil)
	gate := session.NewGate(store, client, nil)
	return NewSubmitter(gate, client, nil), store
}

func TestSubmitDineInHappyPath(t *testing.T) {
	sb := newSubmitBackend(t)
	submitter, store := newTestSubmitter(t, sb)

	store.Set("A-10", &session.Session{Token: "tok-dinein", Channel: session.ChannelDineIn}, time.Hour)

	cart := Cart{
		PayerName: "Ana",
		Items: []Item{
			{ProductID: 1, Quantity: 2, Name: "A", LineTotal: 8},
			{ProductID: 2, Quantity: 1, Name: "B", LineTotal: 3},
		},
	}

	id, err := submitter.Submit(context.Background(), cart, "A-10", session.ChannelDineIn)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if id <= 0 {
		t.Errorf("Submit() id = %d, want a numeric order id", id)
	}
	if sb.opens != 0 {
		t.Errorf("dine-in submit opened %d sessions, want 0", sb.opens)
	}
}

func TestSubmitValidatesCartBeforeNetwork(t *testing.T) {
	sb := newSubmitBackend(t)
	submitter, _ := newTestSubmitter(t, sb)

	_, err := submitter.Submit(context.Background(), Cart{}, "A-10", session.ChannelDineIn)
	if err == nil {
		t.Fatal("Submit() of an empty cart should fail")
	}
	if len(sb.keys) != 0 {
		t.Errorf("empty cart caused %d network attempts, want 0", len(sb.keys))
	}
}

func TestSubmitTakeoutRecoversFromStaleSession(t *testing.T) {
	sb := newSubmitBackend(t)
	submitter, store := newTestSubmitter(t, sb)

	// The stored session's token is rejected; the re-opened one works.
	store.Set("T-1", &session.Session{Token: "tok-stale", Channel: session.ChannelTakeout}, time.Hour)
	sb.rejectTokens["tok-stale"] = true

	cart := Cart{Items: []Item{{ProductID: 1, Quantity: 1}}}
	id, err := submitter.Submit(context.Background(), cart, "T-1", session.ChannelTakeout)
	if err != nil {
		t.Fatalf("Submit() error = %v, want recovery on refreshed session", err)
	}
	if id == 0 {
		t.Error("Submit() returned zero order id")
	}
	if sb.opens != 1 {
		t.Errorf("opened %d sessions, want exactly 1 refresh", sb.opens)
	}

	// The stale token walked the full ladder (3 rungs), then the fresh
	// session succeeded on its first rung.
	if len(sb.keys) != 4 {
		t.Fatalf("recorded %d attempts, want 4", len(sb.keys))
	}

	// Same key across the auth-variant rungs of the first attempt.
	if sb.keys[0] != sb.keys[1] || sb.keys[1] != sb.keys[2] {
		t.Errorf("idempotency key changed across auth variants: %v", sb.keys[:3])
	}
	// Fresh key after the session refresh.
	if sb.keys[3] == sb.keys[0] {
		t.Error("idempotency key must be re-minted after session re-acquisition")
	}

	// The refreshed attempt used a different token.
	sess := store.Get("T-1")
	if sess == nil || sess.Token == "tok-stale" {
		t.Errorf("stored session = %+v, want replaced token", sess)
	}
}

func TestSubmitAuthLadderOrder(t *testing.T) {
	sb := newSubmitBackend(t)
	submitter, store := newTestSubmitter(t, sb)

	store.Set("A-10", &session.Session{Token: "tok-ok", Channel: session.ChannelDineIn}, time.Hour)
	sb.acceptOnRung = 3

	cart := Cart{Items: []Item{{ProductID: 1, Quantity: 1}}}
	if _, err := submitter.Submit(context.Background(), cart, "A-10", session.ChannelDineIn); err != nil {
		t.Fatalf("Submit() error = %v, want success on third rung", err)
	}

	headers := sb.submittedTokens()
	want := []string{"Session tok-ok", "Bearer tok-ok", ""}
	if len(headers) != len(want) {
		t.Fatalf("attempts = %d, want %d", len(headers), len(want))
	}
	for i := range want {
		if headers[i] != want[i] {
			t.Errorf("rung %d Authorization = %q, want %q", i+1, headers[i], want[i])
		}
	}
}

func TestSubmitDineInNeverAutoRefreshes(t *testing.T) {
	sb := newSubmitBackend(t)
	submitter, store := newTestSubmitter(t, sb)

	store.Set("A-10", &session.Session{Token: "tok-stale", Channel: session.ChannelDineIn}, time.Hour)
	sb.rejectTokens["tok-stale"] = true

	cart := Cart{Items: []Item{{ProductID: 1, Quantity: 1}}}
	_, err := submitter.Submit(context.Background(), cart, "A-10", session.ChannelDineIn)
	if err == nil {
		t.Fatal("Submit() should surface the dine-in auth failure")
	}
	if !backend.IsCode(err, backend.CodeAuthExpired) {
		t.Errorf("error = %v, want auth_expired for the caller to prompt a code", err)
	}
	if sb.opens != 0 {
		t.Errorf("dine-in failure opened %d sessions, want 0", sb.opens)
	}
}

func TestSubmitKeysDifferAcrossInvocations(t *testing.T) {
	sb := newSubmitBackend(t)
	submitter, store := newTestSubmitter(t, sb)

	store.Set("A-10", &session.Session{Token: "tok-ok", Channel: session.ChannelDineIn}, time.Hour)
	cart := Cart{Items: []Item{{ProductID: 1, Quantity: 1}}}

	if _, err := submitter.Submit(context.Background(), cart, "A-10", session.ChannelDineIn); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if _, err := submitter.Submit(context.Background(), cart, "A-10", session.ChannelDineIn); err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}

	if len(sb.keys) != 2 {
		t.Fatalf("attempts = %d, want 2", len(sb.keys))
	}
	if sb.keys[0] == sb.keys[1] {
		t.Errorf("two submissions of the same cart reused key %q", sb.keys[0])
	}
}

func TestSubmitNonAuthErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders" {
			t.Fatalf("unexpected call to %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"message":"kitchen is closed"}`))
	}))
	defer srv.Close()

	store := session.NewStore(nil)
	client := backend.NewClient(srv.URL, nil)
	gate := session.NewGate(store, client, nil)
	submitter := NewSubmitter(gate, client, nil)

	store.Set("A-10", &session.Session{Token: "tok-ok", Channel: session.ChannelDineIn}, time.Hour)

	cart := Cart{Items: []Item{{ProductID: 1, Quantity: 1}}}
	_, err := submitter.Submit(context.Background(), cart, "A-10", session.ChannelDineIn)

	var be *backend.Error
	if !errors.As(err, &be) || be.Code != backend.CodeValidation {
		t.Fatalf("error = %v, want single validation rejection without ladder walk", err)
	}
}
