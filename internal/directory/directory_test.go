package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sungwon/govnotify/internal/apperror"
	"github.com/sungwon/govnotify/internal/httpclient"
)

func newDirectoryServer(t *testing.T, orgCalls *int32) (*httptest.Server, uuid.UUID, uuid.UUID) {
	t.Helper()
	userID, orgID := uuid.New(), uuid.New()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/profiles/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/profiles/"+userID.String() {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(Profile{ID: userID, Name: "Ana Citizen", Email: "ana@example.org", Phone: "+3531234567", NotifyBySMS: true})
	})
	mux.HandleFunc("/api/v1/organisations/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(orgCalls, 1)
		if r.URL.Path != "/api/v1/organisations/"+orgID.String() {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(Organisation{ID: orgID, Name: "Revenue Office"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, userID, orgID
}

func TestClient_GetProfile(t *testing.T) {
	var calls int32
	srv, userID, _ := newDirectoryServer(t, &calls)
	client := NewClient(srv.URL+"/", "", httpclient.New(5*time.Second))

	p, err := client.GetProfile(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Email != "ana@example.org" || !p.NotifyBySMS {
		t.Errorf("unexpected profile: %+v", p)
	}

	_, err = client.GetProfile(context.Background(), uuid.New())
	if !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestClient_ServiceErrorsAreUnavailable(t *testing.T) {
	doer := httpclient.DoerFunc(func(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
		return &httpclient.Response{StatusCode: http.StatusBadGateway, Body: []byte("upstream")}, nil
	})
	client := NewClient("http://directory", "key", doer)

	_, err := client.GetProfile(context.Background(), uuid.New())
	if apperror.KindOf(err) != apperror.Unavailable {
		t.Errorf("expected unavailable, got %v", err)
	}

	failing := httpclient.DoerFunc(func(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
		if req.Headers["Authorization"] != "Bearer key" {
			t.Errorf("expected api key header, got %v", req.Headers)
		}
		return nil, errors.New("dial tcp: connection refused")
	})
	_, err = NewClient("http://directory", "key", failing).GetOrganisation(context.Background(), uuid.New())
	if apperror.KindOf(err) != apperror.Unavailable {
		t.Errorf("expected unavailable, got %v", err)
	}
}

func TestDirectory_GetOrganisationWithCache(t *testing.T) {
	var calls int32
	srv, _, orgID := newDirectoryServer(t, &calls)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCache(rdb, time.Minute)

	dir := New(NewClient(srv.URL, "", httpclient.New(5*time.Second)), cache, zerolog.Nop())

	for i := 0; i < 3; i++ {
		org, err := dir.GetOrganisationWithCache(context.Background(), orgID)
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if org.Name != "Revenue Office" {
			t.Errorf("unexpected organisation %+v", org)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected one directory call, got %d", got)
	}
	key := organisationKey(orgID)
	if !mr.Exists(key) {
		t.Fatalf("expected key %q to exist", key)
	}
	if ttl := mr.TTL(key); ttl <= 0 {
		t.Errorf("expected TTL to be set, got %v", ttl)
	}
}

func TestDirectory_CacheKeyedByRequestedID(t *testing.T) {
	orgID := uuid.New()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"name":"Revenue Office"}`))
	}))
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	dir := New(NewClient(srv.URL, "", httpclient.New(5*time.Second)), NewRedisCache(rdb, time.Minute), zerolog.Nop())

	for i := 0; i < 2; i++ {
		if _, err := dir.GetOrganisationWithCache(context.Background(), orgID); err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected the second lookup to hit the cache, got %d directory calls", got)
	}
	if !mr.Exists(organisationKey(orgID)) {
		t.Errorf("expected key for %s", orgID)
	}
	if mr.Exists(organisationKey(uuid.Nil)) {
		t.Error("organisation cached under the nil id")
	}
}

func TestDirectory_CacheFailureFallsThrough(t *testing.T) {
	var calls int32
	srv, _, orgID := newDirectoryServer(t, &calls)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	dir := New(NewClient(srv.URL, "", httpclient.New(5*time.Second)), NewRedisCache(rdb, time.Minute), zerolog.Nop())

	org, err := dir.GetOrganisationWithCache(context.Background(), orgID)
	if err != nil {
		t.Fatalf("expected lookup to succeed without cache, got %v", err)
	}
	if org.ID != orgID {
		t.Errorf("unexpected organisation %+v", org)
	}
}

func TestDirectory_WithoutCache(t *testing.T) {
	var calls int32
	srv, _, orgID := newDirectoryServer(t, &calls)
	dir := New(NewClient(srv.URL, "", httpclient.New(5*time.Second)), nil, zerolog.Nop())

	if _, err := dir.GetOrganisationWithCache(context.Background(), orgID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := dir.GetOrganisationWithCache(context.Background(), uuid.New()); !errors.Is(err, ErrOrganisationNotFound) {
		t.Errorf("expected ErrOrganisationNotFound, got %v", err)
	}
}
