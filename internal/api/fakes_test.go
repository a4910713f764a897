package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sungwon/govnotify/internal/auth"
	"github.com/sungwon/govnotify/internal/event"
	"github.com/sungwon/govnotify/internal/message"
	"github.com/sungwon/govnotify/internal/provider"
)

type fakeMessages struct {
	processFn  func(ctx context.Context, in message.NewMessage, sender message.Sender) (*message.Result, error)
	markSeenFn func(ctx context.Context, id uuid.UUID) error
	getFn      func(ctx context.Context, id uuid.UUID) (*message.Message, error)
}

func (f *fakeMessages) ProcessMessage(ctx context.Context, in message.NewMessage, sender message.Sender) (*message.Result, error) {
	return f.processFn(ctx, in, sender)
}

func (f *fakeMessages) MarkSeen(ctx context.Context, id uuid.UUID) error {
	return f.markSeenFn(ctx, id)
}

func (f *fakeMessages) Get(ctx context.Context, id uuid.UUID) (*message.Message, error) {
	return f.getFn(ctx, id)
}

type fakeJobs struct {
	executeFn func(ctx context.Context, jobID uuid.UUID, token string) error
}

func (f *fakeJobs) ExecuteJob(ctx context.Context, jobID uuid.UUID, token string) error {
	return f.executeFn(ctx, jobID, token)
}

type fakeEvents struct {
	listFn    func(ctx context.Context, f event.Filter, p event.Page) (*event.ListResult, error)
	historyFn func(ctx context.Context, messageID uuid.UUID) ([]event.Event, error)
}

func (f *fakeEvents) List(ctx context.Context, filter event.Filter, p event.Page) (*event.ListResult, error) {
	return f.listFn(ctx, filter, p)
}

func (f *fakeEvents) History(ctx context.Context, messageID uuid.UUID) ([]event.Event, error) {
	return f.historyFn(ctx, messageID)
}

type fakeProviders struct {
	getFn    func(ctx context.Context, id uuid.UUID) (*provider.Provider, error)
	listFn   func(ctx context.Context, f provider.Filter, p provider.Page) (*provider.ListResult, error)
	createFn func(ctx context.Context, in provider.Input) (*provider.Provider, error)
	updateFn func(ctx context.Context, id uuid.UUID, in provider.Input) (*provider.Provider, error)
	deleteFn func(ctx context.Context, id uuid.UUID) error
}

func (f *fakeProviders) Get(ctx context.Context, id uuid.UUID) (*provider.Provider, error) {
	return f.getFn(ctx, id)
}

func (f *fakeProviders) List(ctx context.Context, filter provider.Filter, p provider.Page) (*provider.ListResult, error) {
	return f.listFn(ctx, filter, p)
}

func (f *fakeProviders) Create(ctx context.Context, in provider.Input) (*provider.Provider, error) {
	return f.createFn(ctx, in)
}

func (f *fakeProviders) Update(ctx context.Context, id uuid.UUID, in provider.Input) (*provider.Provider, error) {
	return f.updateFn(ctx, id, in)
}

func (f *fakeProviders) Delete(ctx context.Context, id uuid.UUID) error {
	return f.deleteFn(ctx, id)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

const testClientKey = "client-key"

var testClient = auth.Client{Name: "tax-office", SenderID: uuid.MustParse("00000000-0000-0000-0000-0000000000aa")}

func testLookup(_ context.Context, key string) (auth.Client, error) {
	if key == testClientKey {
		return testClient, nil
	}
	return auth.Client{}, errors.New("unknown key")
}

// newTestRouter wires the given fakes; nil services are replaced by fakes
// that fail the test when called.
func newTestRouter(t *testing.T, d Deps) http.Handler {
	t.Helper()
	if d.Messages == nil {
		d.Messages = &fakeMessages{
			processFn: func(context.Context, message.NewMessage, message.Sender) (*message.Result, error) {
				t.Error("unexpected ProcessMessage call")
				return nil, errors.New("unexpected")
			},
		}
	}
	if d.Ready == nil {
		d.Ready = map[string]Pinger{"database": fakePinger{}}
	}
	if d.Authenticate == nil {
		d.Authenticate = testLookup
	}
	d.Log = zerolog.Nop()
	return NewRouter(d)
}

func doRequest(h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func clientAuth() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testClientKey}
}
