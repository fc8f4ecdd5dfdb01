package signalwire

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/birddigital/aasb-telephony/pkg/telephony"
)

const testProject = "PX"

type apiRequest struct {
	method string
	path   string
	form   url.Values
}

// fakeAPI emulates the LaML REST endpoints used by the client.
type fakeAPI struct {
	mu       sync.Mutex
	requests []apiRequest
	status   string
	failAll  bool
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	f.mu.Lock()
	f.requests = append(f.requests, apiRequest{method: r.Method, path: r.URL.Path, form: r.PostForm})
	fail := f.failAll
	status := f.status
	f.mu.Unlock()

	if user, pass, ok := r.BasicAuth(); !ok || user != testProject || pass != "secret" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if fail {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	prefix := "/Accounts/" + testProject
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == prefix+".json":
		if status == "" {
			status = "active"
		}
		json.NewEncoder(w).Encode(map[string]string{"sid": testProject, "status": status})
	case r.URL.Path == prefix+"/Calls.json" && r.Method == http.MethodPost:
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"sid": "CA100", "status": "queued", "to": r.PostForm.Get("To")})
	case strings.HasPrefix(r.URL.Path, prefix+"/Calls/"):
		json.NewEncoder(w).Encode(map[string]string{"sid": strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix+"/Calls/"), ".json")})
	case r.URL.Path == prefix+"/Messages.json":
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"sid": "SM1", "status": "queued"})
	case r.URL.Path == prefix+"/IncomingPhoneNumbers.json":
		json.NewEncoder(w).Encode(map[string]interface{}{
			"incoming_phone_numbers": []map[string]interface{}{
				{"sid": "PN1", "phone_number": "+15550000001", "friendly_name": "main", "capabilities": map[string]bool{"voice": true, "sms": true}},
				{"sid": "PN2", "phone_number": "+15550000002", "friendly_name": "sms only", "capabilities": map[string]bool{"sms": true}},
				{"sid": "PN3", "phone_number": "+15550000003", "friendly_name": "backup", "capabilities": map[string]bool{"voice": true}},
			},
		})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) last() apiRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return apiRequest{}
	}
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return NewClient(testProject, "secret", "example.signalwire.com").WithBaseURL(srv.URL), api
}

type recordedEvent struct {
	kind  string
	sid   string
	cause telephony.DisconnectCause
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) add(e recordedEvent) {
	f.mu.Lock()
	f.events = append(f.events, e)
	f.mu.Unlock()
}

func (f *fakeEvents) OnCallAdded(ctx context.Context, call telephony.Call) {
	f.add(recordedEvent{kind: "added", sid: call.Handle()})
}

func (f *fakeEvents) OnCallRemoved(ctx context.Context, call telephony.Call) {
	f.add(recordedEvent{kind: "removed", sid: call.Handle()})
}

func (f *fakeEvents) OnCallFailed(ctx context.Context, call telephony.Call, cause telephony.DisconnectCause) {
	f.add(recordedEvent{kind: "failed", sid: call.Handle(), cause: cause})
}

func (f *fakeEvents) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.kind
	}
	return out
}

type stateRecorder struct {
	mu     sync.Mutex
	states []telephony.PlatformState
}

func (s *stateRecorder) OnStateChanged(ctx context.Context, call telephony.Call, state telephony.PlatformState) {
	s.mu.Lock()
	s.states = append(s.states, state)
	s.mu.Unlock()
}

type fakeRecorder struct {
	mu       sync.Mutex
	recorded []string
	ended    map[string]string
}

func (r *fakeRecorder) RecordCall(ctx context.Context, sid, direction, number string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, sid+":"+direction+":"+number)
	return nil
}

func (r *fakeRecorder) MarkEnded(ctx context.Context, sid, outcome string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended == nil {
		r.ended = make(map[string]string)
	}
	r.ended[sid] = outcome
	return nil
}
