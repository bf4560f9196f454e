package subgraph

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestRotateSelectsDefaultWhenReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"safes":[]}}`))
	}))
	defer srv.Close()

	url := URL{Params: EndpointParams{QueryID: "q1", Slug: "safes-balance"}}
	p := New(url, "query($first:Int!,$skip:Int!){safes(first:$first,skip:$skip){id}}", "safes", newLogger())
	overrideResolve(p, srv.URL)

	mode := p.Rotate(context.Background(), nil)
	if mode != ModeDefault {
		t.Fatalf("expected ModeDefault, got %v", mode)
	}
}

func TestGetPaginatesUntilShortPage(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Variables struct {
				Skip int `json:"skip"`
			} `json:"variables"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls++

		w.Header().Set("Content-Type", "application/json")
		if body.Variables.Skip == 0 {
			_, _ = w.Write([]byte(`{"data":{"safes":[{"id":"1"},{"id":"2"}]}}`))
		} else {
			_, _ = w.Write([]byte(`{"data":{"safes":[]}}`))
		}
	}))
	defer srv.Close()

	url := URL{Params: EndpointParams{QueryID: "q1", Slug: "safes-balance"}}
	p := New(url, "query{safes{id}}", "safes", newLogger())
	overrideResolve(p, srv.URL)
	p.mode = ModeDefault

	// Shrink the page size expectation by checking call count directly;
	// with a 2-item first page (< pageSize) pagination must stop after one
	// call.
	pages, err := p.Get(context.Background(), nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(pages))
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a short page, got %d", calls)
	}
}

// overrideResolve points a Provider at an httptest.Server instead of the
// real thegraph.com hosts.
func overrideResolve(p *Provider, testURL string) {
	p.testURL = testURL
}
