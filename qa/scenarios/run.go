package scenarios

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/roamgate/app"
	"github.com/kilianp07/roamgate/config"
	"github.com/kilianp07/roamgate/core/commandlog"
	"github.com/kilianp07/roamgate/core/station"
)

type ocpiReply struct {
	Data struct {
		Result string `json:"result"`
	} `json:"data"`
}

func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	var callbacks atomic.Int32
	partner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		callbacks.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer partner.Close()

	factory := station.NewMockFactory()
	clients := map[string]*station.MockClient{}
	for _, id := range sc.Online {
		c := factory.Online(id)
		c.Result = sc.Results[id]
		clients[id] = c
	}

	svc, err := app.New(context.Background(), scenarioConfig(t, sc), app.WithClientFactory(factory))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	defer svc.Close() //nolint:errcheck
	handler := svc.OCPIHandler()

	token := ""
	if len(sc.Dataset.Endpoints) > 0 {
		token = sc.Dataset.Endpoints[0].LocalToken
	}
	for i, step := range sc.Steps {
		rec := send(t, handler, sc.Dataset.Tenant.ID, token, partner.URL, step)
		want := step.Status
		if want == 0 {
			want = http.StatusOK
		}
		if rec.Code != want {
			t.Errorf("step %d %s: status %d, want %d: %s", i, step.Command, rec.Code, want, rec.Body.String())
			continue
		}
		if step.Expect == "" {
			continue
		}
		var reply ocpiReply
		if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
			t.Fatalf("step %d: decode reply: %v", i, err)
		}
		if reply.Data.Result != step.Expect {
			t.Errorf("step %d %s: result %s, want %s", i, step.Command, reply.Data.Result, step.Expect)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for int(callbacks.Load()) < sc.Expected.Callbacks && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := int(callbacks.Load()); got != sc.Expected.Callbacks {
		t.Errorf("callbacks: got %d, want %d", got, sc.Expected.Callbacks)
	}
	starts, stops := 0, 0
	for _, c := range clients {
		starts += len(c.Starts())
		stops += len(c.Stops())
	}
	if starts != sc.Expected.Starts || stops != sc.Expected.Stops {
		t.Errorf("device calls: %d starts %d stops, want %d and %d", starts, stops, sc.Expected.Starts, sc.Expected.Stops)
	}
	if len(sc.Expected.Logged) > 0 {
		checkLog(t, svc.CommandLog(), sc)
	}
}

func checkLog(t *testing.T, logs commandlog.Store, sc *Scenario) {
	t.Helper()
	want := 0
	for _, n := range sc.Expected.Logged {
		want += n
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		recs, err := logs.Query(context.Background(), commandlog.Query{TenantID: sc.Dataset.Tenant.ID})
		if err != nil {
			t.Fatalf("query log: %v", err)
		}
		if len(recs) >= want || time.Now().After(deadline) {
			got := map[string]int{}
			for _, r := range recs {
				got[string(r.Result)]++
			}
			for result, n := range sc.Expected.Logged {
				if got[result] != n {
					t.Errorf("logged %s: got %d, want %d", result, got[result], n)
				}
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func send(t *testing.T, h http.Handler, tenantID, token, callbackURL string, step Step) *httptest.ResponseRecorder {
	t.Helper()
	body := map[string]any{}
	for k, v := range step.Body {
		body[k] = v
	}
	body["response_url"] = callbackURL
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encode body: %v", err)
	}
	if step.Token != "" {
		token = step.Token
	}
	url := fmt.Sprintf("/ocpi/%s/cpo/2.1.1/commands/%s", tenantID, step.Command)
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	req.Header.Set("Authorization", "Token "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func scenarioConfig(t *testing.T, sc *Scenario) *config.Config {
	t.Helper()
	data, err := yaml.Marshal(sc.Dataset)
	if err != nil {
		t.Fatalf("encode dataset: %v", err)
	}
	path := filepath.Join(t.TempDir(), "dataset.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	cfg := &config.Config{
		Store:      config.StoreConfig{Backend: "memory", Fixtures: path},
		CommandLog: config.CommandLogConfig{Backend: "memory"},
	}
	cfg.SetDefaults()
	return cfg
}
