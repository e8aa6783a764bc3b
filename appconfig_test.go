package appconfig_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	appconfig "github.com/velum-io/appconfig-go"
	"github.com/velum-io/appconfig-go/internal/devserver"
	"github.com/velum-io/appconfig-go/internal/store"
	"github.com/velum-io/appconfig-go/internal/testutil"
)

func startDevServer(t *testing.T, src store.Source, apiKey string) (*devserver.Server, *httptest.Server) {
	t.Helper()
	s, err := devserver.New(devserver.Config{
		Source: src,
		GUID:   "test-instance",
		APIKey: apiKey,
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("devserver.New: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func clientConfig(srv *httptest.Server, apiKey string) appconfig.Config {
	return appconfig.Config{
		APIKey:           apiKey,
		ServiceURL:       srv.URL,
		IdentityURL:      srv.URL,
		GUID:             "test-instance",
		EnvironmentID:    "dev",
		CollectionID:     "default",
		HTTPClient:       srv.Client(),
		MeteringInterval: -1,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestClientEndToEnd(t *testing.T) {
	s, srv := startDevServer(t, store.NewMemStore(testutil.SampleDocument()), "sekret")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := clientConfig(srv, "sekret")
	cfg.MeteringInterval = 50 * time.Millisecond

	client, err := appconfig.NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	feature, err := client.Feature("dark-mode")
	if err != nil {
		t.Fatalf("Feature: %v", err)
	}
	on, err := feature.IsEnabled(appconfig.Entity{ID: "u1"})
	if err != nil {
		t.Fatalf("IsEnabled: %v", err)
	}
	if !on {
		t.Fatal("u1 should be inside the 50% rollout")
	}
	value, err := feature.Evaluate(appconfig.Entity{ID: "u2", Attributes: map[string]any{"plan": "beta"}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if value != true {
		t.Fatalf("value = %v, want true", value)
	}

	prop, err := client.Property("request-limit")
	if err != nil {
		t.Fatalf("Property: %v", err)
	}
	limit, err := prop.Evaluate(appconfig.Entity{ID: "carol", Attributes: map[string]any{"spend": 1500}})
	if err != nil {
		t.Fatalf("Evaluate property: %v", err)
	}
	if limit != 100.0 {
		t.Fatalf("limit = %v, want 100", limit)
	}

	ids, err := client.FeatureIDs()
	if err != nil {
		t.Fatalf("FeatureIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("FeatureIDs = %v, want two entries", ids)
	}

	waitFor(t, 5*time.Second, client.IsOnline)
	if got := client.State(); got != "online" {
		t.Fatalf("State = %q, want online", got)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := client.State(); got != "stopped" {
		t.Fatalf("State after Close = %q, want stopped", got)
	}

	// Close flushed the recorded usage to the service.
	type usage struct {
		FeatureID  string `json:"feature_id"`
		PropertyID string `json:"property_id"`
		EntityType string `json:"entity_type"`
		SegmentID  string `json:"segment_id"`
		Count      int64  `json:"count"`
	}
	counts := map[string]int64{}
	segments := map[string]bool{}
	for _, raw := range s.UsageBatches() {
		var batch struct {
			CollectionID  string  `json:"collection_id"`
			EnvironmentID string  `json:"environment_id"`
			Usages        []usage `json:"usages"`
		}
		if err := json.Unmarshal(raw, &batch); err != nil {
			t.Fatalf("unmarshal usage batch: %v", err)
		}
		if batch.CollectionID != "default" || batch.EnvironmentID != "dev" {
			t.Fatalf("batch coordinates = %s/%s", batch.CollectionID, batch.EnvironmentID)
		}
		for _, u := range batch.Usages {
			counts[u.FeatureID+u.PropertyID] += u.Count
			segments[u.SegmentID] = true
		}
	}
	if counts["dark-mode"] != 2 {
		t.Fatalf("dark-mode usage = %d, want 2", counts["dark-mode"])
	}
	if counts["request-limit"] != 1 {
		t.Fatalf("request-limit usage = %d, want 1", counts["request-limit"])
	}
	if !segments["default"] || !segments["beta-users"] || !segments["big-spenders"] {
		t.Fatalf("segments = %v, want default, beta-users and big-spenders", segments)
	}

	// Evaluation against the last snapshot keeps working after Close.
	if _, err := feature.IsEnabled(appconfig.Entity{ID: "u1"}); err != nil {
		t.Fatalf("IsEnabled after Close: %v", err)
	}
}

func TestClientOnConfigurationUpdate(t *testing.T) {
	src := store.NewMemStore(testutil.SampleDocument())
	s, srv := startDevServer(t, src, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := appconfig.NewClient(ctx, clientConfig(srv, "unused"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	waitFor(t, 5*time.Second, client.IsOnline)

	updated := make(chan struct{}, 1)
	stop := client.OnConfigurationUpdate(func() {
		select {
		case updated <- struct{}{}:
		default:
		}
	})
	defer stop()

	newDoc := bytes.Replace(testutil.SampleDocument(), []byte(`"value": "light"`), []byte(`"value": "dark"`), 1)
	if bytes.Equal(newDoc, testutil.SampleDocument()) {
		t.Fatal("fixture does not contain the theme value")
	}
	if err := src.Save(newDoc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	changed, err := s.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !changed {
		t.Fatal("Reload did not pick up the new document")
	}
	s.Notify()

	select {
	case <-updated:
	case <-time.After(5 * time.Second):
		t.Fatal("no update callback after notification")
	}

	prop, err := client.Property("theme")
	if err != nil {
		t.Fatalf("Property: %v", err)
	}
	value, err := prop.Evaluate(appconfig.Entity{ID: "u1"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if value != "dark" {
		t.Fatalf("theme = %v, want dark", value)
	}
}

func TestClientNonBlocking(t *testing.T) {
	client, err := appconfig.NewClient(context.Background(), appconfig.Config{
		APIKey:           "key",
		ServiceURL:       "http://127.0.0.1:1",
		IdentityURL:      "http://127.0.0.1:1",
		GUID:             "test-instance",
		EnvironmentID:    "dev",
		CollectionID:     "default",
		NonBlocking:      true,
		MeteringInterval: -1,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if _, err := client.Feature("dark-mode"); !errors.Is(err, appconfig.ErrNotReady) {
		t.Fatalf("Feature err = %v, want ErrNotReady", err)
	}
	if _, err := client.FeatureIDs(); !errors.Is(err, appconfig.ErrNotReady) {
		t.Fatalf("FeatureIDs err = %v, want ErrNotReady", err)
	}

	select {
	case <-client.Ready():
		t.Fatal("Ready closed with an unreachable service")
	default:
	}
}

func TestClientBlockingHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := appconfig.NewClient(ctx, appconfig.Config{
		APIKey:           "key",
		ServiceURL:       "http://127.0.0.1:1",
		IdentityURL:      "http://127.0.0.1:1",
		GUID:             "test-instance",
		EnvironmentID:    "dev",
		CollectionID:     "default",
		MeteringInterval: -1,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestClientBootstrapFallback(t *testing.T) {
	// The identity endpoint answers, the configuration endpoint does not.
	_, idSrv := startDevServer(t, store.NewMemStore(testutil.SampleDocument()), "")

	path := filepath.Join(t.TempDir(), "bootstrap.json")
	if err := os.WriteFile(path, testutil.SampleDocument(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := appconfig.NewClient(ctx, appconfig.Config{
		APIKey:           "any",
		ServiceURL:       "http://127.0.0.1:1",
		IdentityURL:      idSrv.URL,
		GUID:             "test-instance",
		EnvironmentID:    "dev",
		CollectionID:     "default",
		Fallback:         appconfig.FallbackBootstrap,
		BootstrapPath:    path,
		MeteringInterval: -1,
		HTTPClient:       idSrv.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if client.IsOnline() {
		t.Fatal("IsOnline = true while serving the bootstrap document")
	}
	waitFor(t, 5*time.Second, func() bool { return client.State() == "degraded" })

	feature, err := client.Feature("dark-mode")
	if err != nil {
		t.Fatalf("Feature: %v", err)
	}
	on, err := feature.IsEnabled(appconfig.Entity{ID: "u1"})
	if err != nil {
		t.Fatalf("IsEnabled: %v", err)
	}
	if !on {
		t.Fatal("bootstrap document should enable dark-mode for u1")
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := appconfig.NewClient(context.Background(), appconfig.Config{})
	var ve appconfig.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if ve.Field != "APIKey" {
		t.Fatalf("Field = %q, want APIKey", ve.Field)
	}
}
