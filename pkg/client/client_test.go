package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/skyporthq/skyport/internal/config"
	"github.com/skyporthq/skyport/internal/credentials"
	skyhttp "github.com/skyporthq/skyport/internal/http"
	"github.com/skyporthq/skyport/internal/lifecycle"
	"github.com/skyporthq/skyport/internal/monitoring"
	"github.com/skyporthq/skyport/internal/provider"
	"github.com/skyporthq/skyport/internal/provider/aws"
	"github.com/skyporthq/skyport/internal/provider/azure"
	"github.com/skyporthq/skyport/internal/provider/gcp"
	"github.com/skyporthq/skyport/internal/remote"
	"github.com/skyporthq/skyport/internal/security"
	"github.com/skyporthq/skyport/internal/store"
	"github.com/skyporthq/skyport/pkg/types"
)

// startAPI wires the whole service against a stubbed dispatch backend and
// returns its base URL.
func startAPI(t *testing.T) string {
	t.Helper()

	dispatch := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := r.URL.Path[len("/api/v1/dispatch/"):]
		var payload any
		switch op {
		case "test-connection":
			payload = map[string]any{}
		case "provision":
			payload = map[string]any{"instanceId": "i-42"}
		case "fetch-metrics":
			payload = map[string]any{"metricDataResults": []any{}}
		case "fetch-cost-data":
			payload = map[string]any{"resultsByTime": []any{}}
		case "fetch-optimizations":
			payload = map[string]any{}
		case "discover-resources":
			payload = map[string]any{
				"reservations": []any{map[string]any{
					"instances": []any{map[string]any{
						"instanceId":   "i-disc",
						"instanceType": "t3.micro",
						"state":        map[string]any{"name": "running"},
						"placement":    map[string]any{"availabilityZone": "us-east-1a"},
						"tags":         []any{map[string]any{"key": "Name", "value": "discovered-web"}},
					}},
				}},
			}
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		raw, _ := json.Marshal(payload)
		_ = json.NewEncoder(w).Encode(remote.Envelope{Success: true, Data: raw})
	}))
	t.Cleanup(dispatch.Close)

	mem := store.NewMemory()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	rec := store.NewReconciler(mem, store.NewCache(rdb, time.Hour), zap.NewNop(), time.Second)

	rc := remote.New(dispatch.URL, time.Second, 0)
	awsP, err := aws.NewProvider(rc, zap.NewNop())
	if err != nil {
		t.Fatalf("aws provider: %v", err)
	}
	azureP, err := azure.NewProvider(rc, zap.NewNop())
	if err != nil {
		t.Fatalf("azure provider: %v", err)
	}
	gcpP, err := gcp.NewProvider(rc, zap.NewNop())
	if err != nil {
		t.Fatalf("gcp provider: %v", err)
	}
	registry := provider.NewRegistry(awsP, azureP, gcpP)

	lm := lifecycle.NewManager(mem, zap.NewNop(), 10*time.Millisecond)
	t.Cleanup(lm.Close)

	key := []byte("0123456789abcdef0123456789abcdef")
	credsSource := func(ctx context.Context, accountID string) (*types.Account, credentials.Bundle, error) {
		a, err := rec.Get(ctx, accountID)
		if err != nil {
			return nil, nil, err
		}
		enc, err := rec.Credentials(ctx, accountID)
		if err != nil {
			return nil, nil, err
		}
		raw, err := security.Decrypt(key, enc, []byte(accountID))
		if err != nil {
			return nil, nil, err
		}
		var b credentials.Bundle
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, nil, err
		}
		return a, b, nil
	}
	engine := monitoring.NewEngine(registry, mem, credsSource, zap.NewNop())

	cfg := &config.Config{}
	cfg.Auth.EncryptionKey = string(key)
	srv := skyhttp.NewServer(cfg, skyhttp.Deps{
		Store:      mem,
		Reconciler: rec,
		Registry:   registry,
		Lifecycle:  lm,
		Engine:     engine,
	})
	api := httptest.NewServer(srv.Router())
	t.Cleanup(api.Close)
	return api.URL
}

func TestClientAccountResourceFlow(t *testing.T) {
	c := New(startAPI(t), "")
	ctx := context.Background()

	connected, err := c.Connect(ctx, ConnectAccount{
		Name:     "prod",
		Provider: types.ProviderAWS,
		Credentials: map[string]string{
			"accessKeyId":     "AKIA",
			"secretAccessKey": "secret",
			"region":          "us-east-1",
		},
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if connected.Account.Status != types.AccountConnected {
		t.Fatalf("status = %s", connected.Account.Status)
	}

	list, err := c.ListAccounts(ctx)
	if err != nil || len(list.Accounts) != 1 {
		t.Fatalf("list accounts: %v %d", err, len(list.Accounts))
	}

	res, err := c.Provision(ctx, connected.Account.ID, ProvisionRequest{Type: "ec2", Name: "web-1"})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if res.ProviderID != "i-42" || res.Status != types.ResourceProvisioning {
		t.Fatalf("unexpected resource: %+v", res)
	}

	// start is invalid while the resource is still provisioning
	if _, err := c.StartResource(ctx, res.ID); err == nil {
		t.Fatalf("start during provisioning should fail")
	}

	metrics, err := c.Metrics(ctx, res.ID, []string{"cpu"}, 1)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if !metrics.Degraded || len(metrics.Metrics) != 1 || !metrics.Metrics[0].Synthetic {
		t.Fatalf("expected synthetic fallback series: %+v", metrics)
	}

	if _, err := c.DeleteResource(ctx, res.ID); err != nil {
		t.Fatalf("delete resource: %v", err)
	}

	// sync pulls the provider's view of the account into the store
	if _, err := c.SyncAccount(ctx, connected.Account.ID); err != nil {
		t.Fatalf("sync: %v", err)
	}
	resources, err := c.ListResources(ctx, connected.Account.ID)
	if err != nil {
		t.Fatalf("list resources: %v", err)
	}
	var discovered *types.Resource
	for i := range resources {
		if resources[i].ProviderID == "i-disc" {
			discovered = &resources[i]
		}
	}
	if discovered == nil {
		t.Fatalf("sync did not persist the discovered resource: %+v", resources)
	}
	if discovered.Name != "discovered-web" || discovered.Status != types.ResourceRunning || discovered.Region != "us-east-1" {
		t.Fatalf("unexpected discovered resource: %+v", discovered)
	}

	result, err := c.DeleteAccount(ctx, connected.Account.ID)
	if err != nil || !result.Success {
		t.Fatalf("delete account: %v %+v", err, result)
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	c := New(startAPI(t), "")
	if _, err := c.GetAccount(context.Background(), types.NewID()); err == nil {
		t.Fatalf("expected not-found error")
	}
}
