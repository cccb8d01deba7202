package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/okian/evalsync/internal/adapters/localstore"
	"github.com/okian/evalsync/internal/adapters/remote"
	service "github.com/okian/evalsync/internal/app"
	"github.com/okian/evalsync/internal/domain/identity"
	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

const coll = "evaluations"

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	svc         *service.Service
	remoteStore *remote.MemoryStore
	localStore  *localstore.MemoryStore
	clock       *clock
}

func newHarness(opts ...service.Option) *harness {
	h := &harness{
		remoteStore: remote.NewMemoryStore(),
		localStore:  localstore.NewMemoryStore(),
		clock:       &clock{t: time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)},
	}
	gw := remote.NewGateway(h.remoteStore, remote.WithCollection(coll), remote.WithProbeTimeout(time.Second))
	local := localstore.New(h.localStore, localstore.WithClock(h.clock.Now))
	base := []service.Option{
		service.WithClock(h.clock.Now),
		service.WithProbeInterval(0),
		service.WithRefreshInterval(0),
		service.WithAutoSync(false),
	}
	svc, err := service.New(gw, local, append(base, opts...)...)
	So(err, ShouldBeNil)
	h.svc = svc
	return h
}

func doc(name, date, created, updated string, responses map[string]any) map[string]any {
	d := map[string]any{
		"patientInfo":   map[string]any{"name": name, "evaluationDate": date},
		"evaluatorInfo": map[string]any{"name": "Dra. Paula"},
		"responses":     responses,
	}
	if created != "" {
		d["createdAt"] = created
	}
	if updated != "" {
		d["updatedAt"] = updated
	}
	return d
}

func (h *harness) putRemote(id string, d map[string]any) {
	So(h.remoteStore.Put(coll, id, d), ShouldBeNil)
}

func (h *harness) putLocal(key string, v any) {
	raw, err := json.Marshal(v)
	So(err, ShouldBeNil)
	So(h.localStore.Set(context.Background(), key, raw), ShouldBeNil)
}

func canonicalID(d map[string]any) string {
	raw, err := json.Marshal(d)
	So(err, ShouldBeNil)
	rec, err := model.Parse(raw)
	So(err, ShouldBeNil)
	return identity.New().CanonicalID(rec)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
