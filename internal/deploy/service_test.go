package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneplace-ai/toolbox-provisioner/pkg/proxyconf"
	"github.com/oneplace-ai/toolbox-provisioner/pkg/toolsconfig"
)

type fakeStore struct {
	servers map[string]Server
	rows    map[string][]toolsconfig.JoinedRow
}

func (f *fakeStore) Server(_ context.Context, id string) (Server, error) {
	s, ok := f.servers[id]
	if !ok {
		return Server{}, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	return s, nil
}

func (f *fakeStore) ToolRows(_ context.Context, id string) ([]toolsconfig.JoinedRow, error) {
	return f.rows[id], nil
}

type fakeRuntime struct {
	mu      sync.Mutex
	n       int
	running map[string]RunSpec
	stopped []string
	runErr  error
}

func (f *fakeRuntime) Run(_ context.Context, spec RunSpec) (Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return Container{}, f.runErr
	}
	f.n++
	id := fmt.Sprintf("%064x", f.n)
	if f.running == nil {
		f.running = map[string]RunSpec{}
	}
	f.running[id] = spec
	return Container{ID: id, Name: fmt.Sprintf("toolbox_%08x", f.n)}, nil
}

func (f *fakeRuntime) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, id)
	f.stopped = append(f.stopped, id)
	return nil
}

type fakeRouter struct {
	mu      sync.Mutex
	routes  map[string]int
	addErr  error
	removed []string
}

func (f *fakeRouter) AddRoute(_ context.Context, port int, hostname string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil && !errors.Is(f.addErr, proxyconf.ErrReloadFailed) {
		return f.addErr
	}
	if f.routes == nil {
		f.routes = map[string]int{}
	}
	f.routes[hostname] = port
	return f.addErr
}

func (f *fakeRouter) RemoveRoute(_ context.Context, hostname string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.routes[hostname]
	delete(f.routes, hostname)
	f.removed = append(f.removed, hostname)
	return ok, nil
}

func strp(s string) *string { return &s }

func testRows() []toolsconfig.JoinedRow {
	return []toolsconfig.JoinedRow{{
		ServerID:        "srv-1",
		ToolsetID:       "ts-1",
		ToolsetName:     "Core",
		ToolID:          "t-1",
		ToolName:        "Get User",
		ToolDescription: "fetch a user",
		DatasourceID:    strp("d1"),
		ConnectionID:    strp("c1"),
		ConnectionName:  strp("Prod DB"),
		ConnectionParams: map[string]any{
			"host": "db.internal", "database": "app", "username": "svc", "password": "pw",
		},
		Kind:     "postgres",
		SQLQuery: "SELECT 1",
	}}
}

type harness struct {
	svc     *Service
	runtime *fakeRuntime
	router  *fakeRouter
	root    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{runtime: &fakeRuntime{}, router: &fakeRouter{}, root: t.TempDir()}
	store := &fakeStore{
		servers: map[string]Server{
			"srv-1":   {ID: "srv-1", URL: "https://Tenant-A.example.com/mcp", Port: 8102},
			"no-port": {ID: "no-port", URL: "https://b.example.com"},
			"bad-url": {ID: "bad-url", URL: "https://", Port: 8103},
		},
		rows: map[string][]toolsconfig.JoinedRow{"srv-1": testRows()},
	}
	svc, err := NewService(Options{
		Store:       store,
		Runtime:     h.runtime,
		Router:      h.router,
		Image:       "toolbox-worker:latest",
		WorkdirRoot: h.root,
		PublicHost:  "toolbox.example.com",
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func TestService_Deploy(t *testing.T) {
	h := newHarness(t)
	hooks := []Hook{{Name: "pre/check.py", Data: []byte("print('hi')\n")}}

	d, err := h.svc.Deploy(context.Background(), "srv-1", hooks)
	require.NoError(t, err)

	assert.Equal(t, "tenant-a.example.com", d.Hostname)
	assert.Equal(t, 8102, d.HostPort)
	assert.Equal(t, RouteActive, d.RouteStatus)
	assert.Equal(t, 8102, h.router.routes["tenant-a.example.com"])
	assert.Equal(t, "http://toolbox.example.com:8102/health", h.svc.StatusURL(d))
	assert.Len(t, d.ShortID(), 12)

	spec := h.runtime.running[d.ContainerID]
	assert.Equal(t, DefaultContainerPort, spec.ContainerPort)
	assert.Equal(t, 8102, spec.HostPort)
	require.Len(t, spec.Mounts, 2)
	assert.Equal(t, "/plugins", spec.Mounts[0].Target)
	assert.Equal(t, "/app/tools.yaml", spec.Mounts[1].Target)
	for _, m := range spec.Mounts {
		assert.True(t, m.ReadOnly)
		assert.True(t, filepath.IsAbs(m.Source), m.Source)
	}

	tools, err := os.ReadFile(filepath.Join(d.Workdir, "tools.yaml"))
	require.NoError(t, err)
	assert.NoError(t, toolsconfig.ValidateDocument(tools))
	assert.Contains(t, string(tools), "get-user:")

	hook, err := os.ReadFile(filepath.Join(d.Workdir, "plugins", "pre", "check.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(hook))

	got, err := h.svc.Registry().Get(d.ShortID())
	require.NoError(t, err)
	assert.Equal(t, d.ContainerID, got.ContainerID)
}

func TestService_DeployErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Deploy(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrServerNotFound)

	_, err = h.svc.Deploy(ctx, "no-port", nil)
	assert.ErrorIs(t, err, ErrInvalidServer)

	_, err = h.svc.Deploy(ctx, "bad-url", nil)
	assert.ErrorIs(t, err, ErrInvalidServer)

	_, err = h.svc.Deploy(ctx, "srv-1", []Hook{{Name: "evil.sh", Data: []byte("x")}})
	assert.ErrorIs(t, err, ErrInvalidUpload)

	assert.Zero(t, h.svc.Registry().Len())
	assertNoWorkdirs(t, h.root)
}

func TestService_DeployMalformedConnection(t *testing.T) {
	h := newHarness(t)
	store := h.svc.opts.Store.(*fakeStore)
	rows := testRows()
	rows[0].ConnectionParams = map[string]any{"host": "h"}
	store.rows["srv-1"] = rows

	_, err := h.svc.Deploy(context.Background(), "srv-1", nil)
	assert.ErrorIs(t, err, toolsconfig.ErrMalformedConnection)
	assert.Empty(t, h.runtime.running)
}

func TestService_DeployRouteFailureTearsDown(t *testing.T) {
	h := newHarness(t)
	h.router.addErr = &proxyconf.CommandError{Step: proxyconf.ErrInvalidProxyConfig, Command: []string{"nginx", "-t"}, Err: errors.New("exit status 1")}

	_, err := h.svc.Deploy(context.Background(), "srv-1", nil)
	require.ErrorIs(t, err, proxyconf.ErrInvalidProxyConfig)
	assert.Empty(t, h.runtime.running)
	assert.Len(t, h.runtime.stopped, 1)
	assert.Zero(t, h.svc.Registry().Len())
	assertNoWorkdirs(t, h.root)
}

func TestService_DeployReloadFailureKeepsDeployment(t *testing.T) {
	h := newHarness(t)
	h.router.addErr = &proxyconf.CommandError{Step: proxyconf.ErrReloadFailed, Command: []string{"systemctl", "reload", "nginx"}, Err: errors.New("exit status 1")}

	d, err := h.svc.Deploy(context.Background(), "srv-1", nil)
	require.NoError(t, err)
	assert.Equal(t, RouteReloadPending, d.RouteStatus)
	assert.Len(t, h.runtime.running, 1)
	assert.Equal(t, 1, h.svc.Registry().Len())
}

func TestService_DeployRunFailureRemovesWorkdir(t *testing.T) {
	h := newHarness(t)
	h.runtime.runErr = errors.New("image not found")

	_, err := h.svc.Deploy(context.Background(), "srv-1", nil)
	require.Error(t, err)
	assert.Empty(t, h.router.routes)
	assertNoWorkdirs(t, h.root)
}

func TestService_PortInUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Deploy(ctx, "srv-1", nil)
	require.NoError(t, err)
	_, err = h.svc.Deploy(ctx, "srv-1", nil)
	assert.ErrorIs(t, err, ErrPortInUse)
}

func TestService_DeployUpload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc, err := (&toolsconfig.Compiler{}).Render(testRows())
	require.NoError(t, err)

	d, err := h.svc.DeployUpload(ctx, UploadRequest{ToolsYAML: doc, Port: 8200})
	require.NoError(t, err)
	assert.Equal(t, RouteNone, d.RouteStatus)
	assert.Empty(t, h.router.routes)

	d, err = h.svc.DeployUpload(ctx, UploadRequest{ToolsYAML: doc, Port: 8201, Hostname: "up.example.com"})
	require.NoError(t, err)
	assert.Equal(t, RouteActive, d.RouteStatus)

	_, err = h.svc.DeployUpload(ctx, UploadRequest{ToolsYAML: []byte("- not a mapping\n"), Port: 8202})
	assert.ErrorIs(t, err, ErrInvalidUpload)

	_, err = h.svc.DeployUpload(ctx, UploadRequest{ToolsYAML: doc, Port: 0})
	assert.ErrorIs(t, err, ErrInvalidUpload)

	_, err = h.svc.DeployUpload(ctx, UploadRequest{ToolsYAML: doc, Port: 8203, Hostname: "bad host"})
	assert.ErrorIs(t, err, proxyconf.ErrInvalidRoute)
}

func TestService_StopAndRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d, err := h.svc.Deploy(ctx, "srv-1", nil)
	require.NoError(t, err)

	oldID, next, err := h.svc.Restart(ctx, d.ShortID())
	require.NoError(t, err)
	assert.Equal(t, d.ContainerID, oldID)
	assert.NotEqual(t, d.ContainerID, next.ContainerID)
	assert.Equal(t, d.HostPort, next.HostPort)
	assert.Equal(t, d.Mounts, next.Mounts)
	assert.Equal(t, d.Workdir, next.Workdir)

	_, err = h.svc.Registry().Get(d.ContainerID)
	assert.ErrorIs(t, err, ErrDeploymentNotFound)

	stopped, err := h.svc.Stop(ctx, next.ContainerID)
	require.NoError(t, err)
	assert.Equal(t, next.ContainerID, stopped.ContainerID)
	assert.Equal(t, []string{"tenant-a.example.com"}, h.router.removed)
	assert.Empty(t, h.runtime.running)
	assert.Zero(t, h.svc.Registry().Len())
	_, statErr := os.Stat(d.Workdir)
	assert.True(t, os.IsNotExist(statErr))

	_, err = h.svc.Stop(ctx, next.ContainerID)
	assert.ErrorIs(t, err, ErrDeploymentNotFound)
}

func TestService_Preview(t *testing.T) {
	h := newHarness(t)
	out, err := h.svc.Preview(context.Background(), "srv-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "sources:"))

	_, err = h.svc.Preview(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Put(&Deployment{ContainerID: "aaaaaaaaaaaa1111", CreatedAt: now})
	r.Put(&Deployment{ContainerID: "aaaaaaaaaaaa2222", CreatedAt: now.Add(time.Second)})
	r.Put(&Deployment{ContainerID: "bbbbbbbbbbbb3333", CreatedAt: now.Add(-time.Second)})

	_, err := r.Get("aaaaaaaaaaaa")
	assert.ErrorIs(t, err, ErrDeploymentNotFound, "ambiguous prefix")
	_, err = r.Get("bbbb")
	assert.ErrorIs(t, err, ErrDeploymentNotFound, "short prefix")

	d, err := r.Get("bbbbbbbbbbbb")
	require.NoError(t, err)
	assert.Equal(t, "bbbbbbbbbbbb3333", d.ContainerID)

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "bbbbbbbbbbbb3333", list[0].ContainerID)
	assert.Equal(t, "aaaaaaaaaaaa2222", list[2].ContainerID)
}

func TestCleanHookName(t *testing.T) {
	ok := map[string]string{
		"hook.py":          "hook.py",
		"a/b/HOOK.PY":      "a/b/HOOK.PY",
		"a\\b.py":          "a/b.py",
		"./x/../y.py":      "",
		"./nested/./z.py":  "nested/z.py",
	}
	for in, want := range ok {
		got, err := cleanHookName(in)
		if want == "" {
			assert.ErrorIs(t, err, ErrInvalidUpload, in)
			continue
		}
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"", "run.sh", "/etc/evil.py", "../up.py", "a/../../up.py", ".py/"} {
		_, err := cleanHookName(bad)
		assert.ErrorIs(t, err, ErrInvalidUpload, bad)
	}
}

func TestHostnameFromURL(t *testing.T) {
	cases := map[string]string{
		"https://Tenant-A.example.com/mcp": "tenant-a.example.com",
		"http://a.example.com:8080":        "a.example.com",
		"a.example.com:443/path":           "a.example.com",
		"a.example.com.":                   "a.example.com",
		"  ":                               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, HostnameFromURL(in), in)
	}
}

func assertNoWorkdirs(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
