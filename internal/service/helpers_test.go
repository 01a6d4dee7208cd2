package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/qasim313/Unbrandit/internal/client"
	"github.com/qasim313/Unbrandit/internal/model"
	"github.com/qasim313/Unbrandit/internal/repository"
	"github.com/stretchr/testify/require"
)

const (
	blobBase  = "https://blob.test/bucket"
	publicAPI = "https://api.test"
	owner     = "user-1"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	ids   []string
	err   error
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	var taskID string
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			taskID = o.Value().(string)
		}
	}
	q.tasks = append(q.tasks, task)
	q.ids = append(q.ids, taskID)
	return &asynq.TaskInfo{ID: taskID}, nil
}

func (q *fakeQueue) setErr(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.err = err
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *fakeQueue) lastJob(t *testing.T) model.BuildJobPayload {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	require.NotEmpty(t, q.tasks)
	last := q.tasks[len(q.tasks)-1]
	require.Equal(t, TaskTypeBuildDispatch, last.Type())
	var job model.BuildJobPayload
	require.NoError(t, json.Unmarshal(last.Payload(), &job))
	return job
}

type published struct {
	kind, id string
	msg      model.WSUpdateMessage
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(kind, id string, msg any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{kind: kind, id: id, msg: msg.(model.WSUpdateMessage)})
}

func (p *fakePublisher) forID(id string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.msgs {
		if m.id == id {
			out = append(out, m)
		}
	}
	return out
}

type testEnv struct {
	store    *repository.MemoryStore
	storage  *client.MemoryStorage
	resolver *BlobResolver
	queue    *fakeQueue
	pub      *fakePublisher
	sm       *StateMachine
	builds   *BuildService
	flavors  *FlavorService
	projects *ProjectService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		store:   repository.NewMemoryStore(),
		storage: client.NewMemoryStorage(blobBase),
		queue:   &fakeQueue{},
		pub:     &fakePublisher{},
	}
	e.resolver = NewBlobResolver(e.storage, "test-secret", publicAPI)
	e.sm = NewStateMachine(e.store, e.resolver, NewStatusNotifier(e.pub, e.resolver))
	e.builds = NewBuildService(e.store, e.queue, e.resolver, e.sm, 45*time.Minute)
	e.flavors = NewFlavorService(e.store, e.resolver)
	e.projects = NewProjectService(e.store, e.queue, e.resolver, e.sm, 45*time.Minute)
	return e
}

func (e *testEnv) seedProject(t *testing.T, ownerID string) *model.Project {
	t.Helper()
	p := &model.Project{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      "Base",
		ApkURL:    blobBase + "/uploads/base.apk",
		SourceURL: blobBase + "/project-sources/base.zip",
		Status:    model.ProjectStatusReady,
	}
	require.NoError(t, e.store.CreateProject(context.Background(), p))
	return p
}

func (e *testEnv) seedFlavor(t *testing.T, ownerID, projectID, appName string) *model.FlavorDetail {
	t.Helper()
	f, err := e.flavors.Create(context.Background(), ownerID, projectID, &model.CreateFlavorRequest{
		Name:   appName,
		Config: model.FlavorConfig{App: model.AppConfig{Name: appName}},
	})
	require.NoError(t, err)
	return f
}

func (e *testEnv) seedBuild(t *testing.T) *model.Build {
	t.Helper()
	p := e.seedProject(t, owner)
	f := e.seedFlavor(t, owner, p.ID, "Acme")
	b, err := e.builds.Enqueue(context.Background(), owner, &model.BuildStartRequest{
		FlavorID:  f.ID,
		BuildType: model.OutputKindAPK,
	})
	require.NoError(t, err)
	return b
}

func statusPtr(s model.BuildStatus) *model.BuildStatus { return &s }

func containsRaw(v string) bool { return strings.Contains(v, blobBase) }
