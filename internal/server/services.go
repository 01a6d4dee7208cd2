// Package server assembles the services, the HTTP app and the task mux.
package server

import (
	"time"

	"github.com/hibiken/asynq"
	"github.com/qasim313/Unbrandit/internal/client"
	"github.com/qasim313/Unbrandit/internal/config"
	"github.com/qasim313/Unbrandit/internal/repository"
	"github.com/qasim313/Unbrandit/internal/service"
	"github.com/qasim313/Unbrandit/internal/websocket"
	"github.com/qasim313/Unbrandit/internal/worker"
)

// Services is the explicitly constructed object graph shared by the HTTP
// app and the task workers. Nothing in it is a package-level singleton.
type Services struct {
	Store      repository.Store
	Storage    client.StorageClient
	Resolver   *service.BlobResolver
	Hub        *websocket.Hub
	State      *service.StateMachine
	Builds     *service.BuildService
	Flavors    *service.FlavorService
	Projects   *service.ProjectService
	Uploads    *service.UploadService
	Reconciler *service.Reconciler
}

func NewServices(cfg *config.Config, store repository.Store, storage client.StorageClient, queue service.Enqueuer) *Services {
	resolver := service.NewBlobResolver(storage, cfg.ProxySigningKey(), cfg.Server.PublicBaseURL)
	hub := websocket.NewHub(service.NewSubscriptionAuthorizer(store, resolver))
	sm := service.NewStateMachine(store, resolver, service.NewStatusNotifier(hub, resolver))
	toolchainTimeout := time.Duration(cfg.Toolchain.Timeout) * time.Second
	builds := service.NewBuildService(store, queue, resolver, sm, toolchainTimeout)

	return &Services{
		Store:      store,
		Storage:    storage,
		Resolver:   resolver,
		Hub:        hub,
		State:      sm,
		Builds:     builds,
		Flavors:    service.NewFlavorService(store, resolver),
		Projects:   service.NewProjectService(store, queue, resolver, sm, toolchainTimeout),
		Uploads:    service.NewUploadService(resolver),
		Reconciler: service.NewReconciler(store, builds, sm, cfg.Reconcile),
	}
}

// NewTaskMux routes queue tasks to their workers.
func NewTaskMux(s *Services, toolchain client.Toolchain) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(service.TaskTypeBuildDispatch, worker.NewBuildWorker(toolchain, s.Store, s.State))
	mux.Handle(service.TaskTypeProjectDecompile, worker.NewDecompileWorker(toolchain, s.Store, s.State))
	mux.Handle(service.TaskTypeBuildReconcile, worker.NewReconcileWorker(s.Reconciler))
	return mux
}

// QueuePriorities weights the asynq queues; maintenance only runs the sweep.
func QueuePriorities() map[string]int {
	return map[string]int{
		service.QueueBuilds:      6,
		service.QueueProjects:    3,
		service.QueueMaintenance: 1,
	}
}
