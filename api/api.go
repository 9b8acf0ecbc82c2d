// Package api provides the read-only HTTP monitor for a lineup queue and
// the demonstration trigger endpoint, mounted on a Forge router.
//
// Routes, relative to the base path (default "/admin/queues"):
//
//	GET {base}/api/jobs        jobs in enqueue order; ?state=, ?limit=, ?offset=
//	GET {base}/api/jobs/:jobId one job with its logs
//	GET {base}/api/stats       per-state counts
//	GET {base}/api/stream      live lifecycle events over WebSocket
//	GET {base}/api/events      live lifecycle events as Server-Sent Events
//	GET /queue/execute         seeds the demonstration batch
//
// The monitor depends only on the [Observer] interface, never on the
// engine type.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/lineup/job"
	"github.com/xraph/lineup/stream"
)

// DefaultBasePath is where the monitor routes are mounted.
const DefaultBasePath = "/admin/queues"

// Observer is the read-only query surface over the queue. Every method
// returns snapshots. *engine.Engine satisfies it.
type Observer interface {
	ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error)
	GetJob(ctx context.Context, jobID string) (*job.Job, error)
	Stats(ctx context.Context) (job.Stats, error)
}

// Streamer hands out live event subscriptions. *engine.Engine satisfies it.
type Streamer interface {
	Subscribe(subscriberID string, topics ...string) *stream.Subscriber
	Unsubscribe(subscriberID string)
}

// SeedFunc enqueues the demonstration batch.
type SeedFunc func(ctx context.Context) error

// Option configures an API.
type Option func(*API)

// WithStreamer enables the live event routes.
func WithStreamer(s Streamer) Option {
	return func(a *API) { a.streamer = s }
}

// WithSeed enables GET /queue/execute.
func WithSeed(fn SeedFunc) Option {
	return func(a *API) { a.seed = fn }
}

// WithLogger sets the logger for request errors.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithRouter mounts the routes on an existing Forge router instead of a
// new one.
func WithRouter(r forge.Router) Option {
	return func(a *API) { a.router = r }
}

// WithBasePath mounts the monitor routes under p instead of
// DefaultBasePath.
func WithBasePath(p string) Option {
	return func(a *API) { a.basePath = p }
}

// API wires the monitor handlers together.
type API struct {
	obs      Observer
	streamer Streamer
	seed     SeedFunc
	logger   *slog.Logger
	basePath string
	router   forge.Router
}

// New creates an API over obs.
func New(obs Observer, opts ...Option) *API {
	a := &API{
		obs:      obs,
		logger:   slog.Default(),
		basePath: DefaultBasePath,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	a.RegisterRoutes(a.router)
	return a.router.Handler()
}

// RegisterRoutes registers the monitor routes into the given Forge router.
func (a *API) RegisterRoutes(router forge.Router) {
	a.registerJobRoutes(router)
	a.registerStatsRoutes(router)
	if a.streamer != nil {
		a.registerStreamRoutes(router)
	}
	if a.seed != nil {
		a.registerExecuteRoutes(router)
	}
}

// registerJobRoutes registers the job inspection routes.
func (a *API) registerJobRoutes(router forge.Router) {
	g := router.Group(a.basePath+"/api", forge.WithGroupTags("jobs"))

	_ = g.GET("/jobs", a.listJobs,
		forge.WithSummary("List jobs"),
		forge.WithDescription("Returns jobs in enqueue order, filtered by state."),
		forge.WithOperationID("listJobs"),
		forge.WithRequestSchema(ListJobsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Job list", []*job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/:jobId", a.getJob,
		forge.WithSummary("Get job"),
		forge.WithDescription("Returns one job with the logs of every attempt."),
		forge.WithOperationID("getJob"),
		forge.WithResponseSchema(http.StatusOK, "Job details", &job.Job{}),
		forge.WithErrorResponses(),
	)
}

// registerStatsRoutes registers the per-state counts route.
func (a *API) registerStatsRoutes(router forge.Router) {
	g := router.Group(a.basePath+"/api", forge.WithGroupTags("stats"))

	_ = g.GET("/stats", a.stats,
		forge.WithSummary("Queue stats"),
		forge.WithDescription("Returns job counts grouped by state."),
		forge.WithOperationID("queueStats"),
		forge.WithResponseSchema(http.StatusOK, "Queue statistics", job.Stats{}),
		forge.WithErrorResponses(),
	)
}

// registerStreamRoutes registers the live event feeds.
func (a *API) registerStreamRoutes(router forge.Router) {
	g := router.Group(a.basePath+"/api", forge.WithGroupTags("stream"))

	_ = g.GET("/stream", a.streamWebSocket,
		forge.WithSummary("Event stream (WebSocket)"),
		forge.WithDescription("Upgrades to a WebSocket carrying lifecycle events as JSON or msgpack frames."),
		forge.WithOperationID("streamWebSocket"),
		forge.WithRequestSchema(StreamRequest{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/events", a.streamSSE,
		forge.WithSummary("Event stream (SSE)"),
		forge.WithDescription("Streams lifecycle events as Server-Sent Events."),
		forge.WithOperationID("streamEvents"),
		forge.WithRequestSchema(StreamRequest{}),
		forge.WithErrorResponses(),
	)
}

// registerExecuteRoutes registers the demonstration trigger.
func (a *API) registerExecuteRoutes(router forge.Router) {
	g := router.Group("/queue", forge.WithGroupTags("demo"))

	_ = g.GET("/execute", a.execute,
		forge.WithSummary("Seed demo batch"),
		forge.WithDescription("Enqueues the burger demonstration batch."),
		forge.WithOperationID("executeDemo"),
		forge.WithResponseSchema(http.StatusOK, "Acknowledgement", ExecuteResponse{}),
		forge.WithErrorResponses(),
	)
}

// ExecuteResponse is the body of GET /queue/execute.
type ExecuteResponse struct {
	Message string `json:"message"`
}

func (a *API) execute(ctx forge.Context) error {
	if err := a.seed(ctx.Context()); err != nil {
		return a.fail(ctx, err)
	}
	return ctx.JSON(http.StatusOK, ExecuteResponse{Message: "Queues being processed!"})
}
