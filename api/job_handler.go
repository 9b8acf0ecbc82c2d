package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xraph/forge"

	"github.com/xraph/lineup"
	"github.com/xraph/lineup/job"
)

// errBadRequest marks errors caused by the request itself.
var errBadRequest = errors.New("bad request")

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListJobsRequest documents the query parameters of GET /api/jobs.
type ListJobsRequest struct {
	State  string `json:"state,omitempty" query:"state"`
	Limit  int    `json:"limit,omitempty" query:"limit"`
	Offset int    `json:"offset,omitempty" query:"offset"`
}

func (a *API) listJobs(ctx forge.Context) error {
	opts, err := listOptsFromQuery(ctx)
	if err != nil {
		return a.fail(ctx, err)
	}

	jobs, err := a.obs.ListJobs(ctx.Context(), opts)
	if err != nil {
		return a.fail(ctx, fmt.Errorf("list jobs: %w", err))
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	return ctx.JSON(http.StatusOK, jobs)
}

func (a *API) getJob(ctx forge.Context) error {
	// Caller-chosen ids such as "Burger#1" arrive escaped.
	jobID, err := url.PathUnescape(ctx.Param("jobId"))
	if err != nil {
		return a.fail(ctx, fmt.Errorf("%w: job id: %w", errBadRequest, err))
	}

	j, err := a.obs.GetJob(ctx.Context(), jobID)
	if err != nil {
		return a.fail(ctx, err)
	}
	return ctx.JSON(http.StatusOK, j)
}

func (a *API) stats(ctx forge.Context) error {
	s, err := a.obs.Stats(ctx.Context())
	if err != nil {
		return a.fail(ctx, fmt.Errorf("count jobs: %w", err))
	}
	return ctx.JSON(http.StatusOK, s)
}

func listOptsFromQuery(ctx forge.Context) (job.ListOpts, error) {
	var opts job.ListOpts

	if s := ctx.Query("state"); s != "" {
		st := job.State(s)
		if !st.Valid() {
			return opts, fmt.Errorf("%w: unknown state %q", errBadRequest, s)
		}
		opts.State = st
	}

	var err error
	if opts.Limit, err = intParam(ctx.Query("limit")); err != nil {
		return opts, fmt.Errorf("%w: limit: %w", errBadRequest, err)
	}
	if opts.Offset, err = intParam(ctx.Query("offset")); err != nil {
		return opts, fmt.Errorf("%w: offset: %w", errBadRequest, err)
	}
	return opts, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative, got %d", n)
	}
	return n, nil
}

// statusOf maps lineup sentinel errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, lineup.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, lineup.ErrInvalidOption):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an ErrorResponse. Server-side failures are logged.
func (a *API) fail(ctx forge.Context, err error) error {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		a.logger.Error("api request failed", slog.String("error", err.Error()))
	}
	return ctx.JSON(status, ErrorResponse{Error: err.Error()})
}
