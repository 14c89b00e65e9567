package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"copycat/types"
)

// ErrInvalidPriority is returned for priorities outside low..high
var ErrInvalidPriority = errors.New("api: priority must be 0 (low), 1 (normal) or 2 (high)")

func jobKey(id int64) string {
	return "job:" + strconv.FormatInt(id, 10) + ":"
}

// StartCopy queues a copy of sourcePath into destinationPath
func (c *Client) StartCopy(ctx context.Context, sourcePath, destinationPath string) (*types.CopyJob, error) {
	r, cancel := c.request(ctx, c.timeout)
	defer cancel()

	var job types.CopyJob
	resp, err := r.
		SetRetryCount(0).
		SetBody(&types.StartCopyRequest{
			SourcePath:      sourcePath,
			DestinationPath: destinationPath,
		}).
		SetSuccessResult(&job).
		Post("/api/copy/start")
	if err := handleAPIError(resp, err, "start copy"); err != nil {
		return nil, err
	}

	c.listings.InvalidatePattern("browse:" + types.DestinationRoot + ":")
	c.folders.InvalidatePattern("folder:" + types.DestinationRoot + ":")
	c.history.Clear()
	c.jobs.Set(jobKey(job.ID), &job)
	return &job, nil
}

// Queue returns the queued and processing jobs. It is never cached.
func (c *Client) Queue(ctx context.Context) ([]types.CopyJob, error) {
	r, cancel := c.request(ctx, c.timeout)
	defer cancel()

	var jobs []types.CopyJob
	resp, err := r.
		SetSuccessResult(&jobs).
		Get("/api/copy/queue")
	if err := handleAPIError(resp, err, "queue"); err != nil {
		return nil, err
	}
	return jobs, nil
}

// History returns one page of past jobs, newest first. Pages older than the
// cache ttl are refetched; if that fails the old page is returned.
func (c *Client) History(ctx context.Context, page, limit int) ([]types.CopyJob, error) {
	if page < 1 {
		page = 1
	}
	entry, cached := c.history.Get(page, limit, "")
	if cached && !entry.Stale {
		return entry.Data, nil
	}

	r, cancel := c.request(ctx, c.timeout)
	defer cancel()

	var jobs []types.CopyJob
	resp, err := r.
		SetQueryParams(map[string]string{
			"limit":  strconv.Itoa(limit),
			"offset": strconv.Itoa((page - 1) * limit),
		}).
		SetSuccessResult(&jobs).
		Get("/api/copy/history")
	if err := handleAPIError(resp, err, "history"); err != nil {
		if cached {
			slog.Warn("serving stale history page", "page", page, "error", err)
			return entry.Data, nil
		}
		return nil, err
	}

	c.history.Set(page, limit, "", jobs)
	return jobs, nil
}

// Job returns a job, from the cache when possible
func (c *Client) Job(ctx context.Context, id int64) (*types.CopyJob, error) {
	if job, ok := c.jobs.Get(jobKey(id)); ok {
		return job, nil
	}

	r, cancel := c.request(ctx, c.timeout)
	defer cancel()

	var job types.CopyJob
	resp, err := r.
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetSuccessResult(&job).
		Get("/api/jobs/{id}")
	if err := handleAPIError(resp, err, fmt.Sprintf("job %d", id)); err != nil {
		return nil, err
	}

	c.jobs.Set(jobKey(id), &job)
	return &job, nil
}

// CancelJob cancels a queued or processing job
func (c *Client) CancelJob(ctx context.Context, id int64) (*types.MessageResponse, error) {
	r, cancel := c.request(ctx, c.timeout)
	defer cancel()

	var out types.MessageResponse
	resp, err := r.
		SetRetryCount(0).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetSuccessResult(&out).
		Delete("/api/copy/{id}")
	if err := handleAPIError(resp, err, fmt.Sprintf("cancel job %d", id)); err != nil {
		return nil, err
	}

	c.invalidateJob(id)
	return &out, nil
}

// RetryJob queues a new job with the paths of a failed one
func (c *Client) RetryJob(ctx context.Context, id int64) (*types.CopyJob, error) {
	r, cancel := c.request(ctx, c.timeout)
	defer cancel()

	var job types.CopyJob
	resp, err := r.
		SetRetryCount(0).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetSuccessResult(&job).
		Post("/api/copy/{id}/retry")
	if err := handleAPIError(resp, err, fmt.Sprintf("retry job %d", id)); err != nil {
		return nil, err
	}

	c.invalidateJob(id)
	c.jobs.Set(jobKey(job.ID), &job)
	return &job, nil
}

// SetPriority changes the priority of a queued job
func (c *Client) SetPriority(ctx context.Context, id int64, priority int) (*types.CopyJob, error) {
	if priority < types.PriorityLow || priority > types.PriorityHigh {
		return nil, ErrInvalidPriority
	}

	r, cancel := c.request(ctx, c.timeout)
	defer cancel()

	var job types.CopyJob
	resp, err := r.
		SetRetryCount(0).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetBody(&types.PriorityRequest{Priority: priority}).
		SetSuccessResult(&job).
		Post("/api/copy/{id}/priority")
	if err := handleAPIError(resp, err, fmt.Sprintf("set priority of job %d", id)); err != nil {
		return nil, err
	}

	c.invalidateJob(id)
	c.jobs.Set(jobKey(job.ID), &job)
	return &job, nil
}

// Reorder gives the listed queued jobs descending priority, first id first
func (c *Client) Reorder(ctx context.Context, ids []int64) (*types.ReorderResponse, error) {
	if len(ids) == 0 {
		return nil, errors.New("api: reorder needs at least one job id")
	}

	r, cancel := c.request(ctx, c.timeout)
	defer cancel()

	var out types.ReorderResponse
	resp, err := r.
		SetRetryCount(0).
		SetBody(&types.ReorderRequest{JobIDs: ids}).
		SetSuccessResult(&out).
		Post("/api/copy/reorder")
	if err := handleAPIError(resp, err, "reorder"); err != nil {
		return nil, err
	}

	for _, id := range ids {
		c.jobs.Invalidate(jobKey(id))
	}
	c.history.Clear()
	return &out, nil
}

// ClearQueue cancels every queued and processing job
func (c *Client) ClearQueue(ctx context.Context) (*types.MessageResponse, error) {
	r, cancel := c.request(ctx, c.timeout)
	defer cancel()

	var out types.MessageResponse
	resp, err := r.
		SetRetryCount(0).
		SetSuccessResult(&out).
		Delete("/api/copy/queue")
	if err := handleAPIError(resp, err, "clear queue"); err != nil {
		return nil, err
	}

	c.InvalidateJobs()
	return &out, nil
}

// InvalidateJobs drops every cached job and history page. Observers call it
// when they see a job reach a terminal state.
func (c *Client) InvalidateJobs() {
	c.jobs.Invalidate()
	c.history.Clear()
}

func (c *Client) invalidateJob(id int64) {
	c.jobs.Invalidate(jobKey(id))
	c.history.Clear()
}
