package api

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"

	"copycat/types"
)

// LibraryFilter narrows the library listing. Empty fields are not sent.
type LibraryFilter struct {
	Type   string // movie or tv
	SortBy string // created_at, title, year or rating
	Order  string // asc or desc
	Search string
}

func (f LibraryFilter) values() url.Values {
	v := url.Values{}
	if f.Type != "" {
		v.Set("type", f.Type)
	}
	if f.SortBy != "" {
		v.Set("sort_by", f.SortBy)
	}
	if f.Order != "" {
		v.Set("order", f.Order)
	}
	if f.Search != "" {
		v.Set("search", f.Search)
	}
	return v
}

// LibraryItems returns one page of the media library. Like History, stale
// pages are refetched and served when the refetch fails.
func (c *Client) LibraryItems(ctx context.Context, page, limit int, filter LibraryFilter) (*types.LibraryPage, error) {
	if page < 1 {
		page = 1
	}
	values := filter.values()
	filters := values.Encode()

	entry, cached := c.library.Get(page, limit, filters)
	if cached && !entry.Stale {
		return entry.Data, nil
	}

	values.Set("limit", strconv.Itoa(limit))
	values.Set("offset", strconv.Itoa((page-1)*limit))

	r, cancel := c.request(ctx, c.timeout)
	defer cancel()

	var out types.LibraryPage
	resp, err := r.
		SetQueryParamsFromValues(values).
		SetSuccessResult(&out).
		Get("/api/library/items")
	if err := handleAPIError(resp, err, "library items"); err != nil {
		if cached {
			slog.Warn("serving stale library page", "page", page, "error", err)
			return entry.Data, nil
		}
		return nil, err
	}

	c.library.Set(page, limit, filters, &out)
	return &out, nil
}

// InvalidateLibrary drops every cached library page
func (c *Client) InvalidateLibrary() {
	c.library.Clear()
}
