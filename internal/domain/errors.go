package domain

import "errors"

var (
	// ErrFetchTimeout is returned when a fetch exceeds its deadline.
	ErrFetchTimeout = errors.New("fetch timeout")
	// ErrFetchHTTP is returned for non-2xx upstream responses.
	ErrFetchHTTP = errors.New("fetch http error")
	// ErrParse is returned for malformed RSS/XML payloads.
	ErrParse = errors.New("parse error")
	// ErrEmptyFeedGroup means no language of a feed group yielded items.
	ErrEmptyFeedGroup = errors.New("empty feed group")
	// ErrUpsert is returned when the sink rejected writes of a feed group.
	ErrUpsert = errors.New("upsert error")
	// ErrSinkUnavailable means every attempted upsert of a run failed.
	ErrSinkUnavailable = errors.New("incident sink unavailable")
)
