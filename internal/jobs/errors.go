package jobs

import (
	"errors"

	"github.com/kiranshivaraju/tutoreval/internal/dataset"
)

var (
	ErrDatasetNotFound  = errors.New("dataset not found")
	ErrJobNotFound      = errors.New("job not found")
	ErrInvalidFilters   = errors.New("invalid case filters")
	ErrInvalidCase      = dataset.ErrInvalidCase
	ErrInvalidConfig    = errors.New("invalid evaluation config")
	ErrQueueUnavailable = errors.New("task queue unavailable")
)
