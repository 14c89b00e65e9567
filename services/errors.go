package services

import "errors"

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrInvalidState = errors.New("job is not in a state that allows this")
	ErrInvalidPath  = errors.New("invalid path")
	ErrInvalidName  = errors.New("invalid folder name")
	ErrReadOnly     = errors.New("root is read only")
	ErrNotFound     = errors.New("path not found")
	ErrExists       = errors.New("path already exists")
)
