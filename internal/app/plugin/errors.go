package plugin

import "errors"

var (
	ErrDependencyCycle   = errors.New("plugin dependency cycle")
	ErrMissingDependency = errors.New("plugin dependency not loaded")
	ErrDuplicatePlugin   = errors.New("duplicate plugin id")
	ErrUnknownPlugin     = errors.New("no plugin registered under that name")
)
