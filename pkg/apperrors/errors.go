package apperrors

import "errors"

var (
	ErrPoolExhausted    = errors.New("connection pool exhausted")
	ErrBackendQuery     = errors.New("backend query failed")
	ErrGenerationFailed = errors.New("query generation failed")
	ErrConfiguration    = errors.New("invalid configuration")
	ErrSchemaNotFound   = errors.New("schema object not found")
)
