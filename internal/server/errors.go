package server

import (
	"net/http"

	"github.com/jonathan/taskpipe/internal/pipeline"
)

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	switch err.(type) {
	case *pipeline.ValidationError:
		return http.StatusBadRequest
	case *pipeline.ConflictError:
		return http.StatusConflict
	case *pipeline.PersistenceError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
