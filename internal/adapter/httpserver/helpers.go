package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func isNotFound(err error) bool        { return errors.Is(err, domain.ErrNotFound) }
func isConflict(err error) bool        { return errors.Is(err, domain.ErrConflict) }
func isInvalidState(err error) bool    { return errors.Is(err, domain.ErrInvalidState) }
func isInvalidArgument(err error) bool { return errors.Is(err, domain.ErrInvalidArgument) }
