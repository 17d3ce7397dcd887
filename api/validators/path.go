package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
)

// ParseIDParam reads a positive numeric route parameter.
func ParseIDParam(r *http.Request, name string) (uint64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+name+" id").WithDetails(map[string]any{"field": name})
	}
	return id, nil
}
