package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/enrollment"
)

var (
	orderingParam = "ordering"
	pageParam     = "page"
	limitParam    = "limit"
	statusParam   = "status"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// bindPagination reads `page` and `limit` query params; out-of-range values
// fall back to the service defaults.
func bindPagination(ctx echo.Context) enrollment.Pagination {
	var page enrollment.Pagination
	if v, err := strconv.Atoi(ctx.QueryParam(pageParam)); err == nil {
		page.Page = v
	}
	if v, err := strconv.Atoi(ctx.QueryParam(limitParam)); err == nil {
		page.PageSize = v
	}
	return page
}
