package core

// DBOrdering represents an ORDER BY clause element, bound from the `ordering`
// query param by the API layer and consumed by repositories.
type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}
