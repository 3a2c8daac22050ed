package hive

// Page is one window of a query result.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Paginate cuts items to the window starting at offset. A limit of zero or
// less returns everything from offset on.
func Paginate[T any](items []T, offset, limit int) Page[T] {
	total := len(items)
	offset = max(0, min(offset, total))
	end := total
	if limit > 0 {
		end = min(total, offset+limit)
	}
	window := items[offset:end]
	if window == nil {
		window = []T{}
	}
	return Page[T]{Items: window, Total: total, Offset: offset, Limit: limit}
}
