package pagination

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters for list queries.
type Params struct {
	Limit  int
	Offset int
}

// New returns Params clamped to sane bounds.
func New(limit, offset int) Params {
	p := Params{Limit: limit, Offset: offset}
	p.Normalize()
	return p
}

// Normalize clamps the parameters in place: a non-positive limit falls back
// to DefaultLimit, limits above MaxLimit are capped, negative offsets become 0.
func (p *Params) Normalize() {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page.
// Returns 0 if the result would be negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// Page wraps one page of results with its total count.
type Page[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// NewPage builds a Page from a result slice and the query's total count.
func NewPage[T any](items []T, total int, p Params) Page[T] {
	return Page[T]{
		Items:   items,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.HasNext(total),
	}
}
