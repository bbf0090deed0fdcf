package pagination

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name               string
		limit, offset      int
		wantLimit, wantOff int
	}{
		{"defaults", 0, 0, DefaultLimit, 0},
		{"negative limit", -5, 0, DefaultLimit, 0},
		{"capped limit", 500, 0, MaxLimit, 0},
		{"negative offset", 10, -3, 10, 0},
		{"passthrough", 50, 100, 50, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.limit, tt.offset)
			if p.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", p.Limit, tt.wantLimit)
			}
			if p.Offset != tt.wantOff {
				t.Errorf("offset = %d, want %d", p.Offset, tt.wantOff)
			}
		})
	}
}

func TestHasNext(t *testing.T) {
	p := Params{Limit: 20, Offset: 0}
	if !p.HasNext(21) {
		t.Error("expected next page when total exceeds window")
	}
	if p.HasNext(20) {
		t.Error("expected no next page when total fits window")
	}
}

func TestPreviousOffset(t *testing.T) {
	p := Params{Limit: 20, Offset: 10}
	if got := p.PreviousOffset(); got != 0 {
		t.Errorf("expected clamp to 0, got %d", got)
	}
	p.Offset = 40
	if got := p.PreviousOffset(); got != 20 {
		t.Errorf("expected 20, got %d", got)
	}
}

func TestNewPage(t *testing.T) {
	page := NewPage([]int{1, 2, 3}, 10, Params{Limit: 3, Offset: 0})
	if !page.HasMore {
		t.Error("expected more pages")
	}
	if page.Total != 10 || len(page.Items) != 3 {
		t.Errorf("unexpected page: %+v", page)
	}
}
