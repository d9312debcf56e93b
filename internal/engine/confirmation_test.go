package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordParserWholePlanIntent(t *testing.T) {
	p := NewKeywordConfirmationParser()

	tests := []struct {
		name    string
		comment string
		want    Decision
	}{
		{"bare approve", "approve", Decision{ApproveAll: true}},
		{"go ahead phrase", "Looks good, go ahead!", Decision{ApproveAll: true}},
		{"confirmed", "Confirmed.", Decision{ApproveAll: true}},
		{"bare no", "no", Decision{RejectAll: true}},
		{"reject", "Please reject this plan", Decision{RejectAll: true}},
		{"mixed without refs is ambiguous", "yes and no", Decision{}},
		{"no intent at all", "thanks for the update", Decision{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Parse(tt.comment))
		})
	}
}

func TestKeywordParserStepScopedIntent(t *testing.T) {
	p := NewKeywordConfirmationParser()

	tests := []struct {
		name     string
		comment  string
		approved []int
		rejected []int
	}{
		// Step numbers in comments are 1-based; orders are 0-based.
		{"single approval", "approve step 2", []int{1}, nil},
		{"plural form", "approve steps 2", []int{1}, nil},
		{"split intent", "skip step 1 but approve step 3", []int{2}, []int{0}},
		{"negated verb", "don't do step 3", nil, []int{2}},
		{"trailing keyword", "step 2 is approved", []int{1}, nil},
		{"duplicate refs collapse", "approve step 2, yes step 2", []int{1}, nil},
		{"multiple approvals", "approve step 1 and step 3", []int{0, 2}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.comment)
			assert.False(t, got.ApproveAll)
			assert.False(t, got.RejectAll)
			assert.Equal(t, tt.approved, got.ApprovedOrders)
			assert.Equal(t, tt.rejected, got.RejectedOrders)
		})
	}
}

func TestKeywordParserStripsMarkdown(t *testing.T) {
	p := NewKeywordConfirmationParser()

	got := p.Parse("**Approve** step 2, please.")
	assert.Equal(t, []int{1}, got.ApprovedOrders)

	got = p.Parse("> don't run step 1")
	assert.Equal(t, []int{0}, got.RejectedOrders)
}

func TestKeywordParserIgnoresInvalidStepNumbers(t *testing.T) {
	p := NewKeywordConfirmationParser()

	// "step 0" cannot map to a 0-based order; with no valid refs the
	// decision is empty rather than falling back to whole-plan intent.
	got := p.Parse("approve step 0")
	assert.True(t, got.Empty())
}
