package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestContext_GeneratesID(t *testing.T) {
	t.Parallel()

	rc := NewRequestContext("", nil)
	assert.NotEmpty(t, rc.RequestID)

	rc2 := NewRequestContext("req-1", nil)
	assert.Equal(t, "req-1", rc2.RequestID)

	rc3 := NewRequestContext("   ", nil)
	assert.NotEmpty(t, rc3.RequestID)
	assert.NotEqual(t, "   ", rc3.RequestID)
}

func TestEffectiveTenantID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultTenantID, NewRequestContext("r", nil).EffectiveTenantID())

	tc := NewContext("acme", "client-1")
	assert.Equal(t, "acme", NewRequestContext("r", tc).EffectiveTenantID())

	var rc *RequestContext
	assert.Equal(t, DefaultTenantID, rc.EffectiveTenantID())
}

func TestIsolationLevel_Valid(t *testing.T) {
	t.Parallel()

	assert.True(t, IsolationStrict.Valid())
	assert.True(t, IsolationStandard.Valid())
	assert.True(t, IsolationShared.Valid())
	assert.False(t, IsolationLevel("padded-cell").Valid())
}

func TestListQuery_Window(t *testing.T) {
	t.Parallel()

	intp := func(i int) *int { return &i }

	tests := []struct {
		name       string
		q          *ListQuery
		offset     int
		limit      int
		startIndex int
	}{
		{name: "nil query", q: nil, offset: 0, limit: -1, startIndex: 1},
		{name: "defaults", q: &ListQuery{}, offset: 0, limit: -1, startIndex: 1},
		{name: "first page", q: &ListQuery{StartIndex: intp(1), Count: intp(10)}, offset: 0, limit: 10, startIndex: 1},
		{name: "second page", q: &ListQuery{StartIndex: intp(11), Count: intp(10)}, offset: 10, limit: 10, startIndex: 11},
		{name: "clamped zero", q: &ListQuery{StartIndex: intp(0)}, offset: 0, limit: -1, startIndex: 1},
		{name: "clamped negative", q: &ListQuery{StartIndex: intp(-5), Count: intp(-1)}, offset: 0, limit: 0, startIndex: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.offset, tt.q.Offset())
			assert.Equal(t, tt.limit, tt.q.Limit())
			assert.Equal(t, tt.startIndex, tt.q.NormalizedStartIndex())
		})
	}
}

func TestNewContext_Defaults(t *testing.T) {
	t.Parallel()

	tc := NewContext("acme", "c1")
	require.NotNil(t, tc)
	assert.True(t, tc.Permissions.CanCreate)
	assert.True(t, tc.Permissions.CanList)
	assert.Nil(t, tc.Permissions.MaxUsers)
	assert.Equal(t, IsolationStandard, tc.Isolation)
}
