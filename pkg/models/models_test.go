package models

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyAddressURL(t *testing.T) {
	u, err := ProxyAddress("1.2.3.4:8080").URL()
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "1.2.3.4:8080", u.Host)

	socks := ProxyAddress("SOCKS5://5.6.7.8:1080")
	assert.True(t, socks.IsSOCKS5())
	assert.False(t, ProxyAddress("5.6.7.8:1080").IsSOCKS5())
}

func TestRecordSetUnionOfDisjointPages(t *testing.T) {
	rs := NewRecordSet()
	var all []string
	for page := 0; page < 4; page++ {
		var records []string
		for i := 0; i < 5; i++ {
			records = append(records, fmt.Sprintf("site-%d-%d.com", page, i))
		}
		all = append(all, records...)
		added := rs.Merge(records)
		assert.Equal(t, records, added)
	}

	assert.Equal(t, len(all), rs.Len())
	for _, r := range all {
		assert.True(t, rs.Contains(r))
	}
}

func TestRecordSetMergeIsIdempotent(t *testing.T) {
	rs := NewRecordSet("a.com")
	added := rs.Merge([]string{"a.com", "b.com", "b.com", "c.com"})
	assert.Equal(t, []string{"b.com", "c.com"}, added)

	assert.Empty(t, rs.Merge([]string{"a.com", "b.com", "c.com"}))
	assert.Equal(t, []string{"a.com", "b.com", "c.com"}, rs.Sorted())
}

func TestRecordSetUnseenDoesNotMutate(t *testing.T) {
	rs := NewRecordSet("a.com")
	assert.Equal(t, []string{"b.com"}, rs.Unseen([]string{"a.com", "b.com", "b.com"}))
	assert.Equal(t, 1, rs.Len())
}

func TestPaginationSignalString(t *testing.T) {
	assert.Equal(t, "has_more", PaginationHasMore.String())
	assert.Equal(t, "exhausted", PaginationExhausted.String())
	assert.Equal(t, "indeterminate", PaginationIndeterminate.String())
}
