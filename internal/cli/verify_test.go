package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mobiletoly/go-offlinepos/posdata"
)

func TestTableCheckConsistent(t *testing.T) {
	tests := []struct {
		name  string
		check TableCheck
		want  bool
	}{
		{"pulled kind matches", TableCheck{Kind: posdata.KindProduct, Local: 5, Unsynced: 2, Remote: 3}, true},
		{"pulled kind missing remote rows", TableCheck{Kind: posdata.KindProduct, Local: 5, Remote: 3}, false},
		{"pulled kind with extra remote rows", TableCheck{Kind: posdata.KindCustomer, Local: 1, Remote: 2}, false},
		{"push-only kind purged locally", TableCheck{Kind: posdata.KindSale, Local: 1, Remote: 40}, true},
		{"push-only kind not pushed", TableCheck{Kind: posdata.KindSale, Local: 3, Unsynced: 0, Remote: 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check.Consistent())
		})
	}
}

func TestRemoteCountQuery(t *testing.T) {
	assert.Contains(t, remoteCountQuery(posdata.KindSaleItem), "JOIN sales")
	assert.Equal(t, "SELECT COUNT(*) FROM customer_loans WHERE user_id = $1", remoteCountQuery(posdata.KindLoan))
}
