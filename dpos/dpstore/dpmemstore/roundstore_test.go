package dpmemstore_test

import (
	"testing"

	"github.com/gordian-engine/gdpos/dpos/dpstore"
	"github.com/gordian-engine/gdpos/dpos/dpstore/dpmemstore"
	"github.com/gordian-engine/gdpos/dpos/dpstore/dpstoretest"
)

func TestRoundStoreCompliance(t *testing.T) {
	t.Parallel()

	dpstoretest.TestRoundStoreCompliance(t, func(*testing.T) dpstore.RoundStore {
		return dpmemstore.NewRoundStore()
	})
}
