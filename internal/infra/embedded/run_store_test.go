package embedded_test

import (
	"testing"

	"github.com/lattiam/launchpad/internal/infra/embedded"
	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/internal/storetest"
)

func TestRunStore(t *testing.T) {
	t.Parallel()
	storetest.RunRunStore(t, func(_ *testing.T) interfaces.RunStore {
		return embedded.NewRunStore()
	})
}
