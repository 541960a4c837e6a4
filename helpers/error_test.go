package helpers

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()
	assert.NoError(t, FoldErrors(nil))
	assert.NoError(t, FoldErrors([]error{nil, nil}))

	single := errors.NotValidf("device_id")
	assert.True(t, errors.IsNotValid(FoldErrors([]error{nil, single})))

	err := FoldErrors([]error{errors.New("a"), nil, errors.New("b")})
	assert.EqualError(t, err, "a\nb")
}
