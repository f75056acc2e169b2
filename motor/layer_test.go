package motor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, First, Classify(1, 2))
	assert.Equal(t, BurnIn, Classify(2, 2))
	assert.Equal(t, BurnIn, Classify(3, 2))
	assert.Equal(t, Model, Classify(4, 2))
	assert.Equal(t, Model, Classify(100, 2))

	// no burn-in configured
	assert.Equal(t, First, Classify(1, 0))
	assert.Equal(t, Model, Classify(2, 0))
}
