package execution

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUnknownOrderErrRecognizesBinanceCodes(t *testing.T) {
	assert.True(t, isUnknownOrderErr(errors.New("<APIError> code=-2011, msg=Unknown order sent.")))
	assert.True(t, isUnknownOrderErr(errors.New("<APIError> code=-2013, msg=Order does not exist.")))
	assert.False(t, isUnknownOrderErr(errors.New("<APIError> code=-1021, msg=Timestamp out of window.")))
	assert.False(t, isUnknownOrderErr(nil))
}

func TestParseDecimalFallsBackToZeroOnGarbage(t *testing.T) {
	assert.True(t, parseDecimal("0.01").Equal(parseDecimal("0.01")))
	assert.True(t, parseDecimal("not-a-number").IsZero())
}
