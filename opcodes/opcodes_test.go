package opcodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeConstRoundTrip(t *testing.T) {
	rk := EncodeConst(5)
	assert.True(t, IsConst(rk))
	assert.Equal(t, int32(5), ConstIndex(rk))
}

func TestEncodeRegRoundTrip(t *testing.T) {
	rk := EncodeReg(12)
	assert.False(t, IsConst(rk))
	assert.Equal(t, int32(12), RegIndex(rk))
}

func TestEncodeConstDistinctFromReg(t *testing.T) {
	// A constant index and a register index of the same small value must
	// encode to different rk operands, since IsConst is what tells dispatch
	// which one it's holding.
	assert.NotEqual(t, EncodeConst(3), EncodeReg(3))
}
