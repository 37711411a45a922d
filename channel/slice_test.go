package channel

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSliceConstructorReassemblesInOrder(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, SliceSize*2+400)
	slices := splitSlices(payload)
	require.Len(t, slices, 3)
	require.Len(t, slices[0], SliceSize)
	require.Len(t, slices[1], SliceSize)
	require.Len(t, slices[2], 400)

	sc := newSliceConstructor(1, uint16(len(slices)))
	var assembled []byte
	for i, s := range slices {
		out, err := sc.addSlice(0, uint16(i), uint16(len(slices)), s)
		require.NoError(t, err)
		if out != nil {
			assembled = out
		}
	}
	require.Equal(t, payload, assembled)
}

func TestSliceConstructorReassemblesOutOfOrder(t *testing.T) {
	payload := bytes.Repeat([]byte{0x01}, SliceSize+50)
	slices := splitSlices(payload)
	sc := newSliceConstructor(2, uint16(len(slices)))

	out, err := sc.addSlice(0, 1, uint16(len(slices)), slices[1])
	require.NoError(t, err)
	require.Nil(t, out)

	out, err = sc.addSlice(0, 0, uint16(len(slices)), slices[0])
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestSliceConstructorRejectsBadNonFinalSize(t *testing.T) {
	sc := newSliceConstructor(3, 2)
	_, err := sc.addSlice(0, 0, 2, make([]byte, SliceSize-1))
	require.Error(t, err)
	fatal, ok := err.(*FatalError)
	require.True(t, ok)
	require.EqualValues(t, 0, fatal.ChannelID)
}

func TestSliceConstructorRejectsOversizedFinalSlice(t *testing.T) {
	sc := newSliceConstructor(4, 1)
	_, err := sc.addSlice(0, 0, 1, make([]byte, SliceSize+1))
	require.Error(t, err)
}

func TestSliceConstructorRejectsNumSlicesZero(t *testing.T) {
	sc := newSliceConstructor(5, 1)
	_, err := sc.addSlice(0, 0, 0, []byte("x"))
	require.Error(t, err)
}

func TestSliceConstructorRejectsIndexOutOfRange(t *testing.T) {
	sc := newSliceConstructor(6, 2)
	_, err := sc.addSlice(0, 5, 2, make([]byte, 10))
	require.Error(t, err)
}
