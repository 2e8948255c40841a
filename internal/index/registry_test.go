package index

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_NewDefaultRegistryResolvesAllAlgos(t *testing.T) {
	r := NewDefaultRegistry()

	for _, algo := range []Algo{AlgoDctImage, AlgoColor, AlgoVideo} {
		idx, err := r.New(algo)
		require.NoError(t, err)
		require.Equal(t, algo, idx.ID())
		require.False(t, idx.IsLoaded())
	}
}

func TestRegistry_NewUnknownAlgoErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.New(AlgoDctImage)
	require.Error(t, err)
}

func TestRegistry_RegisterPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	r.Register(AlgoDctImage, func() Index { return NewDctImageIndex(DefaultPartitionBits) })

	require.Panics(t, func() {
		r.Register(AlgoDctImage, func() Index { return NewDctImageIndex(DefaultPartitionBits) })
	})
}

func TestAlgo_String(t *testing.T) {
	require.Equal(t, "dct-image", AlgoDctImage.String())
	require.Equal(t, "color", AlgoColor.String())
	require.Equal(t, "video", AlgoVideo.String())
}
