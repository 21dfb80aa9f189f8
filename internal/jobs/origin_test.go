package jobs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyOrigin_ExternalApplyKnownProvider(t *testing.T) {
	t.Parallel()

	require.Equal(t, OriginATS, ClassifyOrigin(true, ProviderGreenhouse))
	require.Equal(t, OriginATS, ClassifyOrigin(true, ProviderWorkday))
}

func TestClassifyOrigin_NoApplyURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, OriginNative, ClassifyOrigin(false, ProviderGreenhouse))
	require.Equal(t, OriginNative, ClassifyOrigin(false, ProviderUnknown))
}

func TestClassifyOrigin_ExternalApplyUnknownProvider(t *testing.T) {
	t.Parallel()

	require.Equal(t, OriginNative, ClassifyOrigin(true, ProviderUnknown))
	require.Equal(t, OriginNative, ClassifyOrigin(true, Provider("")))
}

func TestClassifyOrigin_Deterministic(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		external bool
		provider Provider
		want     Origin
	}{
		{"ats via lever", true, ProviderLever, OriginATS},
		{"detected but hosted inline", false, ProviderLever, OriginNative},
		{"external without detection", true, ProviderUnknown, OriginNative},
		{"nothing known", false, ProviderUnknown, OriginNative},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			for i := 0; i < 3; i++ {
				require.Equal(t, tc.want, ClassifyOrigin(tc.external, tc.provider))
			}
		})
	}
}
