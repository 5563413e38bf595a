package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		fallback   string
		wantE164   string
		wantRegion string
		wantValid  bool
	}{
		{
			name:       "us number with country code",
			raw:        "+1 650 253 0000",
			wantE164:   "+16502530000",
			wantRegion: "US",
			wantValid:  true,
		},
		{
			name:       "national format with fallback region",
			raw:        "030 123456",
			fallback:   "DE",
			wantE164:   "+4930123456",
			wantRegion: "DE",
			wantValid:  true,
		},
		{
			name:       "uk number",
			raw:        "+44 20 7946 0958",
			wantE164:   "+442079460958",
			wantRegion: "GB",
			wantValid:  true,
		},
		{
			name:      "too short to be valid",
			raw:       "+1 555 01",
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := NormalizePhone(tt.raw, tt.fallback)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, info.Valid)
			if tt.wantValid {
				assert.Equal(t, tt.wantE164, info.E164)
				assert.Equal(t, tt.wantRegion, info.Region)
			}
		})
	}
}

func TestNormalizePhone_Unparseable(t *testing.T) {
	_, err := NormalizePhone("not a phone", "")
	assert.Error(t, err)

	_, err = NormalizePhone("", "US")
	assert.Error(t, err)
}
