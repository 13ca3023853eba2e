package ledger

import (
	"testing"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSplit(t *testing.T) {
	tests := []struct {
		name           string
		gross          int64
		rate           string
		wantCommission int64
		wantNet        int64
	}{
		{"fifteen percent", 1000, "0.15", 150, 850},
		{"ten percent", 2500, "0.10", 250, 2250},
		{"half rounds up", 5, "0.10", 1, 4},
		{"one and a half rounds up", 15, "0.10", 2, 13},
		{"below half rounds down", 14, "0.10", 1, 13},
		{"zero rate", 999, "0", 0, 999},
		{"full rate", 999, "1", 999, 0},
		{"tiny gross", 1, "0.15", 0, 1},
		{"zero gross", 0, "0.15", 0, 0},
		{"fractional rate", 3333, "0.075", 250, 3083},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split, err := ComputeSplit(tt.gross, decimal.RequireFromString(tt.rate))
			require.NoError(t, err)
			assert.Equal(t, tt.gross, split.Gross)
			assert.Equal(t, tt.wantCommission, split.Commission)
			assert.Equal(t, tt.wantNet, split.Net)
			assert.Equal(t, split.Gross, split.Commission+split.Net)
		})
	}
}

func TestComputeSplit_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		gross    int64
		rate     string
		wantCode string
	}{
		{"negative rate", 1000, "-0.01", domain.CodeInvalidCommission},
		{"rate above one", 1000, "1.01", domain.CodeInvalidCommission},
		{"negative gross", -1, "0.1", domain.CodeInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeSplit(tt.gross, decimal.RequireFromString(tt.rate))
			require.Error(t, err)
			assert.True(t, domain.HasCode(err, tt.wantCode), err)
		})
	}
}
