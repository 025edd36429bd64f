package compressor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTargetSize(t *testing.T) {
	tests := []struct {
		spec    string
		want    int64
		wantErr bool
	}{
		{spec: "500KB", want: 512000},
		{spec: "500kb", want: 512000},
		{spec: "2MB", want: 2 * 1024 * 1024},
		{spec: "1mB", want: 1024 * 1024},
		{spec: "10KB", want: 10240},
		{spec: " 500KB", wantErr: true},
		{spec: "500KB ", wantErr: true},
		{spec: "500KB\n", wantErr: true},
		{spec: "500MBX", wantErr: true},
		{spec: "500", wantErr: true},
		{spec: "1.5MB", wantErr: true},
		{spec: "-5KB", wantErr: true},
		{spec: "0KB", wantErr: true},
		{spec: "KB", wantErr: true},
		{spec: "1GB", wantErr: true},
		{spec: "99999999999999999999MB", wantErr: true},
		{spec: "9999999999999999MB", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseTargetSize(tt.spec)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTargetSize)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetFromPercent(t *testing.T) {
	got, err := TargetFromPercent(2000000, 25)
	require.NoError(t, err)
	assert.Equal(t, int64(500000), got)

	_, err = TargetFromPercent(2000000, 0)
	assert.ErrorIs(t, err, ErrInvalidTargetSize)
	_, err = TargetFromPercent(2000000, 150)
	assert.ErrorIs(t, err, ErrInvalidTargetSize)
	_, err = TargetFromPercent(10, 1)
	assert.ErrorIs(t, err, ErrInvalidTargetSize)
}
