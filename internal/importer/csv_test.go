package importer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

func TestReadHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{name: "any order and case", src: "Description,SKU,NAME\n"},
		{name: "byte order mark", src: "\ufeffname,sku,description\r\n"},
		{name: "empty", src: "", wantErr: "CSV file is missing a header row."},
		{name: "blank header", src: ",,\n", wantErr: "CSV file is missing a header row."},
		{name: "missing one", src: "name,sku\n", wantErr: "CSV missing required columns: description"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ReadHeader(strings.NewReader(tt.src))
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestCountRows(t *testing.T) {
	t.Parallel()

	n, err := CountRows(context.Background(), strings.NewReader(tenRowsTwoBad))
	require.NoError(t, err)
	require.Equal(t, int64(10), n)

	n, err = CountRows(context.Background(), strings.NewReader("name,sku,description\n"))
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = CountRows(context.Background(), strings.NewReader("title\n"))
	require.ErrorIs(t, err, pipeline.ErrInvalidSource)
}
