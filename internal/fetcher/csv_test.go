package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV_Basic(t *testing.T) {
	input := "Metric,FY2023,FY2024\nTotal Revenue,100,120\nPAT,20,25\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Metric", "FY2023", "FY2024"}, rows[0])
	assert.Equal(t, []string{"PAT", "20", "25"}, rows[2])
}

func TestReadCSV_RaggedRows(t *testing.T) {
	input := "Metric,FY2023,FY2024\nPAT,20\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"PAT", "20"}, rows[1])
}

func TestReadCSV_TrimSpaceAndComment(t *testing.T) {
	input := "# exported\nMetric ; FY2024 \n PAT ; 20\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: ';',
		Comment:   '#',
		TrimSpace: true,
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Metric", "FY2024"}, {"PAT", "20"}}, rows)
}

func TestReadCSV_StripsBOMAndBlankRows(t *testing.T) {
	input := "\ufeffMetric,FY2024\n,,\nPAT,20\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Metric", "FY2024"}, {"PAT", "20"}}, rows)
}

func TestReadCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ReadCSV(ctx, strings.NewReader("a,b\n"), CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}

func TestReadCSV_BadQuote(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("a,\"b\nc"), CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")
}
