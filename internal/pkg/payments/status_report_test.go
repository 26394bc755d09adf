package payments

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusReport(t *testing.T) {
	report := strings.Join([]string{
		"Subscription Detail Report",
		"Generated,2024-05-10",
		"Merchant,perma",
		"",
		"Merchant Reference Code,Status,Amount",
		"ref1,SUPERSEDED,10.00",
		"ref2,sUpErSeDeD,10.00",
		",CURRENT,1.00",
	}, "\n")

	rows, err := ParseStatusReport(strings.NewReader(report))
	require.NoError(t, err)
	assert.Equal(t, []StatusUpdate{
		{ReferenceNumber: "ref1", Status: "Superseded"},
		{ReferenceNumber: "ref2", Status: "Superseded"},
	}, rows)
}

func TestParseStatusReportWithoutHeader(t *testing.T) {
	_, err := ParseStatusReport(strings.NewReader("ref1,Current\n"))
	assert.ErrorIs(t, err, ErrMalformedStatusReport)
}

func TestParseStatusReportWithoutStatusColumn(t *testing.T) {
	_, err := ParseStatusReport(strings.NewReader("Merchant Reference Code,Amount\nref1,1.00\n"))
	assert.ErrorIs(t, err, ErrMalformedStatusReport)
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, "Canceled", NormalizeStatus(" CANCELED "))
	assert.Equal(t, "Hold", NormalizeStatus("hold"))
	assert.Equal(t, "", NormalizeStatus(""))
}
