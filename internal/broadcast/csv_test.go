package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectHeaders(t *testing.T) {
	assert.True(t, DetectHeaders("phone,name\n+15550000001,Ada"))
	assert.True(t, DetectHeaders("Phone Number\n+15550000001"))
	assert.False(t, DetectHeaders("+15550000001\n+15550000002"))
	assert.False(t, DetectHeaders("(555) 000-0001"))
	assert.False(t, DetectHeaders(""))
}

func TestParseCSVWithHeaders(t *testing.T) {
	csv := "phone,name,coupon\n" +
		"+15550000001,Ada,SAVE10\n" +
		"+15550000002,Grace,\n" +
		",Nobody,SAVE30\n"

	recipients, hasHeaders := ParseCSV(csv)
	assert.True(t, hasHeaders)
	require.Len(t, recipients, 2)

	assert.Equal(t, "+15550000001", recipients[0].Phone)
	assert.Equal(t, []string{"Ada", "SAVE10"}, recipients[0].Variables)
	assert.Equal(t, map[string]string{"phone": "+15550000001", "name": "Ada", "coupon": "SAVE10"}, recipients[0].RowData)

	// Empty cells do not become positional variables.
	assert.Equal(t, []string{"Grace"}, recipients[1].Variables)
	assert.Equal(t, "", recipients[1].RowData["coupon"])
}

func TestParseCSVWithoutHeaders(t *testing.T) {
	csv := "+15550000001\n\n+15550000002\n"

	recipients, hasHeaders := ParseCSV(csv)
	assert.False(t, hasHeaders)
	require.Len(t, recipients, 2)
	assert.Equal(t, "+15550000001", recipients[0].Phone)
	assert.Equal(t, "+15550000002", recipients[1].Phone)
}

func TestParseCSVQuotedCommas(t *testing.T) {
	csv := "phone,address\n" +
		"+15550000001,\"12 Main St, Springfield\"\n"

	recipients, _ := ParseCSV(csv)
	require.Len(t, recipients, 1)
	assert.Equal(t, "12 Main St, Springfield", recipients[0].RowData["address"])
}

func TestParseCSVShortRows(t *testing.T) {
	csv := "phone,name,coupon\n" +
		"+15550000001,Ada\n"

	recipients, _ := ParseCSV(csv)
	require.Len(t, recipients, 1)
	assert.Equal(t, "", recipients[0].RowData["coupon"])
	assert.Equal(t, []string{"Ada"}, recipients[0].Variables)
}

func TestParseCSVHeaderOnly(t *testing.T) {
	recipients, hasHeaders := ParseCSV("phone,name\n")
	assert.True(t, hasHeaders)
	assert.Empty(t, recipients)
}
