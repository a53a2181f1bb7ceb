package survey

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ess = `idno,cntry,region,inwds,questcmp,inwyys,inwmms,inwdds
1,AT,AT13,2019-01-05 14:30:00,,,,
2,AT,AT13,,2019-01-06T10:00:00,,,
3,GB,UKI,,,2019,2,1
4,GB,UKI,,,2019.0,2.0,3.0
5,GB,UKI,,,9999,99,99
6,GB,,2019-01-05 10:00:00,,,,
7,AT,AT13,,,,,
8,AT,AT13,garbage,,2019,1,7
`

func TestInterviews(t *testing.T) {
	s, err := Read(strings.NewReader(ess), "ESS9")
	require.NoError(t, err)
	assert.Len(t, s.Rows, 8)

	interviews, dropped := s.Interviews()
	assert.Equal(t, 3, dropped, "refusal codes, missing region and no date")
	assert.Equal(t, []Interview{
		{Row: 0, Region: "AT13", Date: civil.Date{Year: 2019, Month: 1, Day: 5}},
		{Row: 1, Region: "AT13", Date: civil.Date{Year: 2019, Month: 1, Day: 6}},
		{Row: 2, Region: "UKI", Date: civil.Date{Year: 2019, Month: 2, Day: 1}},
		{Row: 3, Region: "UKI", Date: civil.Date{Year: 2019, Month: 2, Day: 3}},
		{Row: 7, Region: "AT13", Date: civil.Date{Year: 2019, Month: 1, Day: 7}},
	}, interviews)
}

func TestInterviewDate_PrefersInwds(t *testing.T) {
	s, err := Read(strings.NewReader("region,inwds,questcmp\nAT13,2019-01-05,2019-01-09\n"), "x")
	require.NoError(t, err)
	d, ok := s.InterviewDate(s.Rows[0])
	require.True(t, ok)
	assert.Equal(t, civil.Date{Year: 2019, Month: 1, Day: 5}, d)
}

func TestRead_Errors(t *testing.T) {
	_, err := Read(strings.NewReader("idno,cntry\n1,AT\n"), "x")
	assert.ErrorContains(t, err, "no region column")

	_, err = Read(strings.NewReader("region,a,a\nAT13,1,2\n"), "x")
	assert.ErrorContains(t, err, "appears twice")

	_, err = Read(strings.NewReader("region,a\nAT13,1,2\n"), "x")
	assert.Error(t, err, "ragged rows")
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ESS10.csv")
	require.NoError(t, os.WriteFile(path, []byte("region\nAT13\n"), 0644))

	s, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ESS10", s.Name)
	i, ok := s.Column(RegionColumn)
	assert.True(t, ok)
	assert.Equal(t, 0, i)
}
