package provider

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveMunicipality_ByCode(t *testing.T) {
	muni, err := ResolveMunicipality("lcpw")
	require.NoError(t, err)
	assert.Equal(t, "Lake County Illinois Public Works", muni.Name)
	assert.Equal(t, "America/Chicago", muni.Timezone)
}

func TestResolveMunicipality_ByName(t *testing.T) {
	muni, err := ResolveMunicipality("City Of Bismarck Public Works")
	require.NoError(t, err)
	assert.Equal(t, "bism", muni.Code)
}

func TestResolveMunicipality_CaseInsensitive(t *testing.T) {
	for _, name := range []string{"LCPW", "Lcpw", "lake county illinois public works"} {
		muni, err := ResolveMunicipality(name)
		require.NoError(t, err, "resolving %q", name)
		assert.Equal(t, "lcpw", muni.Code)
	}
}

func TestResolveMunicipality_NotFound(t *testing.T) {
	_, err := ResolveMunicipality("atlantis")

	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "atlantis", nfe.Name)
}

func TestMunicipalityNames_Sorted(t *testing.T) {
	names := MunicipalityNames()
	require.NotEmpty(t, names)
	assert.True(t, sort.StringsAreSorted(names))

	// Every listed name must resolve back to its municipality.
	for _, name := range names {
		_, err := ResolveMunicipality(name)
		assert.NoError(t, err)
	}
}

func TestMunicipality_Location(t *testing.T) {
	muni, err := ResolveMunicipality("lcpw")
	require.NoError(t, err)
	assert.Equal(t, "America/Chicago", muni.Location().String())
}
