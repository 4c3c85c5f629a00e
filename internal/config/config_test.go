package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.GreaterOrEqual(t, c.MaxPendingTransactions, minDefaultCapacity)
	assert.LessOrEqual(t, c.MaxPendingTransactions, maxDefaultCapacity)
}

func TestBindFlagsOverridesDefault(t *testing.T) {
	c := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, &c)
	require.NoError(t, fs.Parse([]string{"--bank-tile-count=8", "--vote-fraction=0.5"}))
	assert.Equal(t, 8, c.BankTileCount)
	assert.Equal(t, 0.5, c.VoteFraction)
}

func TestValidateRejectsOutOfRangeBankTileCount(t *testing.T) {
	c := Default()
	c.BankTileCount = 0
	assert.Error(t, c.Validate())
	c.BankTileCount = 17
	assert.Error(t, c.Validate())
}

func TestValidateRejectsBadVoteFraction(t *testing.T) {
	c := Default()
	c.VoteFraction = 1.5
	assert.Error(t, c.Validate())
}
