package nacos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerConfigs(t *testing.T) {
	cfgs, err := ParseServerConfigs("10.0.0.1:8848, 10.0.0.2:8849")
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, "10.0.0.2", cfgs[1].IpAddr)
	assert.Equal(t, uint64(8849), cfgs[1].Port)
}

func TestParseServerConfigsRejectsBadInput(t *testing.T) {
	_, err := ParseServerConfigs("localhost")
	assert.Error(t, err)
	_, err = ParseServerConfigs("localhost:abc")
	assert.Error(t, err)
	_, err = ParseServerConfigs("")
	assert.Error(t, err)
}
