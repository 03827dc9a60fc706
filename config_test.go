package qpack

import (
	"testing"

	"github.com/stvp/assert"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, uint64(4096), cfg.MaxTableCapacity)
	assert.Equal(t, uint64(16), cfg.MaxBlockedStreams)
	assert.Equal(t, uint64(0), cfg.MaxHeaderListSize)
}

func TestConfigYAMLRoundTrip(t *testing.T) {
	src := `
max_table_capacity: 8192
max_blocked_streams: 32
max_header_list_size: 65536
`
	var cfg Config
	assert.Nil(t, yaml.Unmarshal([]byte(src), &cfg))
	assert.Equal(t, uint64(8192), cfg.MaxTableCapacity)
	assert.Equal(t, uint64(32), cfg.MaxBlockedStreams)
	assert.Equal(t, uint64(65536), cfg.MaxHeaderListSize)

	out, err := yaml.Marshal(cfg)
	assert.Nil(t, err)

	var roundTripped Config
	assert.Nil(t, yaml.Unmarshal(out, &roundTripped))
	assert.Equal(t, cfg, roundTripped)
}
