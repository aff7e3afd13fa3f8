package param

import (
	"testing"

	"github.com/hotmic/engine/internal/lockfree"
	"github.com/stretchr/testify/assert"
)

func TestParseChannelGainAndToggles(t *testing.T) {
	target, err := Parse("channel3.input_gain")
	assert.NoError(t, err)
	assert.Equal(t, lockfree.ParamTarget{Kind: lockfree.ParamKindChannelInputGain, ChannelID: 3}, target)

	target, err = Parse("CHANNEL3.OUTPUT_GAIN")
	assert.NoError(t, err)
	assert.Equal(t, lockfree.ParamTarget{Kind: lockfree.ParamKindChannelOutputGain, ChannelID: 3}, target)

	target, err = Parse("channel3:mute")
	assert.NoError(t, err)
	assert.Equal(t, lockfree.ParamKindChannelMute, target.Kind)

	target, err = Parse("channel3.solo")
	assert.NoError(t, err)
	assert.Equal(t, lockfree.ParamKindChannelSolo, target.Kind)
}

func TestParsePluginParam(t *testing.T) {
	target, err := Parse("channel2.plugin.7.1")
	assert.NoError(t, err)
	assert.Equal(t, lockfree.ParamTarget{
		Kind:       lockfree.ParamKindPluginParam,
		ChannelID:  2,
		InstanceID: 7,
		ParamIndex: 1,
	}, target)
}

func TestParseContainerBypass(t *testing.T) {
	target, err := Parse("channel1.container.4.bypass")
	assert.NoError(t, err)
	assert.Equal(t, lockfree.ParamTarget{
		Kind:        lockfree.ParamKindContainerBypass,
		ChannelID:   1,
		ContainerID: 4,
	}, target)
}

func TestParseMaster(t *testing.T) {
	target, err := Parse("master.mute")
	assert.NoError(t, err)
	assert.Equal(t, lockfree.ParamKindMasterMute, target.Kind)

	target, err = Parse("master.stereo")
	assert.NoError(t, err)
	assert.Equal(t, lockfree.ParamKindMasterStereo, target.Kind)
}

func TestParseInvalidPaths(t *testing.T) {
	cases := []string{
		"",
		"channel.input_gain",
		"channelX.input_gain",
		"channel1.unknown",
		"channel1.plugin.abc.1",
		"channel1.container.4.notbypass",
		"bogus.mute",
		"master.unknown",
	}
	for _, c := range cases {
		_, err := Parse(c)
		assert.ErrorIs(t, err, ErrInvalidPath, "path %q should be invalid", c)
	}
}
