// Package param implements the parameter target path grammar (spec
// §6 "Parameter target paths"): a small, closed, case-insensitive
// grammar that resolves once, on the UI thread, into a
// lockfree.ParamTarget handle the audio thread can dispatch on without
// ever parsing a string itself (spec §9 "Parameter paths").
//
// Grounded on pkg/transcriber's registry-by-name lookup pattern
// (resolve a string identifier to a concrete handler once, at
// construction, not per call) and on bot's SSRC/channel id parsing
// conventions.
package param

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hotmic/engine/internal/lockfree"
)

// ErrInvalidPath is returned for any path outside the closed grammar
// (spec §6: "Invalid paths are dropped").
var ErrInvalidPath = fmt.Errorf("param: invalid target path")

// Parse resolves path into a ParamTarget, or ErrInvalidPath if it does
// not match the closed grammar. Separators may be '.' or ':'
// interchangeably, matching is case-insensitive (spec §6).
//
// Grammar:
//
//	channel{N}.input_gain | output_gain | mute | solo
//	channel{N}.plugin.{instance_id}.{param_index}
//	channel{N}.container.{container_id}.bypass
//	master.mute | master.stereo
func Parse(path string) (lockfree.ParamTarget, error) {
	norm := strings.ToLower(strings.NewReplacer(":", ".").Replace(path))
	parts := strings.Split(norm, ".")
	if len(parts) == 0 {
		return lockfree.ParamTarget{}, ErrInvalidPath
	}

	if parts[0] == "master" {
		return parseMaster(parts)
	}
	if strings.HasPrefix(parts[0], "channel") {
		return parseChannel(parts)
	}
	return lockfree.ParamTarget{}, ErrInvalidPath
}

func parseMaster(parts []string) (lockfree.ParamTarget, error) {
	if len(parts) != 2 {
		return lockfree.ParamTarget{}, ErrInvalidPath
	}
	switch parts[1] {
	case "mute":
		return lockfree.ParamTarget{Kind: lockfree.ParamKindMasterMute}, nil
	case "stereo":
		return lockfree.ParamTarget{Kind: lockfree.ParamKindMasterStereo}, nil
	default:
		return lockfree.ParamTarget{}, ErrInvalidPath
	}
}

func parseChannel(parts []string) (lockfree.ParamTarget, error) {
	channelID, err := strconv.Atoi(strings.TrimPrefix(parts[0], "channel"))
	if err != nil {
		return lockfree.ParamTarget{}, ErrInvalidPath
	}

	switch len(parts) {
	case 2:
		switch parts[1] {
		case "input_gain":
			return lockfree.ParamTarget{Kind: lockfree.ParamKindChannelInputGain, ChannelID: channelID}, nil
		case "output_gain":
			return lockfree.ParamTarget{Kind: lockfree.ParamKindChannelOutputGain, ChannelID: channelID}, nil
		case "mute":
			return lockfree.ParamTarget{Kind: lockfree.ParamKindChannelMute, ChannelID: channelID}, nil
		case "solo":
			return lockfree.ParamTarget{Kind: lockfree.ParamKindChannelSolo, ChannelID: channelID}, nil
		}
		return lockfree.ParamTarget{}, ErrInvalidPath

	case 4:
		switch parts[1] {
		case "plugin":
			instanceID, err1 := strconv.Atoi(parts[2])
			paramIndex, err2 := strconv.Atoi(parts[3])
			if err1 != nil || err2 != nil {
				return lockfree.ParamTarget{}, ErrInvalidPath
			}
			return lockfree.ParamTarget{
				Kind:       lockfree.ParamKindPluginParam,
				ChannelID:  channelID,
				InstanceID: instanceID,
				ParamIndex: paramIndex,
			}, nil
		case "container":
			containerID, err1 := strconv.Atoi(parts[2])
			if err1 != nil || parts[3] != "bypass" {
				return lockfree.ParamTarget{}, ErrInvalidPath
			}
			return lockfree.ParamTarget{
				Kind:        lockfree.ParamKindContainerBypass,
				ChannelID:   channelID,
				ContainerID: containerID,
			}, nil
		}
		return lockfree.ParamTarget{}, ErrInvalidPath

	default:
		return lockfree.ParamTarget{}, ErrInvalidPath
	}
}
