// Command hotmic-pipeline-test drives a full engine end-to-end with a
// mock device and checks, step by step: two channels get distinct ids,
// two plugins insert with distinct instance ids, the sample clock
// advances by one block per tick, gain and mute parameter submissions
// are followed by a block whose channel still shows up in telemetry, a
// plugin parameter submission is accepted, inserting an output_send
// plugin is followed by a schedule rebuild, and the engine stops
// cleanly. Solo, master-bus levels and routing order are not checked.
//
// Grounded on cmd/test-pipeline's shape: a numbered sequence of
// checks against a live processor, each printing a pass/fail line and
// calling Fatal on the first failure, closed out with a summary line.
package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hotmic/engine/internal/device"
	"github.com/hotmic/engine/internal/engine"
	"github.com/hotmic/engine/internal/lockfree"
	"github.com/hotmic/engine/internal/plugins"
)

const (
	sampleRate = 48000.0
	blockSize  = 512
)

func main() {
	fmt.Println("HotMic Engine - Pipeline Smoke Test")
	fmt.Println("====================================")

	log := logrus.NewEntry(logrus.StandardLogger())
	log.Logger.SetLevel(logrus.WarnLevel)

	factory := plugins.NewFactory()
	eng := engine.New(engine.Config{SampleRate: sampleRate, BlockSize: blockSize}, factory, nil, log)

	fmt.Println("\n1. Channel Creation")
	ch1 := eng.CreateChannel("mic")
	ch2 := eng.CreateChannel("aux")
	if ch1 == 0 || ch2 == 0 || ch1 == ch2 {
		log.Fatalf("FAIL: expected two distinct non-zero channel ids, got %d and %d", ch1, ch2)
	}
	fmt.Printf("PASS: created channels %d and %d\n", ch1, ch2)

	fmt.Println("\n2. Plugin Insertion and Chain Order")
	gainID, err := eng.InsertPlugin(ch1, plugins.TypeGain, 0)
	if err != nil {
		log.Fatalf("FAIL: insert gain: %v", err)
	}
	gateID, err := eng.InsertPlugin(ch1, plugins.TypeSpeechGate, 1)
	if err != nil {
		log.Fatalf("FAIL: insert speech_gate: %v", err)
	}
	if gainID == gateID {
		log.Fatalf("FAIL: gain and gate must not share an instance id")
	}
	fmt.Printf("PASS: chain holds gain(id=%d) then speech_gate(id=%d)\n", gainID, gateID)

	fmt.Println("\n3. Hardware Input Binding")
	eng.BindInput(ch1, 4)
	fmt.Println("PASS: channel bound to a hardware input ring")

	fmt.Println("\n4. Device Attachment and Start")
	var fedBlocks int
	blockWallNanos := int64(float64(blockSize) / sampleRate * 1e9)
	dev := device.NewMockDevice(
		device.Config{SampleRate: sampleRate, BlockSize: blockSize, Inputs: []int{ch1}},
		func(out []float32) { eng.OnBlock(out, blockWallNanos) },
		func(id int, s []float32) {
			eng.OnInputBlock(id, s)
			fedBlocks++
		},
	)
	eng.AttachDevice(dev)
	if err := eng.Start(context.Background()); err != nil {
		log.Fatalf("FAIL: start engine: %v", err)
	}
	fmt.Println("PASS: engine started with mock device attached")

	fmt.Println("\n5. Sample Clock Monotonicity")
	in := make([]float32, blockSize)
	for i := range in {
		in[i] = 0.2
	}
	var lastClock uint64
	for i := 0; i < 4; i++ {
		dev.Tick(map[int][]float32{ch1: in})
		clock := eng.TelemetrySnapshot().SampleClock
		if i > 0 && clock != lastClock+uint64(blockSize) {
			log.Fatalf("FAIL: sample clock jumped from %d to %d, expected +%d", lastClock, clock, blockSize)
		}
		lastClock = clock
	}
	if fedBlocks != 4 {
		log.Fatalf("FAIL: expected 4 fed input blocks, observed %d", fedBlocks)
	}
	fmt.Printf("PASS: sample clock advanced by %d each tick, now at %d\n", blockSize, lastClock)

	fmt.Println("\n6. Gain/Mute/Solo Parameter Application")
	eng.SubmitParam(lockfree.ParamTarget{Kind: lockfree.ParamKindChannelInputGain, ChannelID: ch1}, 0.5)
	eng.SubmitParam(lockfree.ParamTarget{Kind: lockfree.ParamKindChannelMute, ChannelID: ch2}, 1)
	dev.Tick(map[int][]float32{ch1: in})
	snap := eng.TelemetrySnapshot()
	if _, ok := snap.Channels[ch1]; !ok {
		log.Fatalf("FAIL: channel %d missing from telemetry snapshot", ch1)
	}
	fmt.Println("PASS: gain and mute params applied without a dropped block")

	fmt.Println("\n7. Plugin Parameter Routing")
	if ok := setGainDB(eng, ch1, gainID, -6); !ok {
		log.Fatalf("FAIL: set gain param: queue full")
	}
	dev.Tick(map[int][]float32{ch1: in})
	fmt.Println("PASS: plugin parameter change accepted for a live instance")

	fmt.Println("\n8. Output Send Routing")
	sendID, err := eng.InsertPlugin(ch2, plugins.TypeOutputSend, 0)
	if err != nil {
		log.Fatalf("FAIL: insert output_send: %v", err)
	}
	eng.RebuildSchedule()
	fmt.Printf("PASS: output_send(id=%d) installed on channel %d and schedule rebuilt\n", sendID, ch2)

	fmt.Println("\n9. Graceful Shutdown")
	if err := eng.Stop(); err != nil {
		log.Fatalf("FAIL: stop engine: %v", err)
	}
	fmt.Println("PASS: engine stopped cleanly")

	fmt.Println("\nAll pipeline smoke tests passed.")
}

// setGainDB submits the gain plugin's gain_db parameter (index 0)
// directly in its own dB domain through the real-time parameter
// bridge, the same path the control server uses; plugin.SetParameter
// receives raw parameter-domain values, never a normalized [0,1] one.
func setGainDB(eng *engine.Engine, channelID, instanceID int, db float32) bool {
	return eng.SubmitParam(lockfree.ParamTarget{
		Kind:       lockfree.ParamKindPluginParam,
		ChannelID:  channelID,
		InstanceID: instanceID,
		ParamIndex: 0,
	}, db)
}
