package maplebus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceInfo(t *testing.T) {
	info := DeviceInfo{
		Functions:   FuncStorage | FuncScreen | FuncTimer,
		Definitions: [MaxFunctions]uint32{0x7e7e3f40, 0x00051000, 0x000f4100},
		Region:      0xff,
		ProductName: "Visual Memory",
		License:     "Produced By or Under License From SEGA ENTERPRISES,LTD.",
		StandbyMW:   0x007c,
		MaxMW:       0x0082,
	}

	payload := info.Payload()
	require.Len(t, payload, DeviceInfoWords)

	got, err := ParseDeviceInfo(payload)
	require.NoError(t, err)
	assert.Equal(t, info, got)

	def, ok := got.Definition(FuncTimer)
	assert.True(t, ok)
	assert.Equal(t, uint32(0x000f4100), def)

	def, ok = got.Definition(FuncStorage)
	assert.True(t, ok)
	assert.Equal(t, uint32(0x7e7e3f40), def)

	_, ok = got.Definition(FuncController)
	assert.False(t, ok)
}

func TestDeviceInfoShort(t *testing.T) {
	info, err := ParseDeviceInfo([]uint32{uint32(FuncController)})
	require.NoError(t, err)
	assert.Equal(t, FuncController, info.Functions)
	assert.Empty(t, info.ProductName)

	_, err = ParseDeviceInfo(nil)
	assert.ErrorIs(t, err, ErrDeviceInfo)
}

func TestFunctionCode(t *testing.T) {
	assert.Equal(t, "Controller", FuncController.String())
	assert.Equal(t, "Storage + Screen + Timer", (FuncStorage | FuncScreen | FuncTimer).String())
	assert.Equal(t, "Vibration + Unknown", (FuncVibration | 1<<20).String())

	var order []FunctionCode
	(FuncController | FuncVibration | FuncStorage).Each(func(f FunctionCode) {
		order = append(order, f)
	})
	assert.Equal(t, []FunctionCode{FuncVibration, FuncStorage, FuncController}, order)
}

func TestAddress(t *testing.T) {
	tests := map[string]struct {
		addr     Address
		player   uint8
		main     bool
		subIndex int
		presence uint8
	}{
		"host":       {HostAddress(3), 3, false, -1, 0},
		"main":       {NewAddress(0, MainMask), 0, true, -1, 0},
		"mainSubs":   {NewAddress(1, MainMask|0x05), 1, true, -1, 0x05},
		"firstSub":   {NewAddress(2, SubMasks[0]), 2, false, 0, 0x01},
		"lastSub":    {NewAddress(2, SubMasks[4]), 2, false, 4, 0x10},
		"ambiguous":  {NewAddress(0, 0x03), 0, false, -1, 0x03},
		"rawAddress": {Address(0x62), 1, true, -1, 0x02},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.player, tc.addr.Player())
			assert.Equal(t, tc.main, tc.addr.IsMain())
			assert.Equal(t, tc.subIndex, tc.addr.SubIndex())
			assert.Equal(t, tc.presence, tc.addr.SubPresence())
		})
	}
}

func TestDurationUs(t *testing.T) {
	// frame + crc only: 5 bytes, 40 bits
	assert.Equal(t, uint32((40*NsPerBit+SequenceNs+999)/1000), DurationUs(0, false, 0))
	assert.Greater(t, DurationUs(0, true, DeviceInfoWords), DurationUs(0, false, 0)+ResponseDelayUs)
	assert.Greater(t, DurationUs(MaxPayload, false, 0), DurationUs(3, false, 0))
}
