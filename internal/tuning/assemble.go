package tuning

import (
	"fmt"
	"strings"
)

// Arguments is an nvidia-settings argument list.
type Arguments []string

func (a Arguments) String() string {
	return strings.Join(a, " ")
}

// Assemble builds the nvidia-settings assignments for the device at runtime
// index. perfLevel selects the performance level the offsets are written to.
//
// The PowerMizer flag is gated on the clock/memory offset keys being present
// in s, not on them passing validation. Use PowerMizerQuirk to detect when that
// distinction matters.
func Assemble(index, perfLevel int, s Settings, v Validated) Arguments {
	var args Arguments
	assign := func(format string, a ...any) {
		args = append(args, "-a", fmt.Sprintf(format, a...))
	}

	if v.FanSpeed != nil {
		assign("[gpu:%d]/GPUFanControlState=1", index)
		assign("[fan:%d]/GPUTargetFanSpeed=%d", index, *v.FanSpeed)
	}
	if s.ClockOffset != nil || s.MemoryOffset != nil {
		assign("[gpu:%d]/GPUPowerMizerMode=1", index)
	}
	if v.ClockOffset != nil {
		assign("[gpu:%d]/GPUGraphicsClockOffset[%d]=%d", index, perfLevel, *v.ClockOffset)
	}
	if v.MemoryOffset != nil {
		assign("[gpu:%d]/GPUMemoryTransferRateOffset[%d]=%d", index, perfLevel, *v.MemoryOffset)
	}
	return args
}

// PowerMizerQuirk reports whether Assemble enables PowerMizer even though no
// offset passed validation.
func PowerMizerQuirk(s Settings, v Validated) bool {
	present := s.ClockOffset != nil || s.MemoryOffset != nil
	valid := v.ClockOffset != nil || v.MemoryOffset != nil
	return present && !valid
}
