package tuning

import "fmt"

// Setting names a tunable value. The names double as configuration keys.
type Setting string

const (
	FanSpeed     Setting = "fan_speed"
	PowerLimit   Setting = "power"
	ClockOffset  Setting = "clock_offset"
	MemoryOffset Setting = "memory_offset"
)

// Range is a closed interval [Min, Max].
type Range struct {
	Min int
	Max int
}

func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.Min, r.Max)
}

// Fixed ranges. The power limit range is device specific and queried at
// runtime.
var (
	FanSpeedRange     = Range{Min: 0, Max: 100}
	ClockOffsetRange  = Range{Min: -200, Max: 1200}
	MemoryOffsetRange = Range{Min: -2000, Max: 2000}
)

// Validate reports whether v is present and inside r. Values outside r are
// rejected, never clamped.
func Validate(v *int, r Range) (int, bool) {
	if v == nil || !r.Contains(*v) {
		return 0, false
	}
	return *v, true
}

// Settings is the desired state for one device. A nil field means the key was
// not present in the configuration.
type Settings struct {
	PowerLimit   *int `yaml:"power"`
	FanSpeed     *int `yaml:"fan_speed"`
	ClockOffset  *int `yaml:"clock_offset"`
	MemoryOffset *int `yaml:"memory_offset"`
}

// Rejection describes a present setting that will not be applied.
type Rejection struct {
	Setting Setting
	Value   int
	// Range is nil when the device does not support the setting at all.
	Range *Range
}

func (r Rejection) Reason() string {
	if r.Range == nil {
		return "unsupported by device"
	}
	return "outside " + r.Range.String()
}

func (r Rejection) String() string {
	return fmt.Sprintf("%s=%d %s", r.Setting, r.Value, r.Reason())
}

// Validated holds the settings that passed their range check.
type Validated struct {
	PowerLimit   *int
	FanSpeed     *int
	ClockOffset  *int
	MemoryOffset *int

	Rejected []Rejection
}

// Empty reports whether nothing at all will be applied.
func (v Validated) Empty() bool {
	return v.PowerLimit == nil && v.FanSpeed == nil && v.ClockOffset == nil && v.MemoryOffset == nil
}

// Validate checks every present setting. power is the device's queried power
// limit range; nil means the query failed or the device reported the limit as
// unsupported, in which case any requested power limit is rejected.
func (s Settings) Validate(power *Range) Validated {
	var out Validated

	check := func(name Setting, v *int, r *Range) *int {
		if v == nil {
			return nil
		}
		if r == nil {
			out.Rejected = append(out.Rejected, Rejection{Setting: name, Value: *v})
			return nil
		}
		ok, valid := Validate(v, *r)
		if !valid {
			rr := *r
			out.Rejected = append(out.Rejected, Rejection{Setting: name, Value: *v, Range: &rr})
			return nil
		}
		return &ok
	}

	out.PowerLimit = check(PowerLimit, s.PowerLimit, power)
	out.FanSpeed = check(FanSpeed, s.FanSpeed, &FanSpeedRange)
	out.ClockOffset = check(ClockOffset, s.ClockOffset, &ClockOffsetRange)
	out.MemoryOffset = check(MemoryOffset, s.MemoryOffset, &MemoryOffsetRange)
	return out
}

// Int returns a pointer to v. Handy for building Settings literals.
func Int(v int) *int {
	return &v
}
