package netctrl

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Constants fixed by the protocol, not persisted per-instance.
const (
	MinSnapshotsSize                 = 2
	MaxAdditionalTickSpeed           = 2.0
	TickSpeedChangeNotifThreshold    = 4
	MaxSnapshotsPerPacket            = 254
)

// Config holds the controller-scope, persisted configuration parameters. All
// fields are required; out-of-range values are rejected at set time and the
// field keeps its previous value, per spec.md §7 "Configuration out of
// range".
type Config struct {
	// MasterSnapshotStorageSize is the master ring capacity. Domain: 100..2000.
	MasterSnapshotStorageSize int `env:"NETCTRL_MASTER_SNAPSHOT_STORAGE_SIZE=500"`

	// NetworkTracedFrames is the NetworkTracer window size. Domain: 100..10000.
	NetworkTracedFrames int `env:"NETCTRL_NETWORK_TRACED_FRAMES=1000"`

	// MaxRedundantInputs: +1 equals snapshots carried per outbound packet.
	// Domain: 0..254.
	MaxRedundantInputs int `env:"NETCTRL_MAX_REDUNDANT_INPUTS=3"`

	// ServerSnapshotStorageSize bounds the target queue depth. Domain: 10..100.
	ServerSnapshotStorageSize int `env:"NETCTRL_SERVER_SNAPSHOT_STORAGE_SIZE=30"`

	// OptimalSizeAcceleration is the depth control gain. Domain: 0.1..20.0.
	OptimalSizeAcceleration float64 `env:"NETCTRL_OPTIMAL_SIZE_ACCELERATION=1.0"`

	// MissingSnapshotsMaxTolerance normalises the depth control loop. Domain: 3..50.
	MissingSnapshotsMaxTolerance int `env:"NETCTRL_MISSING_SNAPSHOTS_MAX_TOLERANCE=10"`

	// TickAcceleration is the speed control gain. Domain: 0.1..20.0.
	TickAcceleration float64 `env:"NETCTRL_TICK_ACCELERATION=1.0"`

	// StateNotifyInterval is the auth-state broadcast period in seconds.
	// Domain: 0.0001..10.0.
	StateNotifyInterval float64 `env:"NETCTRL_STATE_NOTIFY_INTERVAL=0.1"`

	// IterationsPerSecond is the master's nominal physics tick rate, used by
	// the sub-tick pacing loop of spec.md §4.5.
	IterationsPerSecond float64 `env:"NETCTRL_ITERATIONS_PER_SECOND=60"`

	// ProtocolVersion is a semver string. Validate checks that it is valid
	// semver, and CompatibleWith compares it against a peer's advertised
	// version; the controller constructors do not look at it.
	ProtocolVersion string `env:"NETCTRL_PROTOCOL_VERSION=v1.0.0"`
}

// DefaultConfig returns a Config with every field set to its documented
// semantic default.
func DefaultConfig() Config {
	var c Config
	_ = c.UnmarshalEnv(nil, false)
	return c
}

// Validate checks every field against its documented domain. It returns the
// first violation found, wrapped in ErrConfigOutOfRange.
func (c *Config) Validate() error {
	type bound struct {
		name     string
		val      float64
		min, max float64
	}
	bounds := []bound{
		{"MasterSnapshotStorageSize", float64(c.MasterSnapshotStorageSize), 100, 2000},
		{"NetworkTracedFrames", float64(c.NetworkTracedFrames), 100, 10000},
		{"MaxRedundantInputs", float64(c.MaxRedundantInputs), 0, 254},
		{"ServerSnapshotStorageSize", float64(c.ServerSnapshotStorageSize), 10, 100},
		{"OptimalSizeAcceleration", c.OptimalSizeAcceleration, 0.1, 20.0},
		{"MissingSnapshotsMaxTolerance", float64(c.MissingSnapshotsMaxTolerance), 3, 50},
		{"TickAcceleration", c.TickAcceleration, 0.1, 20.0},
		{"StateNotifyInterval", c.StateNotifyInterval, 0.0001, 10.0},
		{"IterationsPerSecond", c.IterationsPerSecond, 1, 1000},
	}
	for _, b := range bounds {
		if b.val < b.min || b.val > b.max {
			return fmt.Errorf("%w: %s=%v outside [%v,%v]", ErrConfigOutOfRange, b.name, b.val, b.min, b.max)
		}
	}
	if c.ProtocolVersion != "" && !semver.IsValid(c.ProtocolVersion) {
		return fmt.Errorf("%w: ProtocolVersion %q is not valid semver", ErrConfigOutOfRange, c.ProtocolVersion)
	}
	return nil
}

// CompatibleWith reports whether peerVersion (semver) is compatible with
// c.ProtocolVersion: the major versions must match and the peer's full
// version must be at or above ours, as the teacher's launcher-version gate
// accepts anything at or above a floor.
func (c *Config) CompatibleWith(peerVersion string) bool {
	if !semver.IsValid(peerVersion) || !semver.IsValid(c.ProtocolVersion) {
		return false
	}
	return semver.Major(peerVersion) == semver.Major(c.ProtocolVersion) &&
		semver.Compare(peerVersion, c.ProtocolVersion) >= 0
}

// UnmarshalEnv unmarshals an array of environment variables into c, applying
// defaults for missing entries unless incremental is true, following
// pkg/atlas.Config's reflection-driven pattern. Values that parse but fail
// Validate are rejected and the field retains its prior value.
func (c *Config) UnmarshalEnv(es []string, incremental bool) error {
	em := map[string]string{}
	for _, e := range es {
		if strings.HasPrefix(e, "NETCTRL_") {
			if k, v, ok := strings.Cut(e, "="); ok {
				em[k] = v
			}
		}
	}

	before := *c
	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}
		key, val, _ := strings.Cut(env, "=")
		if v, exists := em[key]; exists {
			val = v
			delete(em, key)
		} else if incremental {
			continue
		}

		cvf := cv.FieldByName(ctf.Name)
		switch cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case int:
			v, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
			cvf.SetInt(v)
		case float64:
			v, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
			cvf.SetFloat(v)
		default:
			return fmt.Errorf("env %s: unhandled type %T", key, cvf.Interface())
		}
	}
	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}

	if err := c.Validate(); err != nil {
		*c = before
		return err
	}
	return nil
}
