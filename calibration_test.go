package pickplace

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func TestMotorCalibrationRadians(t *testing.T) {
	c := MotorCalibration{ID: 1, RangeMin: 1000, RangeMax: 3000}

	assert.Equal(t, 0.0, c.Normalize(2000))
	assert.InDelta(t, math.Pi/2, c.Normalize(3024), 1e-12)
	assert.Equal(t, 2000, c.Denormalize(0))
	assert.Equal(t, 3000, c.Denormalize(math.Pi), "clamped to the range")
	assert.Equal(t, 1000, c.Denormalize(-math.Pi))

	for _, v := range []float64{-1, -0.25, 0, 0.4, 1.1} {
		assert.InDelta(t, v, c.Normalize(c.Denormalize(v)), 2*math.Pi/servoResolution)
	}

	inverted := c
	inverted.DriveMode = 1
	assert.InDelta(t, -math.Pi/2, inverted.Normalize(3024), 1e-12)
	assert.Equal(t, 1488, inverted.Denormalize(math.Pi/4))
}

func TestMotorCalibrationUnit(t *testing.T) {
	c := MotorCalibration{ID: 5, RangeMin: 2000, RangeMax: 3000, NormMode: NormModeUnit}

	assert.Equal(t, 0.0, c.Normalize(2000))
	assert.Equal(t, 0.5, c.Normalize(2500))
	assert.Equal(t, 1.0, c.Normalize(3500), "clamped")
	assert.Equal(t, 2250, c.Denormalize(0.25))
	assert.Equal(t, 3000, c.Denormalize(2))

	inverted := c
	inverted.DriveMode = 1
	assert.Equal(t, 0.75, inverted.Normalize(2250))
	assert.Equal(t, 2250, inverted.Denormalize(0.75))
}

func TestMotorCalibrationValidate(t *testing.T) {
	assert.NoError(t, MotorCalibration{ID: 1, RangeMin: 0, RangeMax: 4095}.Validate())
	assert.Error(t, MotorCalibration{ID: 300, RangeMin: 0, RangeMax: 100}.Validate())
	assert.Error(t, MotorCalibration{ID: 1, RangeMin: 100, RangeMax: 100}.Validate())
	assert.Error(t, MotorCalibration{ID: 1, RangeMin: 0, RangeMax: 4096}.Validate())
	assert.Error(t, MotorCalibration{ID: 1, RangeMin: 0, RangeMax: 100, NormMode: 3}.Validate())
}

func TestCalibrationValidate(t *testing.T) {
	r := DefaultJointRegistry()
	cal := DefaultCalibration(r)
	require.NoError(t, cal.Validate(r))
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, cal.IDs())
	assert.Equal(t, NormModeUnit, cal[6].NormMode)

	delete(cal, 6)
	assert.ErrorContains(t, cal.Validate(r), "no calibration for actuator 6")

	cal = DefaultCalibration(r)
	cal[3] = MotorCalibration{ID: 4, RangeMin: 0, RangeMax: 10}
	assert.ErrorContains(t, cal.Validate(r), "carries id 4")
}

func TestSaveAndLoadCalibration(t *testing.T) {
	logger := logging.NewTestLogger(t)
	r := DefaultJointRegistry()
	p := filepath.Join(t.TempDir(), "cal.json")

	cal := DefaultCalibration(r)
	cal[5] = MotorCalibration{ID: 5, RangeMin: 2000, RangeMax: 3100, NormMode: NormModeUnit}
	require.NoError(t, SaveCalibration(p, cal, r))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	var byName map[string]MotorCalibration
	require.NoError(t, json.Unmarshal(data, &byName))
	assert.Contains(t, byName, "joint1")
	assert.Contains(t, byName, "grip_a")
	assert.Contains(t, byName, "grip_b")
	assert.Equal(t, 3100, byName["grip_a"].RangeMax)

	loaded, err := LoadCalibration(p, r, logger)
	require.NoError(t, err)
	assert.Equal(t, cal, loaded)

	t.Run("partial files keep defaults", func(t *testing.T) {
		partial := filepath.Join(t.TempDir(), "partial.json")
		require.NoError(t, os.WriteFile(partial, []byte(`{
			"joint2": {"id": 2, "drive_mode": 1, "range_min": 800, "range_max": 3200},
			"wrist_roll": {"id": 9, "range_min": 0, "range_max": 100}
		}`), 0o600))
		loaded, err := LoadCalibration(partial, r, logger)
		require.NoError(t, err)
		assert.Equal(t, 1, loaded[2].DriveMode)
		assert.Equal(t, DefaultCalibration(r)[1], loaded[1])
		assert.NotContains(t, loaded, 9)
	})

	t.Run("invalid entries fail", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{"joint1": {"id": 1, "range_min": 3000, "range_max": 100}}`), 0o600))
		_, err := LoadCalibration(bad, r, logger)
		assert.ErrorContains(t, err, "calibration validation failed")
	})

	t.Run("ids follow the joint name", func(t *testing.T) {
		named := filepath.Join(t.TempDir(), "named.json")
		require.NoError(t, os.WriteFile(named, []byte(`{
			"joint3": {"range_min": 900, "range_max": 3000},
			"grip_b": {"id": 6, "range_min": 1500, "range_max": 2500, "norm_mode": 1}
		}`), 0o600))
		loaded, err := LoadCalibration(named, r, logger)
		require.NoError(t, err)
		assert.Equal(t, 3, loaded[3].ID)
		assert.Equal(t, 900, loaded[3].RangeMin)
		assert.Equal(t, 2500, loaded[6].RangeMax)
		assert.Equal(t, r.ActuatorIDs(), loaded.IDs())
	})

	t.Run("id filed under the wrong joint fails", func(t *testing.T) {
		stray := filepath.Join(t.TempDir(), "stray.json")
		require.NoError(t, os.WriteFile(stray, []byte(`{"joint1": {"id": 7, "range_min": 800, "range_max": 3200}}`), 0o600))
		_, err := LoadCalibration(stray, r, logger)
		assert.ErrorContains(t, err, "calibration for joint1 has id 7, expected actuator 1")
	})
}
