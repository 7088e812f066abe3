package advertise

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blebattery/internal/platform"
	"github.com/srg/blebattery/internal/testutils"
)

type outcomes struct {
	mu   sync.Mutex
	list []Outcome
}

func (o *outcomes) record(out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = append(o.list, out)
}

func (o *outcomes) all() []Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Outcome(nil), o.list...)
}

type ControllerTestSuite struct {
	suite.Suite
	adv      *testutils.FakeAdvertiser
	outcomes *outcomes
	ctrl     *Controller
}

func (s *ControllerTestSuite) SetupTest() {
	s.adv = testutils.NewFakeAdvertiser()
	s.outcomes = &outcomes{}
	s.ctrl = NewController(s.adv, s.outcomes.record, testutils.QuietLogger())
}

func TestControllerTestSuite(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}

func (s *ControllerTestSuite) TestStart_UsesFixedConfiguration() {
	s.ctrl.Start(ble.UUID16(0x180F), "Battery")

	starts := s.adv.Starts()
	s.Require().Len(starts, 1)

	settings := starts[0].Settings
	s.True(settings.Connectable)
	s.Equal(platform.AdvertiseModeBalanced, settings.Mode)
	s.Equal(time.Duration(0), settings.Timeout)
	s.Equal(platform.TxPowerMedium, settings.TxPower)

	data := starts[0].Data
	s.True(data.IncludeDeviceName)
	s.False(data.IncludeTxPowerLevel)
	s.Equal("Battery", data.DeviceName)
	s.Require().Len(data.ServiceUUIDs, 1)
	s.True(data.ServiceUUIDs[0].Equal(ble.UUID16(0x180F)))
}

func (s *ControllerTestSuite) TestStart_IsAsynchronous() {
	s.ctrl.Start(ble.UUID16(0x180F), "Battery")

	s.False(s.ctrl.Active(), "advertising is not live until the platform confirms it")
	s.True(s.ctrl.Pending())
	s.Empty(s.outcomes.all())

	s.adv.Succeed()

	s.True(s.ctrl.Active())
	s.Require().Len(s.outcomes.all(), 1)
	s.True(s.outcomes.all()[0].Started)
	s.Equal(platform.AdvertiseModeBalanced, s.outcomes.all()[0].Settings.Mode)
}

func (s *ControllerTestSuite) TestStart_Failure() {
	s.ctrl.Start(ble.UUID16(0x180F), "Battery")
	s.adv.Fail(platform.AdvertiseFailedDataTooLarge)

	s.False(s.ctrl.Active())
	s.False(s.ctrl.Pending())
	s.Require().Len(s.outcomes.all(), 1)
	s.False(s.outcomes.all()[0].Started)
	s.Equal(platform.AdvertiseFailedDataTooLarge, s.outcomes.all()[0].Code)
	s.Require().NotNil(s.outcomes.all()[0].Err)
	s.Equal(platform.AdvertiseFailedDataTooLarge, s.outcomes.all()[0].Err.Code)

	// after a failure a new start goes through
	s.ctrl.Start(ble.UUID16(0x180F), "Battery")
	s.Len(s.adv.Starts(), 2)
}

func (s *ControllerTestSuite) TestStart_FailureCarriesCause() {
	cause := errors.New("advertising data exceeds 31 bytes")
	s.ctrl.Start(ble.UUID16(0x180F), "Battery")
	s.adv.FailWith(platform.AdvertiseFailedDataTooLarge, cause)

	s.Require().Len(s.outcomes.all(), 1)
	failure := s.outcomes.all()[0].Err
	s.Require().NotNil(failure)
	s.ErrorIs(failure, cause)
	s.Equal("advertise failed: data too large (1): advertising data exceeds 31 bytes", failure.Error())
}

func (s *ControllerTestSuite) TestStart_Twice() {
	s.ctrl.Start(ble.UUID16(0x180F), "Battery")
	s.ctrl.Start(ble.UUID16(0x180F), "Battery")

	s.Len(s.adv.Starts(), 1)
}

func (s *ControllerTestSuite) TestStop_WithoutStart() {
	s.NotPanics(s.ctrl.Stop)
	s.Zero(s.adv.StopCount())
}

func (s *ControllerTestSuite) TestStop_StopsPlatformSession() {
	s.ctrl.Start(ble.UUID16(0x180F), "Battery")
	s.adv.Succeed()

	s.ctrl.Stop()
	s.ctrl.Stop()

	s.Equal(1, s.adv.StopCount())
	s.False(s.adv.Advertising())
	s.False(s.ctrl.Active())
}

func (s *ControllerTestSuite) TestLateOutcomeAfterStop_IsDropped() {
	s.ctrl.Start(ble.UUID16(0x180F), "Battery")
	s.ctrl.Stop()

	s.adv.Succeed()

	s.False(s.ctrl.Active())
	s.Empty(s.outcomes.all())
}

func TestIntervalFor(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, IntervalFor(platform.AdvertiseModeLowLatency))
	assert.Equal(t, 250*time.Millisecond, IntervalFor(platform.AdvertiseModeBalanced))
	assert.Equal(t, time.Second, IntervalFor(platform.AdvertiseModeLowPower))
}

func TestIntervalUnits(t *testing.T) {
	assert.Equal(t, uint16(160), IntervalUnits(100*time.Millisecond))
	assert.Equal(t, uint16(400), IntervalUnits(250*time.Millisecond))
	assert.Equal(t, uint16(1600), IntervalUnits(time.Second))
}

func TestNewController_NilOutcome(t *testing.T) {
	adv := testutils.NewFakeAdvertiser()
	adv.AutoSucceed = true
	ctrl := NewController(adv, nil, nil)

	require.NotPanics(t, func() { ctrl.Start(ble.UUID16(0x180F), "Battery") })
	assert.True(t, ctrl.Active())
}
