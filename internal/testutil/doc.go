// Package testutil provides shared test utilities for botloop.
//
// # Fakes
//
// The fakes satisfy the collaborator interfaces of the control loop
// structurally, so this package does not import internal/loop:
//
//   - FakeClock - manual monotonic clock; Sleep advances time instantly
//   - FakeDevice, FakeSafetyDevice - scripted robot.Device implementations
//   - FakeRecorder - in-memory episode recorder with writer scope counters
//   - FakeDisplay - records shown images
//   - FakePredictor - returns a fixed action
//   - FakeListener - counts Stop calls
//
// # Fixtures
//
//   - SampleFeatures(), SampleSchema(fps) - the FakeDevice schema
//   - SampleObservation() - one observation with a state vector and image
//
// # Environment Helpers
//
//   - SetupTestDir(t) - temp directory with a botloop.yaml
//   - NewBufferLogger() - logger writing into a goroutine-safe buffer
//   - WriteTestFile, MustMarshalJSON, MustUnmarshalJSON
//   - LoopContext(t), ServerContext(t) - contexts bounded by the test deadline
//   - WaitClosed(t, done, timeout) - wait for a Done channel
//
// # Assertions
//
//   - AssertFlagsClear(t, flags) - all event flags false
//   - AssertVector(t, want, tensor) - tensor values equal a float32 slice
//   - AssertEpisodes(t, rec, lengths...) - saved episode frame counts
//
// # Usage
//
//	func TestSomething(t *testing.T) {
//	    clock := testutil.NewFakeClock()
//	    dev := testutil.NewFakeDevice()
//	    // ... run a loop with clock and dev ...
//	    testutil.AssertFlagsClear(t, flags)
//	}
package testutil
