package mp

// spinIterationsPerMicrosecond is an uncalibrated busy-wait rate. Without a
// working PIT/TSC calibration path this is necessarily approximate; AP
// bring-up only uses it to pace INIT/SIPI delivery, where being a bit slow
// costs nothing and the hardware itself enforces the real minimums.
const spinIterationsPerMicrosecond = 1000

// microSleep busy-waits for approximately us microseconds. Overridden in
// tests so check-in polling loops don't actually spin.
var microSleep = func(us uint32) {
	for i := uint64(0); i < uint64(us)*spinIterationsPerMicrosecond; i++ {
		cpuRelax()
	}
}
