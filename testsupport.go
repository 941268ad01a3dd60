// ABOUTME: Hooks for driving the collector from tests without a runtime
// ABOUTME: Registers a synthetic thread that owns the collector entry points

package marksweep

// InitMemoryForTests registers a synthetic Runnable thread so safepoints
// and collections can be driven without a runtime start. Pair it with
// DeinitMemoryForTests.
func (m *Memory) InitMemoryForTests() *ThreadData {
	return m.RegisterThread()
}

// DeinitMemoryForTests unregisters the synthetic thread.
func (m *Memory) DeinitMemoryForTests(td *ThreadData) {
	m.UnregisterThread(td)
}
