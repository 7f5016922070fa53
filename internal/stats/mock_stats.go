package stats

// MockStatsUpdater is a no-op StatsProvider for tests that records
// nothing. Use it wherever metric side effects are irrelevant.
type MockStatsUpdater struct{}

func (m *MockStatsUpdater) Incr(name string)           {}
func (m *MockStatsUpdater) Decr(name string)           {}
func (m *MockStatsUpdater) RegisterMetric(name string) {}
func (m *MockStatsUpdater) Run()                       {}
