package metrics

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/mem"
	gopsnet "github.com/shirou/gopsutil/net"
	"github.com/shirou/gopsutil/process"
)

// Collector supplies the metrics snapshot broadcast on the sync tick.
type Collector interface {
	// Current returns the latest metrics. Implementations must be cheap
	// enough to call every tick.
	Current() map[string]interface{}
	// RecordActivity counts a connection event and notes the active user
	// count.
	RecordActivity(event string, activeUsers int)
}

// SystemCollector samples host metrics through gopsutil. Samples are cached
// and refreshed at most once per refresh interval so the broadcast tick
// never waits on the OS. Safe for concurrent use.
type SystemCollector struct {
	mu           sync.Mutex
	refreshEvery time.Duration
	lastRefresh  time.Time
	cached       map[string]interface{}
	counters     map[string]int64
	activeUsers  int

	now    func() time.Time
	sample func() map[string]interface{}
}

// NewSystemCollector creates a collector refreshing system samples at most
// once per refreshEvery.
func NewSystemCollector(refreshEvery time.Duration) *SystemCollector {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}
	return &SystemCollector{
		refreshEvery: refreshEvery,
		counters:     make(map[string]int64),
		now:          time.Now,
		sample:       func() map[string]interface{} { return systemSample(proc) },
	}
}

// Current returns the cached system sample merged with the service counters.
func (c *SystemCollector) Current() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.cached == nil || now.Sub(c.lastRefresh) >= c.refreshEvery {
		c.cached = c.sample()
		c.lastRefresh = now
	}

	out := make(map[string]interface{}, len(c.cached)+len(c.counters)+1)
	for k, v := range c.cached {
		out[k] = v
	}
	for k, v := range c.counters {
		out[k] = v
	}
	out["active_users"] = c.activeUsers
	return out
}

// RecordActivity counts one connection event.
func (c *SystemCollector) RecordActivity(event string, activeUsers int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[event+"_count"]++
	c.activeUsers = activeUsers
}

func systemSample(proc *process.Process) map[string]interface{} {
	m := make(map[string]interface{})

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		m["cpu_usage_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		m["memory_usage_percent"] = vm.UsedPercent
		m["memory_available_mb"] = float64(vm.Available) / (1024 * 1024)
	}
	if du, err := disk.Usage("/"); err == nil {
		m["disk_usage_percent"] = du.UsedPercent
		m["disk_free_gb"] = float64(du.Free) / (1024 * 1024 * 1024)
	}
	if counters, err := gopsnet.IOCounters(false); err == nil && len(counters) > 0 {
		m["network_bytes_sent"] = counters[0].BytesSent
		m["network_bytes_recv"] = counters[0].BytesRecv
	}
	if proc != nil {
		if mi, err := proc.MemoryInfo(); err == nil {
			m["process_rss_mb"] = float64(mi.RSS) / (1024 * 1024)
		}
	}
	return m
}
