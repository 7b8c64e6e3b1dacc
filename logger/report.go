package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsCollector int64
	errorsExecutor  int64
	warnsCollector  int64
	warnsExecutor   int64
	eventsCollected int64
	actionsEmitted  int64
	eventsDeduped   int64
	claimsSubmitted int64
	hedgeOrders     int64
	channels        sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "collector") {
		atomic.AddInt64(&warnsCollector, 1)
	} else if strings.Contains(component, "executor") {
		atomic.AddInt64(&warnsExecutor, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "collector") {
		atomic.AddInt64(&errorsCollector, 1)
	} else if strings.Contains(component, "executor") {
		atomic.AddInt64(&errorsExecutor, 1)
	}
}

// IncrementEventCollected records one liquidation event delivered by a
// collector together with its payload size.
func IncrementEventCollected(source string, size int) {
	atomic.AddInt64(&eventsCollected, 1)
	recordChannel("events_"+source, size)
}

// IncrementActionEmitted records one claim action produced by a strategy.
func IncrementActionEmitted() {
	atomic.AddInt64(&actionsEmitted, 1)
}

// IncrementEventDeduped records one event dropped as a duplicate delivery.
func IncrementEventDeduped() {
	atomic.AddInt64(&eventsDeduped, 1)
}

// IncrementClaimSubmitted records one claim request sent to the exchange.
func IncrementClaimSubmitted() {
	atomic.AddInt64(&claimsSubmitted, 1)
}

// IncrementHedgeOrder records one hedge market order sent to the exchange.
func IncrementHedgeOrder() {
	atomic.AddInt64(&hedgeOrders, 1)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// PipelineCounters is a point-in-time snapshot of the processing counters,
// used by the periodic report and by the status endpoint.
type PipelineCounters struct {
	EventsCollected int64 `json:"events_collected"`
	EventsDeduped   int64 `json:"events_deduped"`
	ActionsEmitted  int64 `json:"actions_emitted"`
	ClaimsSubmitted int64 `json:"claims_submitted"`
	HedgeOrders     int64 `json:"hedge_orders"`
	ErrorsCollector int64 `json:"errors_collector"`
	ErrorsExecutor  int64 `json:"errors_executor"`
	WarnsCollector  int64 `json:"warns_collector"`
	WarnsExecutor   int64 `json:"warns_executor"`
}

// Counters returns the current pipeline counter values.
func Counters() PipelineCounters {
	return PipelineCounters{
		EventsCollected: atomic.LoadInt64(&eventsCollected),
		EventsDeduped:   atomic.LoadInt64(&eventsDeduped),
		ActionsEmitted:  atomic.LoadInt64(&actionsEmitted),
		ClaimsSubmitted: atomic.LoadInt64(&claimsSubmitted),
		HedgeOrders:     atomic.LoadInt64(&hedgeOrders),
		ErrorsCollector: atomic.LoadInt64(&errorsCollector),
		ErrorsExecutor:  atomic.LoadInt64(&errorsExecutor),
		WarnsCollector:  atomic.LoadInt64(&warnsCollector),
		WarnsExecutor:   atomic.LoadInt64(&warnsExecutor),
	}
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	counters := Counters()

	fields := Fields{
		"errors_collector": counters.ErrorsCollector,
		"errors_executor":  counters.ErrorsExecutor,
		"warns_collector":  counters.WarnsCollector,
		"warns_executor":   counters.WarnsExecutor,
		"events_collected": counters.EventsCollected,
		"events_deduped":   counters.EventsDeduped,
		"actions_emitted":  counters.ActionsEmitted,
		"claims_submitted": counters.ClaimsSubmitted,
		"hedge_orders":     counters.HedgeOrders,
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
		"memory_mb":        int64(memStats.Used) / 1024 / 1024,
		"channels":         channelData,
		"net_bytes_sent":   int64(bytesSent),
		"net_bytes_recv":   int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsCollector"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(counters.ErrorsCollector))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsExecutor"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(counters.ErrorsExecutor))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsCollector"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(counters.WarnsCollector))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsExecutor"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(counters.WarnsExecutor))},
		cwtypes.MetricDatum{MetricName: aws.String("EventsCollected"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(counters.EventsCollected))},
		cwtypes.MetricDatum{MetricName: aws.String("EventsDeduped"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(counters.EventsDeduped))},
		cwtypes.MetricDatum{MetricName: aws.String("ActionsEmitted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(counters.ActionsEmitted))},
		cwtypes.MetricDatum{MetricName: aws.String("ClaimsSubmitted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(counters.ClaimsSubmitted))},
		cwtypes.MetricDatum{MetricName: aws.String("HedgeOrders"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(counters.HedgeOrders))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
