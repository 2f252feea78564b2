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

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type apiStat struct {
	calls  int64
	errors int64
}

var (
	errorsEngine     int64
	errorsWebhook    int64
	warnsEngine      int64
	warnsWebhook     int64
	signalsReceived  int64
	signalsRejected  int64
	ordersPlaced     int64
	ordersSimulated  int64
	ordersFailed     int64
	retries          int64
	notifyFailures   int64
	tickerUpdates    int64
	exchangeAPICalls sync.Map // map[string]*apiStat keyed by endpoint
)

type counters struct {
	signalsReceived int64
	signalsRejected int64
	ordersPlaced    int64
	ordersSimulated int64
	ordersFailed    int64
	retries         int64
}

func snapshotCounters() counters {
	return counters{
		signalsReceived: atomic.LoadInt64(&signalsReceived),
		signalsRejected: atomic.LoadInt64(&signalsRejected),
		ordersPlaced:    atomic.LoadInt64(&ordersPlaced),
		ordersSimulated: atomic.LoadInt64(&ordersSimulated),
		ordersFailed:    atomic.LoadInt64(&ordersFailed),
		retries:         atomic.LoadInt64(&retries),
	}
}

func recordWarn(component string) {
	if strings.Contains(component, "engine") || strings.Contains(component, "exchange") {
		atomic.AddInt64(&warnsEngine, 1)
	} else if strings.Contains(component, "webhook") {
		atomic.AddInt64(&warnsWebhook, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "engine") || strings.Contains(component, "exchange") {
		atomic.AddInt64(&errorsEngine, 1)
	} else if strings.Contains(component, "webhook") {
		atomic.AddInt64(&errorsWebhook, 1)
	}
}

func IncrementSignalReceived() { atomic.AddInt64(&signalsReceived, 1) }
func IncrementSignalRejected() { atomic.AddInt64(&signalsRejected, 1) }
func IncrementOrderPlaced()    { atomic.AddInt64(&ordersPlaced, 1) }
func IncrementOrderSimulated() { atomic.AddInt64(&ordersSimulated, 1) }
func IncrementOrderFailed()    { atomic.AddInt64(&ordersFailed, 1) }
func IncrementRetryCount()     { atomic.AddInt64(&retries, 1) }
func IncrementNotifyFailure()  { atomic.AddInt64(&notifyFailures, 1) }
func IncrementTickerUpdate()   { atomic.AddInt64(&tickerUpdates, 1) }

// RecordAPICall tracks one exchange REST call for the periodic report.
func RecordAPICall(endpoint string, failed bool) {
	v, _ := exchangeAPICalls.LoadOrStore(endpoint, &apiStat{})
	st := v.(*apiStat)
	atomic.AddInt64(&st.calls, 1)
	if failed {
		atomic.AddInt64(&st.errors, 1)
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

// StartReport begins periodic logging of system and pipeline statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()

	apiData := map[string]map[string]int64{}
	exchangeAPICalls.Range(func(k, v any) bool {
		name := k.(string)
		st := v.(*apiStat)
		apiData[name] = map[string]int64{
			"calls":  atomic.LoadInt64(&st.calls),
			"errors": atomic.LoadInt64(&st.errors),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	fields := Fields{
		"errors_engine":    atomic.LoadInt64(&errorsEngine),
		"errors_webhook":   atomic.LoadInt64(&errorsWebhook),
		"warns_engine":     atomic.LoadInt64(&warnsEngine),
		"warns_webhook":    atomic.LoadInt64(&warnsWebhook),
		"signals_received": atomic.LoadInt64(&signalsReceived),
		"signals_rejected": atomic.LoadInt64(&signalsRejected),
		"orders_placed":    atomic.LoadInt64(&ordersPlaced),
		"orders_simulated": atomic.LoadInt64(&ordersSimulated),
		"orders_failed":    atomic.LoadInt64(&ordersFailed),
		"retries":          atomic.LoadInt64(&retries),
		"notify_failures":  atomic.LoadInt64(&notifyFailures),
		"ticker_updates":   atomic.LoadInt64(&tickerUpdates),
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
		"memory_mb":        int64(memStats.Used) / 1024 / 1024,
		"api_calls":        apiData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("SignalsReceived"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["signals_received"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("SignalsRejected"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["signals_rejected"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OrdersPlaced"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["orders_placed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OrdersSimulated"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["orders_simulated"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OrdersFailed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["orders_failed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Retries"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["retries"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NotifyFailures"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&notifyFailures)))},
	)

	for name, stats := range apiData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ExchangeAPICalls"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Endpoint"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["calls"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ExchangeAPIErrors"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Endpoint"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["errors"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
