package kv

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/pKV/cmd/util"
	"github.com/ValentinKolb/pKV/lib/write"
	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for pKV servers",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfBatchSize        = 16
	perfSkip             = make([]string, 0)
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "batch-size"
	perfTestCmd.Flags().Int(key, 16, util.WrapString("How many ops one write of the batch test carries"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = viper.GetInt("threads")
	perfBatchSize = max(viper.GetInt("batch-size"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	// keys of concurrent runs must not collide
	perfKeyPrefix = "__perf-" + uuid.NewString()

	return nil
}

// perfCase is one benchmark. setup fills the keys the case reads, op runs one iteration.
type perfCase struct {
	name  string
	setup bool
	op    func(key func(int) string, i int) error
}

func perfCases() []perfCase {
	value := []byte("test")
	largeValue := make([]byte, perfLargeValueSizeKB*1024)

	return []perfCase{
		{name: "put", op: func(key func(int) string, i int) error {
			_, err := rpcStore.Write(write.Put(cf, []byte(key(i)), value))
			return err
		}},
		{name: "put-large", op: func(key func(int) string, i int) error {
			_, err := rpcStore.Write(write.Put(cf, []byte(key(i)), largeValue))
			return err
		}},
		{name: "get", setup: true, op: func(key func(int) string, i int) error {
			_, _, err := rpcStore.Get(cf, []byte(key(i)))
			return err
		}},
		{name: "delete", setup: true, op: func(key func(int) string, i int) error {
			_, err := rpcStore.Write(write.Delete(cf, []byte(key(i))))
			return err
		}},
		{name: "batch", op: func(key func(int) string, i int) error {
			ops := make([]write.Op, perfBatchSize)
			for j := range ops {
				ops[j] = write.Put(cf, []byte(key(i+j)), value)
			}
			_, err := rpcStore.Write(ops...)
			return err
		}},
		{name: "mixed", setup: true, op: func(key func(int) string, i int) error {
			var err error
			k := []byte(key(i))
			switch i % 3 {
			case 0:
				_, err = rpcStore.Write(write.Put(cf, k, value))
			case 1:
				_, _, err = rpcStore.Get(cf, k)
			case 2:
				_, err = rpcStore.Write(write.Delete(cf, k))
			}
			return err
		}},
	}
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for pKV servers")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	for _, pc := range perfCases() {
		if shouldSkip(pc.name) {
			results[pc.name] = testing.BenchmarkResult{}
			printResult(pc.name, testing.BenchmarkResult{})
			continue
		}
		res := testing.Benchmark(func(b *testing.B) {
			getKey, iter := getKeys(pc.name)

			if pc.setup {
				iter(func(k string) {
					if _, err := rpcStore.Write(write.Put(cf, []byte(k), []byte("test"))); err != nil {
						log.Printf("(%s) - error setting key: %v\n", pc.name, err)
					}
				})
			}

			b.Cleanup(func() {
				iter(func(k string) {
					if _, err := rpcStore.Write(write.Delete(cf, []byte(k))); err != nil {
						log.Printf("(%s) - error deleting key: %v\n", pc.name, err)
					}
				})
			})

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := pc.op(getKey, counter); err != nil {
						log.Printf("(%s) - error: %v\n", pc.name, err)
					}
					counter++
				}
			})
		})
		results[pc.name] = res
		printResult(pc.name, res)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount",
		"PartitionID", "CF", "Serializer",
		"Threads", "LargeValueSizeKB", "BatchSize", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.FormatUint(util.GetPartitionID(), 10),
			cf.String(),
			viper.GetString("serializer"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfBatchSize),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
