// Command calcprime sieves or counts primes over a 64-bit range, wrapping
// pkg/calcprime behind a command-line interface.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"calcprime/pkg/calcprime"
)

var (
	flagFrom        string
	flagTo          string
	flagNth         string
	flagTest        string
	flagThreads     int
	flagWheel       string
	flagSegment     string
	flagTile        string
	flagOut         string
	flagFormat      string
	flagPrint       bool
	flagTime        bool
	flagStats       bool
	flagStatsFormat string
	flagML          bool
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "calcprime",
		Short:         "Segmented wheel sieve over 64-bit ranges",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRoot,
	}
	cmd.Flags().StringVar(&flagFrom, "from", "", "range start (decimal, 0x-hex, or 1e9-form)")
	cmd.Flags().StringVar(&flagTo, "to", "", "range end, exclusive")
	cmd.Flags().StringVar(&flagNth, "nth", "", "find the K-th prime in the range instead of counting")
	cmd.Flags().StringVar(&flagTest, "test", "", "Miller-Rabin primality test for N; with --to, also runs the range query")
	cmd.Flags().IntVar(&flagThreads, "threads", 0, "worker thread count (0 = auto)")
	cmd.Flags().StringVar(&flagWheel, "wheel", "30", "wheel modulus: 30, 210, or 1155")
	cmd.Flags().StringVar(&flagSegment, "segment", "", "segment size in bytes (supports k/m/g suffixes)")
	cmd.Flags().StringVar(&flagTile, "tile", "", "tile size in bytes (supports k/m/g suffixes)")
	cmd.Flags().StringVar(&flagOut, "out", "", "output file path (default: stdout when printing)")
	cmd.Flags().StringVar(&flagFormat, "out-format", "text", "output format: text, binary, zstd, zstd+delta")
	cmd.Flags().BoolVar(&flagPrint, "print", false, "print every prime instead of just the count")
	cmd.Flags().BoolVar(&flagTime, "time", false, "print elapsed time")
	cmd.Flags().BoolVar(&flagStats, "stats", false, "print run configuration statistics")
	cmd.Flags().StringVar(&flagStatsFormat, "stats-format", "text", "--stats output format: text or json")
	cmd.Flags().BoolVar(&flagML, "ml", false, "count via Meissel-Lehmer instead of sieving")
	return cmd
}

func runRoot(cmd *cobra.Command, args []string) error {
	if flagTest != "" {
		if err := runTestMode(); err != nil {
			return err
		}
		if flagTo == "" {
			return nil
		}
		// --test and --to were both given: print the standalone primality
		// result above, then fall through into the normal range run below,
		// matching the original CLI (original_source/src/main.cpp:289-301).
	}

	from, to, err := parseRange()
	if err != nil {
		return err
	}

	wheelType, err := parseWheel(flagWheel)
	if err != nil {
		return err
	}

	segmentBytes, err := parseByteSizeOrZero(flagSegment)
	if err != nil {
		return fmt.Errorf("invalid --segment: %w", err)
	}
	tileBytes, err := parseByteSizeOrZero(flagTile)
	if err != nil {
		return fmt.Errorf("invalid --tile: %w", err)
	}

	format, err := parseFormat(flagFormat)
	if err != nil {
		return err
	}

	var nthIndex uint64
	if flagNth != "" {
		nthIndex, err = parseFlexibleUint(flagNth)
		if err != nil {
			return fmt.Errorf("invalid --nth: %w", err)
		}
		if nthIndex == 0 {
			return fmt.Errorf("--nth must be at least 1")
		}
	}

	if flagML && (flagPrint || flagOut != "" || nthIndex != 0) {
		return fmt.Errorf("--ml is incompatible with --print, --out, and --nth")
	}

	opts := calcprime.RangeOptions{
		From:         from,
		To:           to,
		Threads:      uint(flagThreads),
		Wheel:        wheelType,
		SegmentBytes: segmentBytes,
		TileBytes:    tileBytes,
		NthIndex:     nthIndex,
		UseMeissel:   flagML,
		WriteToFile:  flagPrint || flagOut != "",
		OutputFormat: format,
		OutputPath:   flagOut,
	}

	start := time.Now()
	res, err := calcprime.RunRange(context.Background(), opts)
	if err != nil {
		return err
	}
	if res.Status != calcprime.StatusOK {
		if res.Err != nil {
			return res.Err
		}
		return fmt.Errorf("run ended with status %s", res.Status)
	}

	switch {
	case nthIndex != 0:
		if !res.NthFound {
			return fmt.Errorf("could not locate the %d-th prime in [%d, %d)", nthIndex, from, to)
		}
		fmt.Println(res.NthValue)
	case flagPrint:
		// Every prime was already streamed to stdout (or --out) by the
		// writer as it was produced; the count line is for count mode only.
	default:
		fmt.Println(res.TotalCount)
	}

	if flagTime {
		fmt.Printf("Elapsed: %s\n", time.Since(start))
	}
	if flagStats {
		switch strings.ToLower(flagStatsFormat) {
		case "json":
			fmt.Println(res.Stats.String())
		case "text", "":
			fmt.Printf("Threads: %d\n", res.Stats.Threads)
			fmt.Printf("Segment bytes: %d\n", res.Stats.Segment.SegmentBytes)
			fmt.Printf("Tile bytes: %d\n", res.Stats.Segment.TileBytes)
			fmt.Printf("L1d: %d\n", res.Stats.CPU.L1DataBytes)
			fmt.Printf("L2: %d\n", res.Stats.CPU.L2Bytes)
			fmt.Printf("Popcount: %s\n", res.Stats.PopcountStrategy)
		default:
			return fmt.Errorf("invalid --stats-format %q: must be text or json", flagStatsFormat)
		}
	}
	return nil
}

func runTestMode() error {
	n, err := parseFlexibleUint(flagTest)
	if err != nil {
		return fmt.Errorf("invalid --test: %w", err)
	}
	if calcprime.MillerRabinIsPrime(n) {
		fmt.Println("prime")
	} else {
		fmt.Println("composite")
	}
	return nil
}

func parseRange() (uint64, uint64, error) {
	if flagFrom == "" || flagTo == "" {
		return 0, 0, fmt.Errorf("--from and --to are required")
	}
	from, err := parseFlexibleUint(flagFrom)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid --from: %w", err)
	}
	to, err := parseFlexibleUint(flagTo)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid --to: %w", err)
	}
	return from, to, nil
}

func parseWheel(s string) (calcprime.WheelType, error) {
	switch s {
	case "30", "":
		return calcprime.Wheel30, nil
	case "210":
		return calcprime.Wheel210, nil
	case "1155":
		return calcprime.Wheel1155, nil
	default:
		return 0, fmt.Errorf("invalid --wheel %q: must be 30, 210, or 1155", s)
	}
}

func parseFormat(s string) (calcprime.OutputFormat, error) {
	switch strings.ToLower(s) {
	case "text", "":
		return calcprime.FormatText, nil
	case "binary":
		return calcprime.FormatBinary, nil
	case "zstd", "zstd+delta":
		return calcprime.FormatZstdDelta, nil
	default:
		return 0, fmt.Errorf("invalid --out-format %q: must be text, binary, zstd, or zstd+delta", s)
	}
}

// parseFlexibleUint accepts decimal ("123"), 0x-prefixed hex ("0x7b"), and
// integer mantissa-exponent form ("1e9"), matching the original CLI's number
// grammar (which pflag's built-in uint64 parsing does not support).
func parseFlexibleUint(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		return parseMantissaExponent(s, i)
	}
	return strconv.ParseUint(s, 10, 64)
}

func parseMantissaExponent(s string, eIdx int) (uint64, error) {
	mantissaStr := s[:eIdx]
	expStr := s[eIdx+1:]
	if strings.ContainsAny(mantissaStr, ".") {
		return 0, fmt.Errorf("fractional mantissa not supported in %q", s)
	}
	mantissa, err := strconv.ParseUint(mantissaStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid mantissa in %q: %w", s, err)
	}
	exp, err := strconv.Atoi(expStr)
	if err != nil || exp < 0 {
		return 0, fmt.Errorf("invalid exponent in %q", s)
	}
	if exp > 19 {
		return 0, fmt.Errorf("exponent too large in %q", s)
	}
	scale := uint64(1)
	for i := 0; i < exp; i++ {
		if scale > math.MaxUint64/10 {
			return 0, fmt.Errorf("overflow computing %q", s)
		}
		scale *= 10
	}
	if mantissa != 0 && scale > math.MaxUint64/mantissa {
		return 0, fmt.Errorf("overflow computing %q", s)
	}
	return mantissa * scale, nil
}

// parseByteSizeOrZero accepts an empty string (meaning "let the library
// choose"), a plain byte count, or a count with a k/K/m/M/g/G suffix (powers
// of 1024), matching the original's byte-size flag grammar.
func parseByteSizeOrZero(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	s = strings.TrimSpace(s)
	multiplier := uint64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		multiplier = 1 << 10
		s = s[:len(s)-1]
	case 'm', 'M':
		multiplier = 1 << 20
		s = s[:len(s)-1]
	case 'g', 'G':
		multiplier = 1 << 30
		s = s[:len(s)-1]
	}
	value, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if value != 0 && multiplier > math.MaxUint64/value {
		return 0, fmt.Errorf("overflow in byte size %q", s)
	}
	return value * multiplier, nil
}
