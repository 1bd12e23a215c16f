// Package main provides the flare kernel library CLI.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flare-ml/flare/internal/device"
	"github.com/flare-ml/flare/internal/tensor"
	"github.com/flare-ml/flare/ops"
)

const version = "v0.1.0-dev"

// config is the optional device configuration file.
type config struct {
	Workers  int    `yaml:"workers"`
	MaxGrid  int    `yaml:"max_grid"`
	Half2    *bool  `yaml:"half2"`
	LogLevel string `yaml:"log_level"`
}

func loadConfig(path string) (config, error) {
	var cfg config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c config) newDevice() *device.Device {
	level := slog.LevelInfo
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []device.Option{device.WithLogger(log)}
	if c.Workers > 0 {
		opts = append(opts, device.WithWorkers(c.Workers))
	}
	if c.MaxGrid > 0 {
		opts = append(opts, device.WithMaxGrid(c.MaxGrid))
	}
	if c.Half2 != nil {
		opts = append(opts, device.WithHalf2(*c.Half2))
	}
	return device.New(opts...)
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("flare %s\n", version)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "selftest" {
		fs := flag.NewFlagSet("selftest", flag.ExitOnError)
		configPath := fs.String("config", "", "device configuration file (YAML)")
		n := fs.Int("n", 1<<20, "elements per test buffer")
		_ = fs.Parse(os.Args[2:])

		var cfg config
		if *configPath != "" {
			var err error
			cfg, err = loadConfig(*configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, "flare:", err)
				os.Exit(1)
			}
		}
		if err := selftest(cfg.newDevice(), *n); err != nil {
			fmt.Fprintln(os.Stderr, "flare: selftest:", err)
			os.Exit(1)
		}
		fmt.Println("selftest ok")
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "bench" {
		fs := flag.NewFlagSet("bench", flag.ExitOnError)
		configPath := fs.String("config", "", "device configuration file (YAML)")
		n := fs.Int("n", 1<<24, "elements per buffer")
		iters := fs.Int("iters", 20, "timed iterations per kernel")
		_ = fs.Parse(os.Args[2:])

		var cfg config
		if *configPath != "" {
			var err error
			cfg, err = loadConfig(*configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, "flare:", err)
				os.Exit(1)
			}
		}
		if err := bench(cfg.newDevice(), *n, *iters); err != nil {
			fmt.Fprintln(os.Stderr, "flare: bench:", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println("flare - elementwise activation and quantization kernels")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version              Show version")
	fmt.Println("  selftest [-config f] Run device kernel checks")
	fmt.Println("  bench    [-config f] Time the major kernels")
}

// bench times one forward and one backward kernel per element family.
func bench(d *device.Device, n, iters int) error {
	f32In, err := tensor.New(tensor.Float32, n)
	if err != nil {
		return err
	}
	f32Out, err := tensor.New(tensor.Float32, n)
	if err != nil {
		return err
	}
	src := f32In.AsFloat32()
	for i := range src {
		src[i] = float32(i%2001-1000) / 500
	}

	h16In, err := tensor.New(tensor.Float16, n)
	if err != nil {
		return err
	}
	h16Out, err := tensor.New(tensor.Float16, n)
	if err != nil {
		return err
	}
	bits := h16In.AsUint16()
	for i := range bits {
		bits[i] = uint16(i) & 0x7BFF // finite halfs only
	}

	run := func(name string, launch func() error) error {
		start := time.Now()
		for i := 0; i < iters; i++ {
			if err := launch(); err != nil {
				return err
			}
			if err := d.Synchronize(); err != nil {
				return err
			}
		}
		elapsed := time.Since(start)
		perIter := elapsed / time.Duration(iters)
		fmt.Printf("%-16s %10v/iter  %8.1f Melem/s\n",
			name, perIter.Round(time.Microsecond),
			float64(n)/perIter.Seconds()/1e6)
		return nil
	}

	if err := run("relu f32", func() error { return ops.Relu(d, f32In, f32Out) }); err != nil {
		return err
	}
	if err := run("gelu f32", func() error { return ops.Gelu(d, f32In, f32Out) }); err != nil {
		return err
	}
	if err := run("relu_grad f16", func() error { return ops.ReluGrad(d, h16In, h16In, h16Out) }); err != nil {
		return err
	}
	return run("quant8 e4m3 f32", func() error {
		return ops.Quant8Fwd(d, f32In, f32Out, ops.QuantConfig{W1: 4, W2: 3})
	})
}

// selftest exercises the major kernel families end to end on the device.
func selftest(d *device.Device, n int) error {
	in, err := tensor.New(tensor.Float32, n)
	if err != nil {
		return err
	}
	out, err := tensor.New(tensor.Float32, n)
	if err != nil {
		return err
	}

	src := in.AsFloat32()
	for i := range src {
		src[i] = float32(i-n/2) / 1000
	}

	if err := ops.Relu(d, in, out); err != nil {
		return err
	}
	if err := d.Synchronize(); err != nil {
		return err
	}
	res := out.AsFloat32()
	for i, x := range src {
		want := x
		if x <= 0 {
			want = 0
		}
		if res[i] != want {
			return fmt.Errorf("relu mismatch at %d: got %v, want %v", i, res[i], want)
		}
	}

	if err := ops.Quant8Fwd(d, in, out, ops.QuantConfig{W1: 4, W2: 3}); err != nil {
		return err
	}
	if err := d.Synchronize(); err != nil {
		return err
	}
	for i, y := range out.AsFloat32() {
		if math.IsNaN(float64(y)) {
			return fmt.Errorf("quant8 produced NaN at %d from %v", i, src[i])
		}
	}

	hist, err := tensor.New(tensor.Int32, 1<<8)
	if err != nil {
		return err
	}
	if err := ops.Frequencies(d, in, hist); err != nil {
		return err
	}
	if err := d.Synchronize(); err != nil {
		return err
	}
	var total int64
	for _, c := range hist.AsInt32() {
		total += int64(c)
	}
	if total != int64(n) {
		return fmt.Errorf("histogram total %d, want %d", total, n)
	}
	return nil
}
