// airsense-check 现场诊断：列出串口、直接读取一个串口的帧、查看最近落库的数据。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"airsense-acquisition/common/database"
	"airsense-acquisition/internal/config"
	"airsense-acquisition/internal/decoder"
	"airsense-acquisition/internal/discovery"
	"airsense-acquisition/internal/models"
	"airsense-acquisition/internal/reader"
	"airsense-acquisition/internal/repository"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var ports bool
	var readPath string
	var frames int
	var sensor string
	var serial string
	var latest int

	flagSet := pflag.NewFlagSet("airsense-check", pflag.ContinueOnError)
	flagSet.BoolVar(&ports, "ports", false, "list serial ports and whether they are supported")
	flagSet.StringVar(&readPath, "read", "", "open this serial port and print decoded frames")
	flagSet.IntVar(&frames, "frames", 5, "number of frames to read with --read")
	flagSet.StringVar(&sensor, "sensor", "", "show latest stored rows for this sensor (PMS5003 or OPC-R2)")
	flagSet.StringVar(&serial, "serial", "", "restrict --sensor rows to one serial number")
	flagSet.IntVar(&latest, "latest", 10, "number of rows to show with --sensor")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// .env 可选
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !ports && readPath == "" && sensor == "" {
		ports = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if ports {
		if err := printPorts(cfg); err != nil {
			return err
		}
	}
	if readPath != "" {
		if err := readFrames(ctx, cfg, readPath, frames); err != nil {
			return err
		}
	}
	if sensor != "" {
		if err := printLatest(ctx, cfg, sensor, serial, latest); err != nil {
			return err
		}
	}
	return nil
}

func printPorts(cfg *config.Config) error {
	d := discovery.NewDiscoverer(cfg.Acquisition.AllowedDevices, zap.NewNop())
	inventory, err := d.Inventory()
	if err != nil {
		return err
	}

	allowed := make([]string, 0, len(cfg.Acquisition.AllowedDevices))
	for sig := range cfg.Acquisition.AllowedDevices {
		allowed = append(allowed, sig.String())
	}
	sort.Strings(allowed)

	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Serial ports (allowed: %s)\n", strings.Join(allowed, ", "))
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%-20s %-10s %-20s %-24s %-10s\n", "path", "vid:pid", "serial_number", "product", "supported")
	fmt.Println(strings.Repeat("-", 80))

	for _, p := range inventory {
		sig := "-"
		if p.USB {
			sig = p.Signature.String()
		}
		fmt.Printf("%-20s %-10s %-20s %-24s %-10v\n", p.Path, sig, orDash(p.SerialNumber), orDash(p.Product), p.Supported)
	}
	if len(inventory) == 0 {
		fmt.Println("no serial ports found")
	}
	return nil
}

func readFrames(ctx context.Context, cfg *config.Config, path string, frames int) error {
	r := reader.NewDeviceReader(
		models.DeviceDescriptor{Path: path},
		reader.Options{BaudRate: cfg.Acquisition.BaudRate},
		nil,
		decoder.New(models.DefaultSchemaTable(), cfg.Acquisition.TimestampLayout),
		nil,
		zap.NewNop(),
	)
	if err := r.Open(); err != nil {
		return err
	}
	defer r.Close()
	// ctx 取消时关闭端口，打断阻塞的读
	stopClose := context.AfterFunc(ctx, func() { r.Close() })
	defer stopClose()

	fmt.Printf("Reading %d frames from %s at %d baud\n", frames, path, cfg.Acquisition.BaudRate)
	for i := 0; i < frames; i++ {
		rec, err := r.ReadOne()
		if ctx.Err() != nil {
			return nil
		}
		var decodeErr *models.DecodeError
		switch {
		case errors.As(err, &decodeErr):
			fmt.Printf("[%d] dropped: %v\n", i+1, err)
			continue
		case err != nil:
			return err
		}
		fmt.Printf("[%d] %s %s %s %s\n", i+1, rec.Timestamp, rec.Kind, rec.SerialNumber, formatValues(rec.Values))
	}
	return nil
}

func printLatest(ctx context.Context, cfg *config.Config, sensor, serial string, limit int) error {
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close(db)

	repo := repository.NewMeasurementRepository(db, database.DialectFor(cfg.Database.Driver),
		models.DefaultSchemaTable(), cfg.Acquisition.TimestampLayout, zap.NewNop())

	rows, err := repo.Latest(ctx, sensor, serial, limit)
	if err != nil {
		return err
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Latest %s rows\n", sensor)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%-25s %-20s %-8s %-8s %-8s\n", "sample_time", "serial_number", "pm1", "pm2_5", "pm10")
	fmt.Println(strings.Repeat("-", 80))
	for _, m := range rows {
		fmt.Printf("%-25s %-20s %-8d %-8d %-8d\n", m.SampleTime, m.SerialNumber, m.PM1, m.PM25, m.PM10)
	}
	if len(rows) == 0 {
		fmt.Println("no rows")
		return nil
	}

	if serial != "" {
		mean, err := repo.MeanPM25(ctx, sensor, serial, time.Now().Add(-cfg.API.Window), cfg.API.RowLimit)
		if err != nil {
			return err
		}
		if mean.Valid {
			fmt.Printf("\nmean pm2_5 (last %d rows within %s): %.2f\n", cfg.API.RowLimit, cfg.API.Window, mean.Float64)
		} else {
			fmt.Printf("\nmean pm2_5: no rows within %s\n", cfg.API.Window)
		}
	}
	return nil
}

func formatValues(values map[string]float64) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, values[k])
	}
	return strings.Join(parts, " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
